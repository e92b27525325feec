// Package profile はプロファイルサービスの内部実装を提供する。
//
// 受信者の通知プロファイル（受信箱・メール・Webhookの各フラグと
// メールアドレス）、送信元サービスごとのブロックチャネル、および
// 送信元サービスと受信者の接触履歴を管理する。配信パイプラインは
// 内部APIを通じてプロファイルを参照し、接触履歴を記録する。
package profile
