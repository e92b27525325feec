// Package notification は通知サービスの内部実装を提供する。
//
// 配信パイプラインのプランニングアクティビティが作成する通知レコードを
// 受信者IDをキーとして保存し、受信者向けの一覧・未読管理APIを提供する。
// 通知レコードは有効化されたチャネルと配信先の対応を持ち、下流の
// チャネル別送信サービスの処理対象となる。
package notification
