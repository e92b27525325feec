// Package inbox は受信箱サービスの内部実装を提供する。
//
// 送信元サービスからのメッセージ取り込み、受信者向けの閲覧API、
// および配信パイプラインの2つのアクティビティ（ストレージ・プランニング）
// のHTTPエンドポイントを提供する。メッセージレコードと配信ジョブは
// SQLiteに、メッセージ本文はファイルシステムに保存される。
//
// 取り込まれたメッセージはpending=1の不可視レコードとして作成され、
// 配信ジョブがキューに積まれる。ディスパッチャーがジョブを取得して
// アクティビティを順に実行し、本文の永続化が完了した時点でpendingが
// 解除されて受信者から見えるようになる。
package inbox
