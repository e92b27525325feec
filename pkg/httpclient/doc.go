// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// 各サービスが他のサービスのAPIを呼び出す際に使用する。
// プロファイルの参照、通知レコードの作成、ディスパッチャーからの
// アクティビティ呼び出しなど、サービス間の通信パターンを統一する。
package httpclient
