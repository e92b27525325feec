// ディスパッチャーのエントリポイント。
// 受信箱サービスの配信ジョブをポーリングし、ストレージ・プランニングの
// 2つのアクティビティを順に実行する。インフラ障害で中断したジョブは
// 次回のポーリングで先頭から再実行される。
package main

import (
	"log"
	"os"

	"github.com/nao1215/courier/internal/dispatcher"
	"github.com/nao1215/courier/pkg/httpclient"
)

func main() {
	inboxURL := os.Getenv("INBOX_URL")
	if inboxURL == "" {
		inboxURL = "http://localhost:8092"
	}

	log.Printf("ディスパッチャーを起動します: inbox=%s", inboxURL)
	d := dispatcher.NewDispatcher(httpclient.New(inboxURL))
	d.Start()
}
