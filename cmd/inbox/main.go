// 受信箱サービスのエントリポイント。
// メッセージの取り込み・閲覧APIと配信パイプラインのアクティビティを提供する。
package main

import (
	"log"
	"os"

	"github.com/nao1215/courier/internal/inbox"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8092"
	}

	server, err := inbox.NewServer(port)
	if err != nil {
		log.Fatalf("受信箱サーバーの初期化に失敗: %v", err)
	}

	log.Printf("受信箱サービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("受信箱サービスの起動に失敗: %v", err)
	}
}
