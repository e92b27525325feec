// 通知サービスのエントリポイント。
// 配信パイプラインが作成する通知レコードを保存し、受信者向けの
// 一覧・未読管理APIを提供する。
package main

import (
	"log"
	"os"

	"github.com/nao1215/courier/internal/notification"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8093"
	}

	server, err := notification.NewServer(port)
	if err != nil {
		log.Fatalf("通知サーバーの初期化に失敗: %v", err)
	}

	log.Printf("通知サービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("通知サービスの起動に失敗: %v", err)
	}
}
