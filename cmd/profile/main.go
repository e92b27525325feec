// プロファイルサービスのエントリポイント。
// 受信者の通知プロファイル・ブロックリスト・接触履歴を管理する。
package main

import (
	"log"
	"os"

	"github.com/nao1215/courier/internal/profile"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8091"
	}

	server, err := profile.NewServer(port)
	if err != nil {
		log.Fatalf("プロファイルサーバーの初期化に失敗: %v", err)
	}

	log.Printf("プロファイルサービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("プロファイルサービスの起動に失敗: %v", err)
	}
}
