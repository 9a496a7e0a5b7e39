// 4over Connectorサービスのエントリポイント。
// 4over Print APIへの署名付きパススルー、ベース価格キャッシュ、
// カタログ同期、マークアップ見積りを提供する。
package main

import (
	"log"
	"os"

	"github.com/catdi/fourover-connector/internal/connector"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server, err := connector.NewServer(port)
	if err != nil {
		log.Fatalf("Connectorサーバーの初期化に失敗: %v", err)
	}

	log.Printf("4over Connectorサービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("Connectorサービスの起動に失敗: %v", err)
	}
}
