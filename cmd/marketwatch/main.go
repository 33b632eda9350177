// marketwatch はゲーム内相場の監視リストを定期更新し、
// 買い時の検出と通知を行うサーバー。
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/hitoshi/marketwatch/internal/app"
)

func main() {
	// .envがあれば読み込む。本番では環境変数を直接設定する
	_ = godotenv.Load()

	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
