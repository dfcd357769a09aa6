package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	_ "time/tzdata"

	"github.com/hitoshi/movienight/internal/app"
)

func main() {
	// .env は開発用。存在しない場合は環境変数のみを使用する
	_ = godotenv.Load()

	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "movienight: %v\n", err)
		os.Exit(1)
	}
}
