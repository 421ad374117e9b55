package main

import (
	"os"

	"github.com/privatekey7/evm-farmer-pro/internal/app"
)

func main() {
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
