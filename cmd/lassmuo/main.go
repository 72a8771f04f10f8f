package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/app"
)

func main() {
	// A missing .env is normal; the environment is read directly.
	_ = godotenv.Load()

	if err := app.Main(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "lassmuo:", err)
		os.Exit(1)
	}
}
