// Package main is the entry point for the carrier tracking sync service.
package main

import (
	"os"

	"github.com/99minutos/tracking-sync/cmd/tracker/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
