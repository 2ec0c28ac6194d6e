package main

import (
	"log/slog"
	"os"

	"github.com/meko-christian/imap2smtp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}
