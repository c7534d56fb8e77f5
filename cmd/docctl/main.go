package main

// docctl talks to a running API:
//   go run ./cmd/docctl upload --guest me ./invoice.pdf
//   go run ./cmd/docctl poll --guest me <documentId>

import (
	"os"

	"github.com/fatih/color"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
}
