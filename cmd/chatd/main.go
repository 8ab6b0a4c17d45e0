// Command chatd is the entry point for the chat orchestration daemon.
// It provides a CLI (via Cobra) for serving the HTTP API, ingesting
// knowledge documents, and inspecting the index.
package main

import (
	"fmt"
	"os"

	"github.com/atelier-ai/chatd/cmd/chatd/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
