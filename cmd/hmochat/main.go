// Command hmochat is the entry point for the health-fund services chatbot.
// It provides a CLI interface (via Cobra) for building the knowledge base,
// chatting in the terminal, and running the HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/hmochat-go/cmd/hmochat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
