// Command healthrag is the entry point for the medical-knowledge retrieval
// subsystem. It builds and loads the local vector index, runs searches from
// the command line, and serves the index over a local HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/healthrag/cmd/healthrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
