// Command proteus is a local inspection and demonstration tool for the
// Proteus session library. It never talks to a network: every subcommand
// operates on local files and in-memory state.
package main

import (
	"fmt"
	"os"

	"proteus/cmd/proteus/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
