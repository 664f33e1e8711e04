// Command voxdesk is the entry point for the voxdesk complaint triage server
// and its maintenance commands.
package main

import (
	"fmt"
	"os"

	"github.com/MrWong99/voxdesk/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "voxdesk: %v\n", err)
		os.Exit(1)
	}
}
