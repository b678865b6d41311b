// Command ctcpctl is the operator CLI for ctcpd: it talks to the admin
// HTTP API to report server health and inspect live session groups and
// capture jobs.
package main

import (
	"fmt"
	"os"

	"github.com/ctcproto/ctcpd/cmd/ctcpctl/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
