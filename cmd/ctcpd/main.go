// Command ctcpd is the CTCP capture server: it accepts client connections
// speaking the CTCP wire protocol, tracks session groups and capture jobs,
// and streams captured change data back to clients.
package main

import (
	"fmt"
	"os"

	"github.com/ctcproto/ctcpd/cmd/ctcpd/commands"
)

// Build-time variables injected via -ldflags.
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
