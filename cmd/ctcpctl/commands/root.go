// Package commands implements ctcpctl's CLI, following the teacher's
// cmd/dfsctl/commands package: a package-level rootCmd, persistent
// --server/--output flags, and build-time version vars set by main.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ctcproto/ctcpd/internal/cliout"
	"github.com/ctcproto/ctcpd/pkg/ctcpclient"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	serverURL    string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "ctcpctl",
	Short: "ctcpd operator CLI",
	Long: `ctcpctl is the command-line client for observing a running ctcpd
server: health, and live session group / capture job state, via ctcpd's
admin HTTP API.

Use "ctcpctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command, for tests.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8701", "ctcpd admin API base URL")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table|json|yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// client builds a ctcpclient.Client against the --server flag.
func client() *ctcpclient.Client {
	return ctcpclient.New(serverURL)
}

// format parses the --output flag.
func format() (cliout.Format, error) {
	return cliout.ParseFormat(outputFormat)
}

// Exit prints an error to stderr and exits with code 1.
func Exit(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
	os.Exit(1)
}
