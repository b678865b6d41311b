package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ctcproto/ctcpd/internal/cliout"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ctcpd server status",
	Long: `Display the readiness status of a running ctcpd server by calling
its admin API's /readyz endpoint.

Examples:
  ctcpctl status
  ctcpctl status --server http://ctcpd.internal:8701
  ctcpctl status -o json`,
	RunE: runStatus,
}

// serverStatus is the table/JSON/YAML projection of a readiness check.
type serverStatus struct {
	Server  string `json:"server" yaml:"server"`
	Status  string `json:"status" yaml:"status"`
	Healthy bool   `json:"healthy" yaml:"healthy"`
	Uptime  string `json:"uptime,omitempty" yaml:"uptime,omitempty"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

func (s serverStatus) Headers() []string {
	return []string{"SERVER", "STATUS", "UPTIME", "ERROR"}
}

func (s serverStatus) Rows() [][]string {
	return [][]string{{s.Server, s.Status, s.Uptime, s.Error}}
}

func runStatus(cmd *cobra.Command, args []string) error {
	health, err := client().Readiness()

	status := serverStatus{Server: serverURL}
	if health != nil {
		status.Status = health.Status
		status.Healthy = health.Status == "healthy"
		status.Uptime = health.Uptime
		status.Error = health.Error
	}
	if err != nil && status.Error == "" {
		status.Status = "unreachable"
		status.Error = err.Error()
	}

	fmtOut, ferr := format()
	if ferr != nil {
		return ferr
	}
	return cliout.Print(os.Stdout, fmtOut, status)
}
