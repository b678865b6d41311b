package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ctcproto/ctcpd/internal/cliout"
	"github.com/ctcproto/ctcpd/pkg/ctcpclient"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List live session groups and capture jobs",
	Long: `List every session group and capture job currently tracked by a
running ctcpd server.

Examples:
  ctcpctl sessions
  ctcpctl sessions -o json`,
	RunE: runSessions,
}

// sessionGroupList renders []ctcpclient.SessionGroup as a table, one row
// per capture job (a group with no jobs still gets one row).
type sessionGroupList []ctcpclient.SessionGroup

func (sl sessionGroupList) Headers() []string {
	return []string{"SGID", "JOB_DESC", "STATUS", "TABLES"}
}

func (sl sessionGroupList) Rows() [][]string {
	rows := make([][]string, 0, len(sl))
	for _, g := range sl {
		if len(g.Jobs) == 0 {
			rows = append(rows, []string{fmt.Sprintf("%d", g.SGID), "-", "-", "-"})
			continue
		}
		for _, j := range g.Jobs {
			rows = append(rows, []string{
				fmt.Sprintf("%d", g.SGID),
				fmt.Sprintf("%d", j.Desc),
				j.Status,
				strings.Join(j.Tables, ","),
			})
		}
	}
	return rows
}

func runSessions(cmd *cobra.Command, args []string) error {
	groups, err := client().ListSessions()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	fmtOut, err := format()
	if err != nil {
		return err
	}

	if fmtOut == cliout.FormatTable && len(groups) == 0 {
		fmt.Println("No active session groups.")
		return nil
	}
	return cliout.Print(os.Stdout, fmtOut, sessionGroupList(groups))
}
