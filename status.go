package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/todosync/internal/netmon"
	"github.com/tonimelisma/todosync/internal/sync"
)

// statusReport is the JSON shape of 'todosync status'.
type statusReport struct {
	Summary string      `json:"summary"`
	Server  string      `json:"server"`
	DataDir string      `json:"dataDir"`
	DBSize  int64       `json:"dbSize"`
	Status  sync.Status `json:"status"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queued changes, conflicts, and connectivity",
		Long: `Display the sync state of each collection and the current network
quality. The server is probed once unless --offline is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, cc *CLIContext, a *app) error {
				a.quickProbe(ctx)

				st := a.orch.Status()

				report := statusReport{
					Summary: sync.StatusText(st),
					Server:  cc.Cfg.Server.URL,
					DataDir: cc.Cfg.Storage.DataDir,
					DBSize:  fileSize(cc.Cfg.Storage.DBPath()),
					Status:  st,
				}

				if cc.Flags.JSON {
					return printJSON(os.Stdout, report)
				}

				printStatus(report)

				return nil
			})
		},
	}
}

func printStatus(r statusReport) {
	fmt.Printf("%s\n\n", r.Summary)
	fmt.Printf("Server:    %s\n", r.Server)
	fmt.Printf("Data dir:  %s (%s)\n", r.DataDir, formatSize(r.DBSize))
	fmt.Printf("Network:   %s\n\n", networkText(r.Status.Network))

	rows := make([][]string, len(r.Status.Services))

	for i, s := range r.Status.Services {
		rows[i] = []string{s.Kind, strconv.Itoa(s.Pending), strconv.Itoa(s.Conflicts), formatTime(s.LastSync)}
	}

	printTable(os.Stdout, []string{"KIND", "PENDING", "CONFLICTS", "LAST SYNC"}, rows)
}

func networkText(n netmon.Status) string {
	switch {
	case !n.Online:
		return "offline"
	case n.LastCheck.IsZero():
		return "not checked"
	case !n.ServerReachable:
		return fmt.Sprintf("server unreachable (%d failed %s)",
			n.ConsecutiveFailures, plural(n.ConsecutiveFailures, "probe", "probes"))
	default:
		return fmt.Sprintf("quality %d, %s sync, latency %s",
			n.Quality, n.Strategy, n.Latency.Round(time.Millisecond))
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}

	return info.Size()
}
