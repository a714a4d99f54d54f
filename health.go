package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/todosync/internal/sync"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check local storage and server reachability",
		Long: `Write a scratch record to local storage and call the server's health
endpoint for each collection. Exits non-zero if any check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, cc *CLIContext, a *app) error {
				a.probe(ctx)

				checks := a.orch.Health(ctx)

				if cc.Flags.JSON {
					if err := printJSON(os.Stdout, checks); err != nil {
						return err
					}
				} else {
					printHealthTable(checks)
				}

				return unhealthy(checks)
			})
		},
	}
}

func printHealthTable(checks []sync.Health) {
	rows := make([][]string, len(checks))

	for i, h := range checks {
		errText := h.LocalError
		if h.RemoteError != "" {
			if errText != "" {
				errText += "; "
			}

			errText += h.RemoteError
		}

		if errText == "" {
			errText = "-"
		}

		rows[i] = []string{h.Kind, okText(h.Local), okText(h.Remote), errText}
	}

	printTable(os.Stdout, []string{"KIND", "LOCAL", "REMOTE", "ERROR"}, rows)
}

func okText(ok bool) string {
	if ok {
		return "ok"
	}

	return "FAIL"
}

// unhealthy returns an error naming the collections with a failed check.
func unhealthy(checks []sync.Health) error {
	var bad []string

	for _, h := range checks {
		if !h.Healthy() {
			bad = append(bad, h.Kind)
		}
	}

	if len(bad) == 0 {
		return nil
	}

	return fmt.Errorf("health check failed for %v", bad)
}
