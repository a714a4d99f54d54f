package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/todosync/internal/sync"
)

func newConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List unresolved sync conflicts",
		Long: `Display the conflicts kept by sync for a manual decision.

Use 'todosync resolve' to settle them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, cc *CLIContext, a *app) error {
				conflicts, err := a.orch.Conflicts(ctx)
				if err != nil {
					return err
				}

				if cc.Flags.JSON {
					if conflicts == nil {
						conflicts = []sync.Conflict{}
					}

					return printJSON(os.Stdout, conflicts)
				}

				if len(conflicts) == 0 {
					cc.Statusf("No unresolved conflicts.\n")
					return nil
				}

				printConflictsTable(conflicts)

				return nil
			})
		},
	}
}

func printConflictsTable(conflicts []sync.Conflict) {
	rows := make([][]string, len(conflicts))

	for i, c := range conflicts {
		fields := strings.Join(c.Fields, ",")
		if fields == "" {
			fields = "-"
		}

		detected := c.DetectedAt
		rows[i] = []string{
			truncateID(c.ID), c.Kind, c.Type.String(), c.Severity.String(), c.Title, fields, formatTime(&detected),
		}
	}

	printTable(os.Stdout, []string{"ID", "KIND", "TYPE", "SEVERITY", "TITLE", "FIELDS", "DETECTED"}, rows)
}
