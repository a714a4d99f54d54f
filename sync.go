package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/todosync/internal/netmon"
	"github.com/tonimelisma/todosync/internal/sync"
)

// errConflictsRemain is returned after a sync that left conflicts for the
// user; main maps it to a distinct exit code.
var errConflictsRemain = errors.New("conflicts need attention")

func newSyncCmd() *cobra.Command {
	var pushOnly bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push queued changes and reconcile with the server",
		Long: `Run one sync round for tasks and projects.

Queued local changes are pushed first, then the server's records are pulled
and reconciled with the local copies. Conflicts that cannot be settled
automatically are kept for 'todosync resolve'. Exits with status 2 when
conflicts remain.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, cc *CLIContext, a *app) error {
				if cc.Flags.Offline {
					return fmt.Errorf("cannot sync with --offline: %w", netmon.ErrNetworkUnavailable)
				}

				if !a.probe(ctx) {
					return fmt.Errorf("%w: %s (%d changes stay queued)",
						netmon.ErrNetworkUnavailable, cc.Cfg.Server.URL, a.orch.Status().Pending)
				}

				if pushOnly {
					return runPush(ctx, cc, a)
				}

				results := a.orch.SyncAll(ctx)

				return reportSync(cc, results)
			})
		},
	}

	cmd.Flags().BoolVar(&pushOnly, "push-only", false, "only push queued changes, skip reconciliation")

	return cmd
}

func runPush(ctx context.Context, cc *CLIContext, a *app) error {
	if err := a.orch.DrainAll(ctx); err != nil {
		return err
	}

	st := a.orch.Status()

	if cc.Flags.JSON {
		return printJSON(os.Stdout, st)
	}

	cc.Statusf("Push finished: %s\n", sync.StatusText(st))

	return nil
}

// reportSync prints one line per service and folds the outcome into the
// command's error.
func reportSync(cc *CLIContext, results []sync.Result) error {
	if cc.Flags.JSON {
		if err := printJSON(os.Stdout, results); err != nil {
			return err
		}
	}

	var (
		errs      []error
		conflicts int
	)

	for _, r := range results {
		conflicts += r.Conflicts

		if !cc.Flags.JSON {
			cc.Statusf("%-9s pushed %d, pulled %d, removed %d, resolved %d, failed %d, conflicts %d (%s)\n",
				r.Kind+":", r.Synced, r.Pulled, r.Removed, r.Resolved, r.Failed+r.Dropped, r.Conflicts,
				r.Duration.Round(time.Millisecond))

			if r.Skipped > 0 {
				cc.Statusf("%-9s skipped %d unreadable server %s, local copies kept\n",
					"", r.Skipped, plural(r.Skipped, "record", "records"))
			}
		}

		if !r.Success {
			errs = append(errs, fmt.Errorf("%s: %w", r.Kind, r.Err()))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	if conflicts > 0 {
		cc.Statusf("%d %s. Run 'todosync conflicts' to review.\n",
			conflicts, plural(conflicts, "conflict needs attention", "conflicts need attention"))

		return errConflictsRemain
	}

	return nil
}
