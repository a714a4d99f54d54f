package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/todosync/internal/conflict"
	"github.com/tonimelisma/todosync/internal/sync"
)

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [conflict-id]",
		Short: "Resolve sync conflicts",
		Long: `Resolve conflicts kept by sync with a chosen strategy.

Strategies:
  --keep-local   Keep the local copy and push it to the server
  --keep-remote  Replace the local copy with the server's
  --merge        Combine both, newer fields winning

Use --all to merge every pending conflict. Conflict IDs may be shortened to
any unique prefix.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runResolve,
	}

	cmd.Flags().Bool("keep-local", false, "keep the local copy")
	cmd.Flags().Bool("keep-remote", false, "keep the server copy")
	cmd.Flags().Bool("merge", false, "merge both copies")
	cmd.Flags().Bool("all", false, "merge all pending conflicts")

	cmd.MarkFlagsMutuallyExclusive("keep-local", "keep-remote", "merge")
	cmd.MarkFlagsMutuallyExclusive("all", "keep-local")
	cmd.MarkFlagsMutuallyExclusive("all", "keep-remote")

	return cmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	all := cmd.Flags().Changed("all")

	if all && len(args) > 0 {
		return fmt.Errorf("--all and a specific conflict ID are mutually exclusive")
	}

	var choice conflict.Strategy

	if !all {
		if len(args) == 0 {
			return fmt.Errorf("specify a conflict ID, or use --all to merge all conflicts")
		}

		var err error
		if choice, err = resolveChoice(cmd); err != nil {
			return err
		}
	}

	return withApp(cmd, func(ctx context.Context, cc *CLIContext, a *app) error {
		a.quickProbe(ctx)

		if all {
			return resolveAll(ctx, cc, a)
		}

		return resolveOne(ctx, cc, a, args[0], choice)
	})
}

// resolveChoice maps the strategy flags to a resolver choice.
func resolveChoice(cmd *cobra.Command) (conflict.Strategy, error) {
	switch {
	case cmd.Flags().Changed("keep-local"):
		return conflict.StrategyUseLocal, nil
	case cmd.Flags().Changed("keep-remote"):
		return conflict.StrategyUseRemote, nil
	case cmd.Flags().Changed("merge"):
		return conflict.StrategyMerge, nil
	default:
		return 0, errors.New("specify a resolution strategy: --keep-local, --keep-remote, or --merge")
	}
}

func resolveOne(ctx context.Context, cc *CLIContext, a *app, ref string, choice conflict.Strategy) error {
	conflicts, err := a.orch.Conflicts(ctx)
	if err != nil {
		return err
	}

	target, err := findConflict(conflicts, ref)
	if err != nil {
		return err
	}

	if err := a.orch.ResolveManually(ctx, target.ID, choice); err != nil {
		return err
	}

	a.tasks.Wait()
	a.projects.Wait()

	cc.Statusf("Resolved %s %q (%s) with %s%s\n",
		strings.TrimSuffix(target.Kind, "s"), target.Title, truncateID(target.ID), choice,
		pendingSuffix(a.orch.Status().Pending))

	return nil
}

func resolveAll(ctx context.Context, cc *CLIContext, a *app) error {
	n, err := a.orch.ResolveAll(ctx)

	a.tasks.Wait()
	a.projects.Wait()

	if n == 0 && err == nil {
		cc.Statusf("No unresolved conflicts.\n")
		return nil
	}

	cc.Statusf("Merged %d %s%s\n", n, plural(n, "conflict", "conflicts"), pendingSuffix(a.orch.Status().Pending))

	return err
}

// findConflict matches a conflict by ID or unique ID prefix.
func findConflict(conflicts []sync.Conflict, ref string) (sync.Conflict, error) {
	var matches []sync.Conflict

	for _, c := range conflicts {
		if c.ID == ref {
			return c, nil
		}

		if strings.HasPrefix(c.ID, ref) {
			matches = append(matches, c)
		}
	}

	switch len(matches) {
	case 0:
		return sync.Conflict{}, fmt.Errorf("%w: conflict %q", sync.ErrNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return sync.Conflict{}, fmt.Errorf("conflict ID prefix %q is ambiguous (%d matches)", ref, len(matches))
	}
}
