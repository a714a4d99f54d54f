package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/todosync/internal/entity"
	"github.com/tonimelisma/todosync/internal/sync"
)

// taskFlags are the editable task fields shared by add and edit.
type taskFlags struct {
	title       string
	description string
	priority    int
	estimate    int
	due         string
	project     string
}

func (f *taskFlags) bind(cmd *cobra.Command, withTitle bool) {
	if withTitle {
		cmd.Flags().StringVar(&f.title, "title", "", "new title")
	}

	cmd.Flags().StringVarP(&f.description, "description", "d", "", "description")
	cmd.Flags().IntVarP(&f.priority, "priority", "p", 0, "priority 1 (highest) to 5; 0 clears")
	cmd.Flags().IntVar(&f.estimate, "estimate", 0, "estimated minutes; 0 clears")
	cmd.Flags().StringVar(&f.due, "due", "", "due date (YYYY-MM-DD or RFC 3339); empty clears")
	cmd.Flags().StringVar(&f.project, "project", "", "project id or prefix; empty clears")
}

// patch collects the flags the user actually set.
func (f *taskFlags) patch(ctx context.Context, cmd *cobra.Command, a *app) (entity.Fields, error) {
	p := entity.Fields{}
	changed := cmd.Flags().Changed

	if changed("title") {
		p[entity.FieldTitle] = f.title
	}

	if changed("description") {
		p[entity.FieldDescription] = f.description
	}

	if changed("priority") {
		p[entity.FieldPriority] = optionalInt(f.priority)
	}

	if changed("estimate") {
		p[entity.FieldEstimatedMinutes] = optionalInt(f.estimate)
	}

	if changed("due") {
		due, err := parseDue(f.due)
		if err != nil {
			return nil, err
		}

		p[entity.FieldDueDate] = due
	}

	if changed("project") {
		id := ""

		if f.project != "" {
			projects, err := a.projects.GetAll(ctx)
			if err != nil {
				return nil, err
			}

			if id, err = findID(projects, f.project); err != nil {
				return nil, err
			}
		}

		p[entity.FieldProjectID] = id
	}

	return p, nil
}

func optionalInt(n int) any {
	if n == 0 {
		return nil
	}

	return n
}

// parseDue accepts a calendar date (local midnight) or an RFC 3339 time and
// returns the field value, nil for "".
func parseDue(s string) (any, error) {
	if s == "" {
		return nil, nil
	}

	if t, err := time.ParseInLocation(time.DateOnly, s, time.Local); err == nil {
		return t.UTC().Format(time.RFC3339Nano), nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid due date %q: want YYYY-MM-DD or RFC 3339", s)
	}

	return t.UTC().Format(time.RFC3339Nano), nil
}

// findID resolves an id or unique id prefix against items.
func findID[T entity.Entity[T]](items []T, ref string) (string, error) {
	var matches []string

	for _, it := range items {
		id := it.SyncMeta().ID
		if id == ref {
			return id, nil
		}

		if strings.HasPrefix(id, ref) {
			matches = append(matches, id)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %q", sync.ErrNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("id prefix %q is ambiguous (%d matches)", ref, len(matches))
	}
}

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tasks",
		Aliases: []string{"task", "t"},
		Short:   "Manage tasks",
	}

	cmd.AddCommand(newTasksListCmd())
	cmd.AddCommand(newTasksAddCmd())
	cmd.AddCommand(newTasksEditCmd())
	cmd.AddCommand(newTasksDoneCmd())
	cmd.AddCommand(newTasksRmCmd())

	return cmd
}

func newTasksListCmd() *cobra.Command {
	var (
		all     bool
		project string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, cc *CLIContext, a *app) error {
				tasks, err := a.tasks.GetAll(ctx)
				if err != nil {
					return err
				}

				if project != "" {
					projects, err := a.projects.GetAll(ctx)
					if err != nil {
						return err
					}

					pid, err := findID(projects, project)
					if err != nil {
						return err
					}

					tasks = slices.DeleteFunc(tasks, func(t entity.Task) bool { return t.ProjectID != pid })
				}

				if !all {
					tasks = slices.DeleteFunc(tasks, func(t entity.Task) bool { return t.Completed })
				}

				sortTasks(tasks)

				if cc.Flags.JSON {
					if tasks == nil {
						tasks = []entity.Task{}
					}

					return printJSON(os.Stdout, tasks)
				}

				if len(tasks) == 0 {
					cc.Statusf("No tasks.\n")
					return nil
				}

				printTasksTable(tasks)

				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "include completed tasks")
	cmd.Flags().StringVar(&project, "project", "", "only tasks in this project")

	return cmd
}

// sortTasks orders open tasks first, then by priority (unset last), then by
// creation time.
func sortTasks(tasks []entity.Task) {
	prio := func(t entity.Task) int {
		if t.Priority == nil {
			return entity.MaxPriority + 1
		}

		return *t.Priority
	}

	slices.SortStableFunc(tasks, func(a, b entity.Task) int {
		if a.Completed != b.Completed {
			if a.Completed {
				return 1
			}

			return -1
		}

		if d := prio(a) - prio(b); d != 0 {
			return d
		}

		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

func printTasksTable(tasks []entity.Task) {
	rows := make([][]string, len(tasks))

	for i, t := range tasks {
		done := " "
		if t.Completed {
			done = "x"
		}

		pri := "-"
		if t.Priority != nil {
			pri = strconv.Itoa(*t.Priority)
		}

		project := "-"
		if t.ProjectID != "" {
			project = truncateID(t.ProjectID)
		}

		rows[i] = []string{truncateID(t.ID), "[" + done + "]", t.Title, pri, formatDate(t.DueDate), project, syncState(t.Meta)}
	}

	printTable(os.Stdout, []string{"ID", "DONE", "TITLE", "PRI", "DUE", "PROJECT", "SYNC"}, rows)
}

// syncState summarizes a record's sync metadata for tables.
func syncState(m entity.Meta) string {
	switch {
	case m.SyncError != "":
		return "error"
	case m.Synced:
		return "synced"
	default:
		return "pending"
	}
}

func newTasksAddCmd() *cobra.Command {
	var f taskFlags

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, cc *CLIContext, a *app) error {
				a.quickProbe(ctx)

				p, err := f.patch(ctx, cmd, a)
				if err != nil {
					return err
				}

				t := entity.Task{Title: strings.Join(args, " ")}.WithFields(p)

				created, err := a.tasks.Create(ctx, t)
				if err != nil {
					return err
				}

				return reportChange(ctx, cc, a.tasks, "Created", created)
			})
		},
	}

	f.bind(cmd, false)

	return cmd
}

func newTasksEditCmd() *cobra.Command {
	var f taskFlags

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a task's fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, cc *CLIContext, a *app) error {
				id, err := lookupTask(ctx, a, args[0])
				if err != nil {
					return err
				}

				p, err := f.patch(ctx, cmd, a)
				if err != nil {
					return err
				}

				if len(p) == 0 {
					return fmt.Errorf("nothing to change: pass at least one field flag")
				}

				a.quickProbe(ctx)

				updated, err := a.tasks.Update(ctx, id, p)
				if err != nil {
					return err
				}

				return reportChange(ctx, cc, a.tasks, "Updated", updated)
			})
		},
	}

	f.bind(cmd, true)

	return cmd
}

func newTasksDoneCmd() *cobra.Command {
	var undo bool

	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, cc *CLIContext, a *app) error {
				id, err := lookupTask(ctx, a, args[0])
				if err != nil {
					return err
				}

				a.quickProbe(ctx)

				// A nil completedAt is stamped by the service.
				updated, err := a.tasks.Update(ctx, id, entity.Fields{
					entity.FieldCompleted:   !undo,
					entity.FieldCompletedAt: nil,
				})
				if err != nil {
					return err
				}

				verb := "Completed"
				if undo {
					verb = "Reopened"
				}

				return reportChange(ctx, cc, a.tasks, verb, updated)
			})
		},
	}

	cmd.Flags().BoolVar(&undo, "undo", false, "mark the task open again")

	return cmd
}

func newTasksRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, cc *CLIContext, a *app) error {
				id, err := lookupTask(ctx, a, args[0])
				if err != nil {
					return err
				}

				a.quickProbe(ctx)

				if err := a.tasks.Delete(ctx, id); err != nil {
					return err
				}

				a.tasks.Wait()
				cc.Statusf("Deleted task %s%s\n", truncateID(id), pendingSuffix(a.tasks.Stats().Pending))

				return nil
			})
		},
	}
}

func lookupTask(ctx context.Context, a *app, ref string) (string, error) {
	tasks, err := a.tasks.GetAll(ctx)
	if err != nil {
		return "", err
	}

	return findID(tasks, ref)
}

// reportChange waits for any immediate push, then prints v (JSON) or a
// one-line confirmation.
func reportChange[T entity.Entity[T]](ctx context.Context, cc *CLIContext, svc *sync.Service[T], verb string, v T) error {
	svc.Wait()

	if fresh, err := svc.GetByID(ctx, v.SyncMeta().ID); err == nil {
		v = fresh
	}

	if cc.Flags.JSON {
		return printJSON(os.Stdout, v)
	}

	cc.Statusf("%s %s %s%s\n", verb, strings.TrimSuffix(svc.Kind(), "s"), truncateID(v.SyncMeta().ID),
		pendingSuffix(svc.Stats().Pending))

	return nil
}

func pendingSuffix(pending int) string {
	if pending == 0 {
		return ""
	}

	return fmt.Sprintf(" (%d %s waiting to sync)", pending, plural(pending, "change", "changes"))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}

	return many
}

// withApp opens the sync core for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, cc *CLIContext, a *app) error) (err error) {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(ctx, cc, a)
}
