package main

import (
	"context"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/todosync/internal/entity"
)

func newProjectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "projects",
		Aliases: []string{"project", "p"},
		Short:   "Manage projects",
	}

	cmd.AddCommand(newProjectsListCmd())
	cmd.AddCommand(newProjectsAddCmd())
	cmd.AddCommand(newProjectsRmCmd())

	return cmd
}

func newProjectsListCmd() *cobra.Command {
	var archived bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List projects",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, cc *CLIContext, a *app) error {
				projects, err := a.projects.GetAll(ctx)
				if err != nil {
					return err
				}

				if !archived {
					projects = slices.DeleteFunc(projects, func(p entity.Project) bool { return p.Archived })
				}

				slices.SortStableFunc(projects, func(x, y entity.Project) int {
					return strings.Compare(strings.ToLower(x.Title), strings.ToLower(y.Title))
				})

				if cc.Flags.JSON {
					if projects == nil {
						projects = []entity.Project{}
					}

					return printJSON(os.Stdout, projects)
				}

				if len(projects) == 0 {
					cc.Statusf("No projects.\n")
					return nil
				}

				tasks, err := a.tasks.GetAll(ctx)
				if err != nil {
					return err
				}

				open := make(map[string]int)

				for _, t := range tasks {
					if !t.Completed && t.ProjectID != "" {
						open[t.ProjectID]++
					}
				}

				rows := make([][]string, len(projects))
				for i, p := range projects {
					color := p.Color
					if color == "" {
						color = "-"
					}

					rows[i] = []string{truncateID(p.ID), p.Title, color, strconv.Itoa(open[p.ID]), syncState(p.Meta)}
				}

				printTable(os.Stdout, []string{"ID", "TITLE", "COLOR", "OPEN", "SYNC"}, rows)

				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&archived, "archived", false, "include archived projects")

	return cmd
}

func newProjectsAddCmd() *cobra.Command {
	var description, color string

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, cc *CLIContext, a *app) error {
				a.quickProbe(ctx)

				created, err := a.projects.Create(ctx, entity.Project{
					Title:       strings.Join(args, " "),
					Description: description,
					Color:       color,
				})
				if err != nil {
					return err
				}

				return reportChange(ctx, cc, a.projects, "Created", created)
			})
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "description")
	cmd.Flags().StringVar(&color, "color", "", "display color, e.g. #3366ff")

	return cmd
}

func newProjectsRmCmd() *cobra.Command {
	var archive bool

	cmd := &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete or archive a project",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, cc *CLIContext, a *app) error {
				projects, err := a.projects.GetAll(ctx)
				if err != nil {
					return err
				}

				id, err := findID(projects, args[0])
				if err != nil {
					return err
				}

				a.quickProbe(ctx)

				if archive {
					updated, err := a.projects.Update(ctx, id, entity.Fields{entity.FieldArchived: true})
					if err != nil {
						return err
					}

					return reportChange(ctx, cc, a.projects, "Archived", updated)
				}

				if err := a.projects.Delete(ctx, id); err != nil {
					return err
				}

				a.projects.Wait()
				cc.Statusf("Deleted project %s%s\n", truncateID(id), pendingSuffix(a.projects.Stats().Pending))

				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&archive, "archive", false, "archive instead of deleting")

	return cmd
}
