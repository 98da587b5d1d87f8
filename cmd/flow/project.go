package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/flowsync/internal/sync/entity"
	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

var projectCmd = &cobra.Command{
	Use:     "project",
	Aliases: []string{"projects"},
	GroupID: "entities",
	Short:   "Create, list, and update projects",
}

var projectAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a project",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			in := schema.Project{Name: strings.Join(args, " ")}
			in.Description, _ = cmd.Flags().GetString("desc")
			in.Color, _ = cmd.Flags().GetString("color")
			in.Icon, _ = cmd.Flags().GetString("icon")
			p, err := a.store.Projects().Create(ctx, in)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(p)
			}
			fmt.Printf("%s Created project %s\n", renderPass("✓"), renderAccent(p.ID))
			return nil
		})
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list [query]",
	Short: "List projects",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			projects := a.store.Projects().List(ctx, firstArg(args))
			if jsonOutput {
				return printJSON(projects)
			}
			printProjects(projects)
			return nil
		})
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a project and its tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			p, err := a.store.Projects().Get(ctx, args[0])
			if err != nil {
				return err
			}
			tasks := a.store.Tasks().List(ctx, entity.TaskFilter{ProjectID: &p.ID})
			if jsonOutput {
				return printJSON(map[string]any{"project": p, "tasks": tasks})
			}
			fmt.Printf("\n%s\n", headerStyle.Render(p.Name))
			if p.Description != "" {
				fmt.Println(p.Description)
			}
			fmt.Println(renderMuted(p.ID))
			fmt.Println()
			printTasks(tasks)
			return nil
		})
	},
}

var projectUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update project fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			patch := schema.ProjectPatch{
				Name:        stringFlag(cmd, "name"),
				Description: stringFlag(cmd, "desc"),
				Color:       stringFlag(cmd, "color"),
				Icon:        stringFlag(cmd, "icon"),
			}
			p, err := a.store.Projects().Update(ctx, args[0], patch)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(p)
			}
			fmt.Printf("%s Updated project %s\n", renderPass("✓"), renderAccent(p.ID))
			return nil
		})
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a project",
	Long:    `Delete a project. Its tasks are kept and detached from the project.`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			return reportDelete(a.store.Projects().Delete(ctx, args[0]))
		})
	},
}

// stringFlag returns nil unless the flag was given.
func stringFlag(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func init() {
	for _, c := range []*cobra.Command{projectAddCmd, projectUpdateCmd} {
		c.Flags().String("desc", "", "Description")
		c.Flags().String("color", "", "Color as #rrggbb")
		c.Flags().String("icon", "", "Icon name")
	}
	projectUpdateCmd.Flags().String("name", "", "Name")

	projectCmd.AddCommand(projectAddCmd, projectListCmd, projectShowCmd, projectUpdateCmd, projectDeleteCmd)
	rootCmd.AddCommand(projectCmd)
}
