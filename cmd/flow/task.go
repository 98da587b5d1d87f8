package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/flowsync/internal/sync/entity"
	"github.com/mschirtzinger/flowsync/internal/sync/reminder"
	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	Aliases: []string{"tasks"},
	GroupID: "entities",
	Short:   "Create, list, and update tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task",
	Long: `Create a task.

--due and --remind accept RFC 3339 timestamps or natural language such as
"tomorrow at 9am" or "in 2 hours".`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			now := time.Now()
			in := schema.Task{Title: strings.Join(args, " ")}
			in.Description, _ = cmd.Flags().GetString("desc")
			in.Important, _ = cmd.Flags().GetBool("important")
			in.MyDay, _ = cmd.Flags().GetBool("my-day")
			in.Tags, _ = cmd.Flags().GetStringSlice("tag")
			repeat, _ := cmd.Flags().GetString("repeat")
			in.Repeat = schema.Repeat(repeat)
			if p, _ := cmd.Flags().GetString("project"); p != "" {
				in.ProjectID = &p
			}
			var err error
			if in.DueDate, err = timeFlag(cmd, "due", now); err != nil {
				return err
			}
			if in.Reminder, err = timeFlag(cmd, "remind", now); err != nil {
				return err
			}

			t, err := a.store.Tasks().Create(ctx, in)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(t)
			}
			fmt.Printf("%s Created task %s\n", renderPass("✓"), renderAccent(t.ID))
			return nil
		})
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list [query]",
	Short: "List tasks",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			var f entity.TaskFilter
			if len(args) == 1 {
				f.Query = args[0]
			}
			if cmd.Flags().Changed("status") {
				s, _ := cmd.Flags().GetString("status")
				status := schema.Status(s)
				if !status.Valid() {
					return fmt.Errorf("unknown status %q", s)
				}
				f.Status = &status
			}
			if cmd.Flags().Changed("important") {
				v, _ := cmd.Flags().GetBool("important")
				f.Important = &v
			}
			if cmd.Flags().Changed("my-day") {
				v, _ := cmd.Flags().GetBool("my-day")
				f.MyDay = &v
			}
			if cmd.Flags().Changed("project") {
				p, _ := cmd.Flags().GetString("project")
				f.ProjectID = &p
			}
			f.Tag, _ = cmd.Flags().GetString("tag")

			tasks := a.store.Tasks().List(ctx, f)
			if jsonOutput {
				return printJSON(tasks)
			}
			printTasks(tasks)
			return nil
		})
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			t, err := a.store.Tasks().Get(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(t)
			}
			printTask(t)
			return nil
		})
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update task fields",
	Long: `Update task fields. Only the flags given are changed.

Setting every sub-task done completes the task unless --status is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			patch, err := taskPatchFromFlags(cmd, time.Now())
			if err != nil {
				return err
			}
			t, err := a.store.Tasks().Update(ctx, args[0], patch)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(t)
			}
			fmt.Printf("%s Updated task %s\n", renderPass("✓"), renderAccent(t.ID))
			return nil
		})
	},
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Complete a task",
	Long: `Complete a task. A repeating task with a due date is rescheduled to its next
occurrence and left pending.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			t, err := a.store.Tasks().Complete(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(t)
			}
			if t.IsCompleted() {
				fmt.Printf("%s Completed %s\n", renderPass("✓"), t.Title)
			} else {
				fmt.Printf("%s Rescheduled %s to %s\n", renderPass("↻"), t.Title, formatTime(t.DueDate))
			}
			return nil
		})
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a task",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			return reportDelete(a.store.Tasks().Delete(ctx, args[0]))
		})
	},
}

var subtaskCmd = &cobra.Command{
	Use:   "subtask",
	Short: "Manage a task's sub-tasks",
}

var subtaskAddCmd = &cobra.Command{
	Use:   "add <task-id> <title>",
	Short: "Add a sub-task",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			t, err := a.store.Tasks().AddSubTask(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(t)
			}
			printTask(t)
			return nil
		})
	},
}

var subtaskToggleCmd = &cobra.Command{
	Use:   "toggle <task-id> <subtask-id>",
	Short: "Flip a sub-task between done and not done",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			t, err := a.store.Tasks().ToggleSubTask(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(t)
			}
			printTask(t)
			return nil
		})
	},
}

// timeFlag parses a --due/--remind style flag. Unset flags return nil.
func timeFlag(cmd *cobra.Command, name string, now time.Time) (*time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return nil, nil
	}
	at, err := reminder.ParseReminder(raw, now)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &at, nil
}

func taskPatchFromFlags(cmd *cobra.Command, now time.Time) (schema.TaskPatch, error) {
	var p schema.TaskPatch
	flags := cmd.Flags()

	if flags.Changed("title") {
		v, _ := flags.GetString("title")
		p.Title = &v
	}
	if flags.Changed("desc") {
		v, _ := flags.GetString("desc")
		p.Description = &v
	}
	if flags.Changed("notes") {
		v, _ := flags.GetString("notes")
		p.Notes = &v
	}
	if flags.Changed("status") {
		v, _ := flags.GetString("status")
		s := schema.Status(v)
		p.Status = &s
	}
	if flags.Changed("important") {
		v, _ := flags.GetBool("important")
		p.Important = &v
	}
	if flags.Changed("my-day") {
		v, _ := flags.GetBool("my-day")
		p.MyDay = &v
	}
	if flags.Changed("project") {
		v, _ := flags.GetString("project")
		if v == "" {
			p.ClearProject = true
		} else {
			p.ProjectID = &v
		}
	}
	if flags.Changed("repeat") {
		v, _ := flags.GetString("repeat")
		r := schema.Repeat(v)
		p.Repeat = &r
	}
	if flags.Changed("tag") {
		v, _ := flags.GetStringSlice("tag")
		p.Tags = &v
	}
	if flags.Changed("due") {
		at, err := timeFlag(cmd, "due", now)
		if err != nil {
			return p, err
		}
		p.DueDate = at
		p.ClearDueDate = at == nil
	}
	if flags.Changed("remind") {
		at, err := timeFlag(cmd, "remind", now)
		if err != nil {
			return p, err
		}
		p.Reminder = at
		p.ClearReminder = at == nil
	}
	return p, nil
}

func reportDelete(found bool, err error) error {
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]bool{"deleted": found})
	}
	if found {
		fmt.Printf("%s Deleted\n", renderPass("✓"))
	} else {
		fmt.Println(renderMuted("Nothing to delete."))
	}
	return nil
}

func init() {
	taskAddCmd.Flags().String("desc", "", "Description")
	taskAddCmd.Flags().Bool("important", false, "Mark as important")
	taskAddCmd.Flags().Bool("my-day", false, "Add to My Day")
	taskAddCmd.Flags().String("project", "", "Project ID")
	taskAddCmd.Flags().StringSlice("tag", nil, "Tag (repeatable)")
	taskAddCmd.Flags().String("repeat", "", "Repeat rule: daily, weekdays, weekly, monthly, yearly")
	taskAddCmd.Flags().String("due", "", "Due date")
	taskAddCmd.Flags().String("remind", "", "Reminder time")

	taskListCmd.Flags().String("status", "", "Filter by status: pending, in-progress, completed")
	taskListCmd.Flags().Bool("important", false, "Filter by importance")
	taskListCmd.Flags().Bool("my-day", false, "Filter by My Day")
	taskListCmd.Flags().String("project", "", "Filter by project ID")
	taskListCmd.Flags().String("tag", "", "Filter by tag")

	taskUpdateCmd.Flags().String("title", "", "Title")
	taskUpdateCmd.Flags().String("desc", "", "Description")
	taskUpdateCmd.Flags().String("notes", "", "Notes")
	taskUpdateCmd.Flags().String("status", "", "Status: pending, in-progress, completed")
	taskUpdateCmd.Flags().Bool("important", false, "Importance")
	taskUpdateCmd.Flags().Bool("my-day", false, "My Day")
	taskUpdateCmd.Flags().String("project", "", "Project ID (empty clears)")
	taskUpdateCmd.Flags().StringSlice("tag", nil, "Replace tags")
	taskUpdateCmd.Flags().String("repeat", "", "Repeat rule (empty clears)")
	taskUpdateCmd.Flags().String("due", "", "Due date (empty clears)")
	taskUpdateCmd.Flags().String("remind", "", "Reminder time (empty clears)")

	subtaskCmd.AddCommand(subtaskAddCmd, subtaskToggleCmd)
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskShowCmd, taskUpdateCmd, taskDoneCmd, taskDeleteCmd, subtaskCmd)
	rootCmd.AddCommand(taskCmd)
}
