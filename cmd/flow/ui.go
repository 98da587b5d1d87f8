package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

func renderAccent(s string) string { return accentStyle.Render(s) }
func renderPass(s string) string   { return passStyle.Render(s) }
func renderWarn(s string) string   { return warnStyle.Render(s) }
func renderFail(s string) string   { return failStyle.Render(s) }
func renderMuted(s string) string  { return mutedStyle.Render(s) }

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func statusMark(t schema.Task) string {
	switch t.Status {
	case schema.StatusCompleted:
		return renderPass("✓")
	case schema.StatusInProgress:
		return renderAccent("◐")
	}
	return "○"
}

func printTasks(tasks []schema.Task) {
	if len(tasks) == 0 {
		fmt.Println(renderMuted("No tasks."))
		return
	}
	for _, t := range tasks {
		flags := ""
		if t.Important {
			flags += renderWarn("!")
		}
		if t.MyDay {
			flags += renderAccent("☀")
		}
		line := fmt.Sprintf("%s %s %s", statusMark(t), t.Title, flags)
		if t.DueDate != nil {
			line += renderMuted("  due " + formatTime(t.DueDate))
		}
		fmt.Println(strings.TrimRight(line, " "))
		fmt.Println("   " + renderMuted(t.ID))
	}
}

func printTask(t schema.Task) {
	fmt.Printf("\n%s %s\n\n", statusMark(t), headerStyle.Render(t.Title))
	fmt.Printf("ID:        %s\n", t.ID)
	fmt.Printf("Status:    %s\n", t.Status)
	if t.Description != "" {
		fmt.Printf("Notes:     %s\n", t.Description)
	}
	if t.ProjectID != nil {
		fmt.Printf("Project:   %s\n", *t.ProjectID)
	}
	fmt.Printf("Due:       %s\n", formatTime(t.DueDate))
	fmt.Printf("Reminder:  %s\n", formatTime(t.Reminder))
	if t.Repeat != schema.RepeatNone {
		fmt.Printf("Repeat:    %s\n", t.Repeat)
	}
	if len(t.Tags) > 0 {
		fmt.Printf("Tags:      %s\n", strings.Join(t.Tags, ", "))
	}
	if len(t.SubTasks) > 0 {
		fmt.Println("Sub-tasks:")
		for _, st := range t.SubTasks {
			mark := "[ ]"
			if st.IsCompleted {
				mark = renderPass("[x]")
			}
			fmt.Printf("  %s %s %s\n", mark, st.Title, renderMuted(st.ID))
		}
	}
	fmt.Println()
}

func printProjects(projects []schema.Project) {
	if len(projects) == 0 {
		fmt.Println(renderMuted("No projects."))
		return
	}
	for _, p := range projects {
		swatch := lipgloss.NewStyle().Foreground(lipgloss.Color(p.Color)).Render("■")
		fmt.Printf("%s %s %s\n", swatch, p.Name, renderMuted(p.ID))
	}
}

func printContacts(contacts []schema.Contact) {
	if len(contacts) == 0 {
		fmt.Println(renderMuted("No contacts."))
		return
	}
	for _, c := range contacts {
		detail := c.Email
		if c.Company != "" {
			detail = strings.TrimSpace(detail + " · " + c.Company)
		}
		fmt.Printf("%s %s %s\n", c.Name, renderMuted(detail), renderMuted(c.ID))
	}
}
