package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/flowsync/internal/sync/archive"
)

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "advanced",
	Short:   "Write every local collection to an archive",
	Long: `Write every local collection to an archive file.

The format follows the file extension (.json, .yaml, .yml, .toml). Without a
file the archive is written to stdout in the --format format.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			snap, err := archive.Collect(ctx, a.store, time.Now())
			if err != nil {
				return err
			}
			if len(args) == 0 {
				name, _ := cmd.Flags().GetString("format")
				format, err := archive.ParseFormat(name)
				if err != nil {
					return err
				}
				return archive.Export(os.Stdout, format, snap)
			}
			if err := archive.WriteFile(args[0], snap); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%s Exported %d tasks, %d projects, %d contacts to %s\n",
				renderPass("✓"), len(snap.Tasks), len(snap.Projects), len(snap.Contacts), args[0])
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "advanced",
	Short:   "Replace local collections from an archive",
	Long: `Replace local collections with the contents of an archive. Collections the
archive does not contain are left untouched. When the mirror is available the
imported collections are pushed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := archive.ReadFile(args[0])
		if err != nil {
			return err
		}
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			res, err := archive.Restore(ctx, a.store, snap)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(res)
			}
			fmt.Printf("%s Imported %d tasks, %d projects, %d contacts\n",
				renderPass("✓"), res.Tasks, res.Projects, res.Contacts)
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().String("format", "json", "Format for stdout: json, yaml, toml")
	rootCmd.AddCommand(exportCmd, importCmd)
}
