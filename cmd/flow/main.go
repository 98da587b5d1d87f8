// Command flow drives the flowsync core from the terminal: entity CRUD,
// sharing, identity, mirror sync, archives, and the long-running daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "flow",
	Short: "Local-first tasks, projects, and contacts with cloud mirror sync",
	Long: `flow manages tasks, projects, and contacts stored in a local SQLite cache.

When a remote backend is configured and a durable identity is signed in, every
local change is mirrored to the remote store and changes made on other devices
are applied locally. Everything works offline.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: flowsync.{yaml,toml,json} in . or ~/.config/flowsync)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of text")

	rootCmd.AddGroup(
		&cobra.Group{ID: "entities", Title: "Entities:"},
		&cobra.Group{ID: "sync", Title: "Sync & Sharing:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", renderFail("Error:"), err)
		os.Exit(1)
	}
}
