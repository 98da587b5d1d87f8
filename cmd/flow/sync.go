package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/flowsync/internal/sync/events"
	"github.com/mschirtzinger/flowsync/internal/sync/remote"
	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Inspect and drive the cloud mirror",
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend, identity, and cache state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			stats, err := a.cache.Stats(ctx)
			if err != nil {
				return err
			}
			st := a.mirror.Status()
			id := a.identity.Current()

			if jsonOutput {
				out := map[string]any{
					"backend":  a.cfg.Remote.Backend,
					"identity": id,
					"mirror":   st,
					"cache":    stats,
					"config":   a.loader.ConfigFile(),
				}
				if a.remoteErr != nil {
					out["remoteError"] = a.remoteErr.Error()
				}
				return printJSON(out)
			}

			fmt.Printf("\n%s\n\n", headerStyle.Render("flowsync"))
			cfgFile := a.loader.ConfigFile()
			if cfgFile == "" {
				cfgFile = renderMuted("(defaults)")
			}
			fmt.Printf("Config:    %s\n", cfgFile)
			fmt.Printf("Cache:     %s %s\n", stats.Path, renderMuted(fmt.Sprintf("%d keys, %d bytes", stats.Keys, stats.Bytes)))
			fmt.Printf("Identity:  %s", id.ID)
			if id.Durable {
				fmt.Printf(" %s\n", renderPass("durable"))
			} else {
				fmt.Printf(" %s\n", renderMuted("anonymous"))
			}

			backend := a.cfg.Remote.Backend
			switch {
			case a.remoteErr != nil:
				fmt.Printf("Backend:   %s %s\n", backend, renderFail("unreachable"))
				fmt.Printf("           %s\n", renderMuted(a.remoteErr.Error()))
			case !a.mirror.Configured():
				fmt.Printf("Backend:   %s\n", renderMuted("none"))
			default:
				fmt.Printf("Backend:   %s %s\n", backend, renderPass("connected"))
			}
			if st.Available {
				fmt.Printf("Mirror:    %s\n", renderPass("available"))
			} else {
				fmt.Printf("Mirror:    %s\n", renderMuted("unavailable"))
			}
			if st.LastPushAt != nil {
				fmt.Printf("Last push: %s\n", formatTime(st.LastPushAt))
			}
			if st.LastPullAt != nil {
				fmt.Printf("Last pull: %s\n", formatTime(st.LastPullAt))
			}
			if st.LastError != "" {
				fmt.Printf("Error:     %s\n", renderWarn(st.LastError))
			}
			if sh := a.shares.Status(); sh.LastError != "" {
				fmt.Printf("Share:     %s\n", renderWarn(sh.LastError))
			}
			fmt.Println()
			return nil
		})
	},
}

var syncReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile local and remote collections",
	Long: `Reconcile every collection for the durable identity:

  local empty, remote non-empty   pull
  local non-empty, remote empty   push
  both non-empty                  remote wins
  both empty                      nothing`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			id, err := durableID(a)
			if err != nil {
				return err
			}
			report, err := a.mirror.Reconcile(ctx, id)
			if jsonOutput && err == nil {
				return printJSON(report)
			}
			for _, kind := range schema.Kinds {
				if action, ok := report[kind]; ok {
					fmt.Printf("%-9s %s\n", kind.Collection(), renderAccent(string(action)))
				}
			}
			return err
		})
	},
}

var syncPushCmd = &cobra.Command{
	Use:   "push [kind...]",
	Short: "Upload local collections to the mirror",
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds, err := kindsArg(args)
		if err != nil {
			return err
		}
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			id, err := durableID(a)
			if err != nil {
				return err
			}
			for _, kind := range kinds {
				docs, err := a.store.Snapshot(ctx, kind)
				if err != nil {
					return err
				}
				if err := a.mirror.Push(ctx, id, kind, docs); err != nil {
					return err
				}
				fmt.Printf("%s Pushed %d %s\n", renderPass("✓"), len(docs), kind.Collection())
			}
			return nil
		})
	},
}

var syncPullCmd = &cobra.Command{
	Use:   "pull [kind...]",
	Short: "Replace local collections with the mirror's copy",
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds, err := kindsArg(args)
		if err != nil {
			return err
		}
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			id, err := durableID(a)
			if err != nil {
				return err
			}
			for _, kind := range kinds {
				docs, err := a.mirror.Pull(ctx, id, kind)
				if err != nil {
					return err
				}
				if err := a.store.Replace(ctx, kind, docs, events.SourceRemote); err != nil {
					return err
				}
				fmt.Printf("%s Pulled %d %s\n", renderPass("✓"), len(docs), kind.Collection())
			}
			return nil
		})
	},
}

func durableID(a *app) (string, error) {
	if !a.mirror.Configured() {
		if a.remoteErr != nil {
			return "", a.remoteErr
		}
		return "", remote.ErrUnavailable
	}
	st := a.identity.Current()
	if !st.Durable {
		return "", errors.New("sign in first: the mirror only syncs durable identities")
	}
	return st.ID, nil
}

func kindsArg(args []string) ([]schema.Kind, error) {
	if len(args) == 0 {
		return schema.Kinds, nil
	}
	kinds := make([]schema.Kind, 0, len(args))
	for _, a := range args {
		k, err := schema.ParseKind(a)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func init() {
	syncCmd.AddCommand(syncStatusCmd, syncReconcileCmd, syncPushCmd, syncPullCmd)
	rootCmd.AddCommand(syncCmd)
}
