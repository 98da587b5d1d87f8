package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/flowsync/internal/sync/schema"
	"github.com/mschirtzinger/flowsync/internal/sync/share"
)

var shareCmd = &cobra.Command{
	Use:     "share",
	GroupID: "sync",
	Short:   "Publish entities by share code",
	Long: `Publish a task, project, or contact under a share code that anyone with the
code or link can read. Shares are served from the redis backend.

Commands taking <code|url> accept either a bare code with --type, or a full
share link.`,
}

var shareCreateCmd = &cobra.Command{
	Use:   "create <kind> <id>",
	Short: "Share an entity and print its link",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := schema.ParseKind(args[0])
		if err != nil {
			return err
		}
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			res, err := shareEntity(ctx, a, kind, args[1])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(res)
			}
			fmt.Printf("%s Shared %s as %s\n", renderPass("✓"), kind, renderAccent(res.Code))
			if res.URL != "" {
				fmt.Println(res.URL)
			}
			return nil
		})
	},
}

var shareShowCmd = &cobra.Command{
	Use:   "show <code|url>",
	Short: "Print a shared entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, kind, err := shareRef(cmd, args[0])
		if err != nil {
			return err
		}
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			env, err := a.shares.Get(ctx, code, kind)
			if err != nil {
				return err
			}
			return printEnvelope(&env)
		})
	},
}

var shareUpdateCmd = &cobra.Command{
	Use:   "update <code|url> <id>",
	Short: "Republish the current state of a local entity under an existing code",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, kind, err := shareRef(cmd, args[0])
		if err != nil {
			return err
		}
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			ent, err := loadEntity(ctx, a, kind, args[1])
			if err != nil {
				return err
			}
			if err := a.shares.Update(ctx, code, kind, ent); err != nil {
				return err
			}
			fmt.Printf("%s Updated share %s\n", renderPass("✓"), renderAccent(code))
			return nil
		})
	},
}

var shareRevokeCmd = &cobra.Command{
	Use:   "revoke <code|url>",
	Short: "Stop sharing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, kind, err := shareRef(cmd, args[0])
		if err != nil {
			return err
		}
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if err := a.shares.Revoke(ctx, code, kind); err != nil {
				return err
			}
			fmt.Printf("%s Revoked %s\n", renderPass("✓"), code)
			return nil
		})
	},
}

var shareImportCmd = &cobra.Command{
	Use:   "import <code|url>",
	Short: "Copy a shared entity into the local collections",
	Long: `Copy a shared entity into the local collections under a new ID. The copy is
independent of the share.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, kind, err := shareRef(cmd, args[0])
		if err != nil {
			return err
		}
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			id, err := a.shares.Import(ctx, code, kind)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(map[string]string{"id": id, "type": string(kind)})
			}
			fmt.Printf("%s Imported %s %s\n", renderPass("✓"), kind, renderAccent(id))
			return nil
		})
	},
}

var shareWatchCmd = &cobra.Command{
	Use:   "watch <code|url>",
	Short: "Print a share every time it changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, kind, err := shareRef(cmd, args[0])
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runApp(ctx, func(ctx context.Context, a *app) error {
			revoked := make(chan struct{})
			cancel, err := a.shares.Subscribe(ctx, code, kind, func(env *share.Envelope[json.RawMessage]) {
				if env == nil {
					fmt.Println(renderWarn("Share revoked."))
					close(revoked)
					return
				}
				if err := printEnvelope(env); err != nil {
					a.logger.Warn().Err(err).Msg("failed to print share")
				}
			})
			if err != nil {
				return err
			}
			defer cancel()

			select {
			case <-ctx.Done():
			case <-revoked:
			}
			return nil
		})
	},
}

// shareRef resolves a share link, or a bare code plus --type.
func shareRef(cmd *cobra.Command, ref string) (string, schema.Kind, error) {
	if strings.Contains(ref, "://") {
		return share.ParseURL(ref)
	}
	if !share.ValidCode(ref) {
		return "", "", fmt.Errorf("%w: %q", share.ErrInvalidCode, ref)
	}
	t, _ := cmd.Flags().GetString("type")
	if t == "" {
		return "", "", fmt.Errorf("--type is required with a bare share code")
	}
	kind, err := schema.ParseKind(t)
	if err != nil {
		return "", "", err
	}
	return ref, kind, nil
}

// shareEntity publishes the entity. A project is marked shared before the
// snapshot is taken so the published copy carries the flag; the mark is
// undone when publishing fails.
func shareEntity(ctx context.Context, a *app, kind schema.Kind, id string) (share.Result, error) {
	ent, err := loadEntity(ctx, a, kind, id)
	if err != nil {
		return share.Result{}, err
	}
	p, ok := ent.(schema.Project)
	if !ok || p.IsShared {
		return a.shares.Share(ctx, kind, ent)
	}

	shared, unshared := true, false
	marked, err := a.store.Projects().Update(ctx, id, schema.ProjectPatch{IsShared: &shared})
	if err != nil {
		return share.Result{}, fmt.Errorf("failed to mark project shared: %w", err)
	}
	res, err := a.shares.Share(ctx, kind, marked)
	if err != nil {
		if _, uerr := a.store.Projects().Update(ctx, id, schema.ProjectPatch{IsShared: &unshared}); uerr != nil {
			a.logger.Warn().Err(uerr).Str("project", id).Msg("failed to clear shared mark")
		}
		return share.Result{}, err
	}
	return res, nil
}

func loadEntity(ctx context.Context, a *app, kind schema.Kind, id string) (any, error) {
	switch kind {
	case schema.KindTask:
		return a.store.Tasks().Get(ctx, id)
	case schema.KindProject:
		return a.store.Projects().Get(ctx, id)
	case schema.KindContact:
		return a.store.Contacts().Get(ctx, id)
	}
	return nil, fmt.Errorf("%w: kind %q", schema.ErrInvalid, kind)
}

func printEnvelope(env *share.Envelope[json.RawMessage]) error {
	if jsonOutput {
		return printJSON(env)
	}
	fmt.Printf("%s %s %s\n", renderAccent(string(env.Type)), env.ShareCode,
		renderMuted("synced "+formatTime(&env.LastSync)))
	var pretty map[string]any
	if err := json.Unmarshal(env.Data, &pretty); err != nil {
		return fmt.Errorf("failed to decode shared %s: %w", env.Type, err)
	}
	return printJSON(pretty)
}

func init() {
	for _, c := range []*cobra.Command{shareShowCmd, shareUpdateCmd, shareRevokeCmd, shareImportCmd, shareWatchCmd} {
		c.Flags().String("type", "", "Entity kind for a bare code: task, project, contact")
	}
	shareCmd.AddCommand(shareCreateCmd, shareShowCmd, shareUpdateCmd, shareRevokeCmd, shareImportCmd, shareWatchCmd)
	rootCmd.AddCommand(shareCmd)
}
