package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mschirtzinger/flowsync/internal/sync/identity"
)

var whoamiCmd = &cobra.Command{
	Use:     "whoami",
	GroupID: "sync",
	Short:   "Show the current identity",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runApp(cmd.Context(), func(_ context.Context, a *app) error {
			printIdentity(a.identity.Current())
			return nil
		})
	},
}

var signinCmd = &cobra.Command{
	Use:     "signin",
	GroupID: "sync",
	Short:   "Switch to a durable identity",
	Long: `Switch to a durable identity using a signed credential.

The first time a durable identity is used, local collections are reconciled
with the remote mirror. Pass the credential with --token, or type it at the
prompt.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			var err error
			if token, err = promptSecret("Credential: "); err != nil {
				return err
			}
		}
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if err := a.newCoordinator(false).Start(ctx); err != nil {
				return err
			}
			st, err := a.identity.SignIn(ctx, token)
			if err != nil {
				return err
			}
			printIdentity(st)
			if s := a.mirror.Status(); s.LastError != "" {
				fmt.Printf("%s %s\n", renderWarn("Sync:"), s.LastError)
			}
			return nil
		})
	},
}

var signoutCmd = &cobra.Command{
	Use:     "signout",
	GroupID: "sync",
	Short:   "Return to the anonymous identity",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			st, err := a.identity.SignOut(ctx)
			if err != nil {
				return err
			}
			printIdentity(st)
			return nil
		})
	},
}

var tokenCmd = &cobra.Command{
	Use:     "token <subject>",
	GroupID: "advanced",
	Short:   "Issue a development credential signed with the configured secret",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		return runApp(cmd.Context(), func(_ context.Context, a *app) error {
			tok, err := a.identity.Issue(args[0], email, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		})
	},
}

func printIdentity(st identity.State) {
	if jsonOutput {
		_ = printJSON(st)
		return
	}
	kind := renderMuted("anonymous")
	if st.Durable {
		kind = renderPass("durable")
	}
	fmt.Printf("%s %s\n", renderAccent(st.ID), kind)
	if st.Email != "" {
		fmt.Printf("  %s\n", st.Email)
	}
}

// promptSecret reads a line without echo when stdin is a terminal.
func promptSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		var line string
		if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
			return "", fmt.Errorf("failed to read credential: %w", err)
		}
		return strings.TrimSpace(line), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read credential: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func init() {
	signinCmd.Flags().String("token", "", "Signed credential (JWT)")
	tokenCmd.Flags().String("email", "", "Email claim")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Credential lifetime")

	rootCmd.AddCommand(whoamiCmd, signinCmd, signoutCmd, tokenCmd)
}
