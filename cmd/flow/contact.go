package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

var contactCmd = &cobra.Command{
	Use:     "contact",
	Aliases: []string{"contacts"},
	GroupID: "entities",
	Short:   "Manage the address book",
}

var contactAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a contact",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			fields, err := fieldsFlag(cmd)
			if err != nil {
				return err
			}
			in := schema.Contact{Name: strings.Join(args, " "), Fields: fields}
			in.Email, _ = cmd.Flags().GetString("email")
			in.Phone, _ = cmd.Flags().GetString("phone")
			in.Company, _ = cmd.Flags().GetString("company")
			in.Role, _ = cmd.Flags().GetString("role")
			in.Notes, _ = cmd.Flags().GetString("notes")

			c, err := a.store.Contacts().Create(ctx, in)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(c)
			}
			fmt.Printf("%s Created contact %s\n", renderPass("✓"), renderAccent(c.ID))
			return nil
		})
	},
}

var contactListCmd = &cobra.Command{
	Use:   "list [query]",
	Short: "List contacts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			contacts := a.store.Contacts().List(ctx, firstArg(args))
			if jsonOutput {
				return printJSON(contacts)
			}
			printContacts(contacts)
			return nil
		})
	},
}

var contactShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			c, err := a.store.Contacts().Get(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(c)
			}
			fmt.Printf("\n%s\n", headerStyle.Render(c.Name))
			for _, row := range [][2]string{
				{"Email", c.Email}, {"Phone", c.Phone}, {"Company", c.Company},
				{"Role", c.Role}, {"Notes", c.Notes},
			} {
				if row[1] != "" {
					fmt.Printf("%-9s %s\n", row[0]+":", row[1])
				}
			}
			for k, v := range c.Fields {
				fmt.Printf("%-9s %s\n", k+":", v)
			}
			fmt.Println(renderMuted(c.ID))
			return nil
		})
	},
}

var contactUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update contact fields",
	Long: `Update contact fields. --field key= removes a profile field.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			fields, err := fieldsFlag(cmd)
			if err != nil {
				return err
			}
			patch := schema.ContactPatch{
				Name:    stringFlag(cmd, "name"),
				Email:   stringFlag(cmd, "email"),
				Phone:   stringFlag(cmd, "phone"),
				Company: stringFlag(cmd, "company"),
				Role:    stringFlag(cmd, "role"),
				Notes:   stringFlag(cmd, "notes"),
				Fields:  fields,
			}
			c, err := a.store.Contacts().Update(ctx, args[0], patch)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(c)
			}
			fmt.Printf("%s Updated contact %s\n", renderPass("✓"), renderAccent(c.ID))
			return nil
		})
	},
}

var contactDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a contact",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
			return reportDelete(a.store.Contacts().Delete(ctx, args[0]))
		})
	},
}

// fieldsFlag parses repeated --field key=value flags.
func fieldsFlag(cmd *cobra.Command) (map[string]string, error) {
	raw, _ := cmd.Flags().GetStringArray("field")
	return parseFields(raw)
}

func parseFields(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	fields := make(map[string]string, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --field %q, want key=value", kv)
		}
		fields[k] = v
	}
	return fields, nil
}

func init() {
	for _, c := range []*cobra.Command{contactAddCmd, contactUpdateCmd} {
		c.Flags().String("email", "", "Email address")
		c.Flags().String("phone", "", "Phone number")
		c.Flags().String("company", "", "Company")
		c.Flags().String("role", "", "Role")
		c.Flags().String("notes", "", "Notes")
		c.Flags().StringArray("field", nil, "Profile field as key=value (repeatable)")
	}
	contactUpdateCmd.Flags().String("name", "", "Name")

	contactCmd.AddCommand(contactAddCmd, contactListCmd, contactShowCmd, contactUpdateCmd, contactDeleteCmd)
	rootCmd.AddCommand(contactCmd)
}
