package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/scarson/queuectl/internal/settings"
)

// settingsCmd is the `config` command group. It manages the runtime settings
// in the config table, not the process environment.
func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Get, set, or list runtime settings (" + strings.Join(settings.Keys, ", ") + ")",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set a setting",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				key, value := args[0], strings.TrimSpace(args[1])
				if err := settings.Validate(key, value); err != nil {
					return err
				}

				a, err := openApp(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()

				st, err := a.store.SetSetting(cmd.Context(), key, value)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", st.Key, st.Value)
				return nil
			},
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print a setting",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				key := args[0]
				if !settings.IsKnown(key) {
					return settings.Validate(key, "")
				}

				a, err := openApp(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()

				st, err := a.store.GetSetting(cmd.Context(), key)
				if err != nil {
					return err
				}
				if st == nil {
					return fmt.Errorf("config key %q not set", key)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", st.Key, st.Value)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List all settings",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := openApp(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()

				list, err := a.store.ListSettings(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KEY\tVALUE\tUPDATED")
				for _, st := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", st.Key, st.Value, st.UpdatedAt.Local().Format(time.DateTime))
				}
				return tw.Flush()
			},
		},
	)
	return cmd
}
