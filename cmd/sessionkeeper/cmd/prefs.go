package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionkeeper/prefs"
)

var (
	prefTheme         string
	prefLanguage      string
	prefNotifications bool
	prefAutoSave      bool
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Read and change user preferences",
}

var prefsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the current preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return printJSON(cmd.OutOrStdout(), a.prefs.Get(ctx))
		})
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change the given preferences and keep the rest",
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch prefs.Preferences
		patch.Theme = prefTheme
		patch.Language = prefLanguage
		if cmd.Flags().Changed("notifications") {
			patch.Notifications = &prefNotifications
		}
		if cmd.Flags().Changed("autosave") {
			patch.AutoSave = &prefAutoSave
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			updated, err := a.prefs.Set(ctx, patch)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), updated)
		})
	},
}

var prefsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the default preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			d, err := a.prefs.Reset(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), d)
		})
	},
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}

func init() {
	prefsSetCmd.Flags().StringVar(&prefTheme, "theme", "", "light or dark")
	prefsSetCmd.Flags().StringVar(&prefLanguage, "language", "", "Language tag, e.g. pt-BR")
	prefsSetCmd.Flags().BoolVar(&prefNotifications, "notifications", true, "Enable notifications")
	prefsSetCmd.Flags().BoolVar(&prefAutoSave, "autosave", true, "Enable form autosave")
	prefsCmd.AddCommand(prefsGetCmd, prefsSetCmd, prefsResetCmd)
	rootCmd.AddCommand(prefsCmd)
}
