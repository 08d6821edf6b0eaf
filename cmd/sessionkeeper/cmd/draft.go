package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Keep unsaved form input for a day",
}

var draftSaveCmd = &cobra.Command{
	Use:   "save <form> <json>",
	Short: "Save a JSON draft for a form",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data := json.RawMessage(args[1])
		if !json.Valid(data) {
			return errors.New("draft must be valid JSON")
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.drafts.Save(ctx, args[0], data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Draft %q saved\n", args[0])
			return nil
		})
	},
}

var draftShowCmd = &cobra.Command{
	Use:   "show <form>",
	Short: "Print the draft of a form",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			var data json.RawMessage
			ok, err := a.drafts.Load(ctx, args[0], &data)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no draft for %q", args[0])
			}
			return printJSON(cmd.OutOrStdout(), data)
		})
	},
}

var draftRmCmd = &cobra.Command{
	Use:   "rm <form>",
	Short: "Discard the draft of a form",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.drafts.Remove(ctx, args[0])
		})
	},
}

func init() {
	draftCmd.AddCommand(draftSaveCmd, draftShowCmd, draftRmCmd)
	rootCmd.AddCommand(draftCmd)
}
