package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionkeeper/session"
)

var (
	loginEmail    string
	loginCPF      string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in with an email or CPF and store the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if (loginEmail == "") == (loginCPF == "") {
			return errors.New("exactly one of --email or --cpf is required")
		}
		password := loginPassword
		if password == "" {
			fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("reading password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			sess, err := a.session.Login(ctx, session.Credentials{
				Email:    loginEmail,
				CPF:      loginCPF,
				Password: password,
			})
			if err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (expires %s)\n",
				sess.Profile.Email, sess.ExpiresAt.Format(time.RFC3339))
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.session.Logout(ctx); err != nil {
				return userError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Exchange the stored token for a new one",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			sess, err := a.session.Refresh(ctx)
			if err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token refreshed (expires %s)\n", sess.ExpiresAt.Format(time.RFC3339))
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			out := cmd.OutOrStdout()
			sess, ok := a.session.Current()
			fmt.Fprintf(out, "State:     %s\n", a.session.State())
			fmt.Fprintf(out, "Freshness: %s\n", a.session.Freshness(ctx))
			if !ok {
				return nil
			}
			fmt.Fprintf(out, "User:      %s (id %d)\n", sess.Profile.Email, sess.Profile.UserID)
			fmt.Fprintf(out, "Roles:     %s\n", strings.Join(sess.Profile.Authorities, ", "))
			fmt.Fprintf(out, "Expires:   %s (in %s)\n", sess.ExpiresAt.Format(time.RFC3339),
				time.Until(sess.ExpiresAt).Round(time.Second))
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Ask the backend who the stored token belongs to",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			a.ensureFresh(ctx)
			info, err := a.auth.Me(ctx, a.http)
			if err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s [%s]\n", info.Email, strings.Join(info.Authorities, ", "))
			return nil
		})
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
	loginCmd.Flags().StringVar(&loginCPF, "cpf", "", "Account CPF")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Password (read from stdin when empty)")
	rootCmd.AddCommand(loginCmd, logoutCmd, refreshCmd, statusCmd, whoamiCmd)
}
