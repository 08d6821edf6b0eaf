package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionkeeper/internal/config"
)

// Version is set at build time.
var Version = "dev"

var (
	configPath string
	cfg        *config.Config
	logger     = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "sessionkeeper",
	Short: "sessionkeeper keeps an authenticated API session on this machine",
	Long: `A client for token-authenticated HTTP APIs: log in once, and every request
carries the bearer token, refreshing it when the backend reports it expired.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = c
		logger = c.Log.NewLogger(cmd.ErrOrStderr())
		slog.SetDefault(logger)
		return nil
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
}
