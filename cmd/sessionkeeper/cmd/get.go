package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionkeeper/pipeline"
	"github.com/jmcleod/sessionkeeper/session"
)

var showMetrics bool

var getCmd = &cobra.Command{
	Use:   "get <path|url>",
	Short: "Send an authenticated GET request",
	Long: `Sends a GET through the session pipeline. A path is resolved against
api.base_url. An expired token is refreshed once and the request retried.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			target := args[0]
			if strings.HasPrefix(target, "/") {
				target = a.auth.URL(target)
			}
			a.ensureFresh(ctx)

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
			if err != nil {
				return err
			}
			resp, err := a.http.Do(req)
			if err != nil {
				return userError(fmt.Errorf("%w: %w", session.ErrNetwork, err))
			}
			defer resp.Body.Close()
			if showMetrics {
				defer printMetrics(cmd, a)
			}

			if err := pipeline.CheckResponse(resp); err != nil {
				return userError(err)
			}
			_, err = io.Copy(cmd.OutOrStdout(), resp.Body)
			return err
		})
	},
}

func printMetrics(cmd *cobra.Command, a *app) {
	families, err := a.registry.Gather()
	if err != nil {
		logger.Warn("gathering metrics failed", "error", err)
		return
	}
	w := cmd.ErrOrStderr()
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := ""
			for _, lp := range m.GetLabel() {
				labels += fmt.Sprintf("{%s=%q}", lp.GetName(), lp.GetValue())
			}
			fmt.Fprintf(w, "%s%s %g\n", mf.GetName(), labels, m.GetCounter().GetValue())
		}
	}
}

func init() {
	getCmd.Flags().BoolVar(&showMetrics, "metrics", false, "Print pipeline counters to stderr")
	rootCmd.AddCommand(getCmd)
}
