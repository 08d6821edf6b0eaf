package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionkeeper/internal/fakeauth"
)

var (
	mockPort        int
	mockTokenTTL    time.Duration
	mockNoExpiresIn bool
	mockLeeway      time.Duration
)

var mockServerCmd = &cobra.Command{
	Use:   "mock-server",
	Short: "Run a local stand-in for the authentication backend",
	Long: fmt.Sprintf(`Serves /api/auth/login, /api/auth/refresh, /api/auth/me and /api/ping.
The demo account is %s / %s (CPF %s). API docs are at /docs.`,
		fakeauth.DemoUser.Email, fakeauth.DemoUser.Password, fakeauth.DemoUser.CPF),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := []fakeauth.Option{
			fakeauth.WithTokenTTL(mockTokenTTL),
			fakeauth.WithRefreshLeeway(mockLeeway),
			fakeauth.WithLogger(logger),
		}
		if mockNoExpiresIn {
			opts = append(opts, fakeauth.WithoutExpiresIn())
		}
		fake := fakeauth.New(opts...)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Mount("/", fake.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", mockPort),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		out := cmd.OutOrStdout()
		printBanner(out)
		fmt.Fprintf(out, "Mock backend listening on port %d (token ttl %s)...\n", mockPort, mockTokenTTL)

		select {
		case <-cmd.Context().Done():
			fmt.Fprintln(out, "\nShutting down...")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(mockServerCmd)
	mockServerCmd.Flags().IntVarP(&mockPort, "port", "p", 8081, "Port to listen on")
	mockServerCmd.Flags().DurationVar(&mockTokenTTL, "token-ttl", fakeauth.DefaultTokenTTL, "Lifetime of issued tokens")
	mockServerCmd.Flags().BoolVar(&mockNoExpiresIn, "no-expires-in", false, "Omit expiresIn so clients read the JWT exp claim")
	mockServerCmd.Flags().DurationVar(&mockLeeway, "refresh-leeway", 0, "Accept refreshes of tokens expired this long ago")
}
