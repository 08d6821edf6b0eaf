// Package pipeline provides the outbound HTTP stages that attach the
// bearer token and recover from an expired one.
//
// The stages compose as Recovery(Credentials(base)): credentials are set
// on every attempt, so the single retry after a refresh carries the new
// token. Concurrent 401s share one refresh.
package pipeline

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmcleod/sessionkeeper/session"
)

// Session is what the pipeline needs from a session manager.
type Session interface {
	Token(ctx context.Context) (string, bool)
	RefreshWarranted(ctx context.Context) bool
	Refresh(ctx context.Context) (session.Session, error)
	Logout(ctx context.Context) error
}

// DefaultUnauthenticatedPaths are sent without credentials and never
// trigger a refresh.
var DefaultUnauthenticatedPaths = []string{"/api/auth/login"}

type options struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	openPaths  []string
}

// Option configures the pipeline.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegisterer registers the pipeline metrics with reg. Without it the
// metrics are collected but not exported.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithUnauthenticatedPaths replaces DefaultUnauthenticatedPaths.
func WithUnauthenticatedPaths(paths ...string) Option {
	return func(o *options) { o.openPaths = paths }
}

// New returns base wrapped in the credential and recovery stages.
// A nil base means http.DefaultTransport.
func New(base http.RoundTripper, sess Session, opts ...Option) http.RoundTripper {
	o := options{logger: slog.Default(), openPaths: DefaultUnauthenticatedPaths}
	for _, opt := range opts {
		opt(&o)
	}
	if base == nil {
		base = http.DefaultTransport
	}
	logger := o.logger.With("component", "pipeline")
	open := pathMatcher(o.openPaths)
	creds := &credentials{next: base, sess: sess, open: open}
	return &recovery{
		next:    creds,
		sess:    sess,
		open:    open,
		metrics: newMetrics(o.registerer),
		logger:  logger,
	}
}

// NewClient returns an http.Client using New.
func NewClient(base http.RoundTripper, sess Session, opts ...Option) *http.Client {
	return &http.Client{Transport: New(base, sess, opts...)}
}

func pathMatcher(paths []string) func(string) bool {
	return func(p string) bool {
		for _, open := range paths {
			if open != "" && strings.HasSuffix(p, open) {
				return true
			}
		}
		return false
	}
}
