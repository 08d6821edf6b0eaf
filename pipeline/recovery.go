package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const refreshKey = "refresh"

// recovery turns a 401 into at most one refresh and one retry.
type recovery struct {
	next    http.RoundTripper
	sess    Session
	open    func(path string) bool
	group   singleflight.Group
	metrics *metrics
	logger  *slog.Logger
}

func (r *recovery) RoundTrip(req *http.Request) (*http.Response, error) {
	req, err := rewindable(req)
	if err != nil {
		return nil, err
	}
	ctx := req.Context()
	sent, _ := r.sess.Token(ctx)

	resp, err := r.next.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || r.open(req.URL.Path) {
		return resp, err
	}
	if !r.sess.RefreshWarranted(ctx) {
		return resp, nil
	}

	logger := r.logger.With("request_id", uuid.NewString(), "method", req.Method, "path", req.URL.Path)

	// Another request may have rotated the token while this one was in
	// flight. Retry with it instead of refreshing again.
	if current, ok := r.sess.Token(ctx); !ok || current == sent {
		if err := r.refresh(ctx, logger); err != nil {
			if ctx.Err() != nil {
				drain(resp)
				return nil, ctx.Err()
			}
			logger.Info("returning unauthorized after failed refresh", "error", err)
			return resp, nil
		}
	}

	retry, err := replay(req)
	if err != nil {
		logger.Warn("request cannot be replayed", "error", err)
		return resp, nil
	}
	drain(resp)
	r.metrics.retries.Inc()
	logger.Debug("retrying with refreshed token")
	return r.next.RoundTrip(retry)
}

// refresh joins the in-flight refresh or starts one. A failed refresh
// logs out before any waiter is released. The flight runs without the
// caller's cancellation so every waiter sees one outcome.
func (r *recovery) refresh(ctx context.Context, logger *slog.Logger) error {
	leader := false
	ch := r.group.DoChan(refreshKey, func() (any, error) {
		leader = true
		flight := context.WithoutCancel(ctx)
		if _, err := r.sess.Refresh(flight); err != nil {
			r.metrics.refreshes.WithLabelValues("failure").Inc()
			r.metrics.forcedLogouts.Inc()
			if lerr := r.sess.Logout(flight); lerr != nil {
				logger.Warn("forced logout incomplete", "error", lerr)
			}
			logger.Info("session dropped after failed refresh", "error", err)
			return nil, err
		}
		r.metrics.refreshes.WithLabelValues("success").Inc()
		logger.Debug("token refreshed")
		return nil, nil
	})
	select {
	case res := <-ch:
		if !leader {
			r.metrics.joined.Inc()
			logger.Debug("joined refresh in flight")
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rewindable returns req with a GetBody so it can be sent twice. Bodies
// without one are buffered into a clone.
func rewindable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return req, nil
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffering request body: %w", err)
	}
	r := req.Clone(req.Context())
	r.Body = io.NopCloser(bytes.NewReader(data))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	r.ContentLength = int64(len(data))
	return r, nil
}

func replay(req *http.Request) (*http.Request, error) {
	r := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		r.Body = body
	}
	return r, nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}
