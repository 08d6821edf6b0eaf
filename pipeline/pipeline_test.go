package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessionkeeper/kvs"
	"github.com/jmcleod/sessionkeeper/session"
	"github.com/jmcleod/sessionkeeper/storage"
	"github.com/jmcleod/sessionkeeper/storage/memory"
)

type stubAuth struct {
	refreshes  atomic.Int32
	refreshErr error
	delay      time.Duration
}

func (a *stubAuth) Login(context.Context, session.Credentials) (session.AuthResponse, error) {
	return session.AuthResponse{Token: "old", ExpiresIn: 3600, UserID: 7, Email: "ana@example.com"}, nil
}

func (a *stubAuth) Refresh(_ context.Context, token string) (session.AuthResponse, error) {
	a.refreshes.Add(1)
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if a.refreshErr != nil {
		return session.AuthResponse{}, a.refreshErr
	}
	return session.AuthResponse{Token: "new", ExpiresIn: 3600}, nil
}

type fixture struct {
	mgr   *session.Manager
	auth  *stubAuth
	rt    *recovery
	now   time.Time
	mu    sync.Mutex
	reg   *prometheus.Registry
	hc    *http.Client
	store *kvs.Store
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newFixture(t *testing.T, base http.RoundTripper, loggedIn bool) *fixture {
	t.Helper()
	f := &fixture{auth: &stubAuth{}, now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), reg: prometheus.NewRegistry()}
	f.store = kvs.New(map[storage.Backend]storage.Driver{
		storage.Persistent: memory.NewDriver(),
		storage.Durable:    memory.NewDriver(),
	}, kvs.WithClock(f.clock))
	t.Cleanup(func() { f.store.Close() })
	f.mgr = session.NewManager(f.store, f.auth, session.WithClock(f.clock))
	if loggedIn {
		_, err := f.mgr.Login(t.Context(), session.Credentials{Email: "ana@example.com", Password: "pw"})
		require.NoError(t, err)
	}
	f.rt = New(base, f.mgr, WithRegisterer(f.reg)).(*recovery)
	f.hc = &http.Client{Transport: f.rt}
	return f
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestPipeline_AttachesToken(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	f := newFixture(t, srv.Client().Transport, true)
	resp, err := f.hc.Get(srv.URL + "/api/things")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer old", got.Load())
}

func TestPipeline_NoTokenNoHeader(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	f := newFixture(t, srv.Client().Transport, false)
	resp, err := f.hc.Get(srv.URL + "/api/things")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "", got.Load())
}

func TestPipeline_LoginPathIsUnauthenticated(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := newFixture(t, srv.Client().Transport, true)
	resp, err := f.hc.Post(srv.URL+"/api/auth/login", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "", got.Load())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, f.auth.refreshes.Load(), "a rejected login never refreshes")
}

func TestPipeline_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const n = 5
	var (
		mu      sync.Mutex
		stale   int
		release = make(chan struct{})
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bearer(r) == "new" {
			io.WriteString(w, "ok")
			return
		}
		mu.Lock()
		stale++
		if stale == n {
			close(release)
		}
		mu.Unlock()
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := newFixture(t, srv.Client().Transport, true)
	f.auth.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	bodies := make([]string, n)
	codes := make([]int, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.hc.Get(srv.URL + "/api/things")
			if !assert.NoError(t, err) {
				return
			}
			codes[i] = resp.StatusCode
			bodies[i] = readBody(t, resp)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.auth.refreshes.Load())
	for i := range n {
		assert.Equal(t, http.StatusOK, codes[i])
		assert.Equal(t, "ok", bodies[i])
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(f.rt.metrics.refreshes.WithLabelValues("success")))
	assert.Equal(t, float64(n), testutil.ToFloat64(f.rt.metrics.retries))
	assert.Zero(t, testutil.ToFloat64(f.rt.metrics.forcedLogouts))

	token, ok := f.mgr.Token(t.Context())
	require.True(t, ok)
	assert.Equal(t, "new", token)
}

func TestPipeline_RefreshFailureReturnsOriginalResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, "original")
	}))
	defer srv.Close()

	f := newFixture(t, srv.Client().Transport, true)
	f.auth.refreshErr = session.ErrRefreshFailed

	resp, err := f.hc.Get(srv.URL + "/api/things")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "original", readBody(t, resp))

	assert.False(t, f.mgr.IsAuthenticated(t.Context()))
	assert.Equal(t, session.Anonymous, f.mgr.State())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.rt.metrics.forcedLogouts))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.rt.metrics.refreshes.WithLabelValues("failure")))
	assert.Zero(t, testutil.ToFloat64(f.rt.metrics.retries))
}

func TestPipeline_SecondUnauthorizedIsFinal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := newFixture(t, srv.Client().Transport, true)
	resp, err := f.hc.Get(srv.URL + "/api/things")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), f.auth.refreshes.Load())
	assert.True(t, f.mgr.IsAuthenticated(t.Context()), "a retried 401 does not log out")

	err = CheckResponse(resp)
	require.ErrorIs(t, err, session.ErrUnauthorized)
}

func TestPipeline_ExpiredTokenIsNotRefreshed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := newFixture(t, srv.Client().Transport, true)
	f.advance(2 * time.Hour)

	resp, err := f.hc.Get(srv.URL + "/api/things")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, f.auth.refreshes.Load())
}

func TestPipeline_ReplaysBody(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(data))
		mu.Unlock()
		if bearer(r) != "new" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write(data)
	}))
	defer srv.Close()

	f := newFixture(t, srv.Client().Transport, true)
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/api/things",
		io.NopCloser(strings.NewReader(`{"name":"x"}`)))
	require.NoError(t, err)
	require.Nil(t, req.GetBody)

	resp, err := f.hc.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"name":"x"}`, readBody(t, resp))
	assert.Equal(t, []string{`{"name":"x"}`, `{"name":"x"}`}, bodies)
}

type failingTransport struct{ calls atomic.Int32 }

func (f *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	f.calls.Add(1)
	return nil, errors.New("connection refused")
}

func TestPipeline_TransportErrorPassesThrough(t *testing.T) {
	base := &failingTransport{}
	f := newFixture(t, base, true)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, "http://127.0.0.1:1/api/things", nil)
	require.NoError(t, err)
	_, err = f.rt.RoundTrip(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, int32(1), base.calls.Load())
	assert.Zero(t, f.auth.refreshes.Load())
	assert.True(t, f.mgr.IsAuthenticated(t.Context()))
}

func TestPipeline_RegistersMetrics(t *testing.T) {
	f := newFixture(t, &failingTransport{}, false)
	f.rt.metrics.retries.Inc()
	f.rt.metrics.refreshes.WithLabelValues("success").Inc()

	count, err := testutil.GatherAndCount(f.reg, "sessionkeeper_retries_total", "sessionkeeper_refresh_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCheckResponse(t *testing.T) {
	mk := func(code int, body string) *http.Response {
		return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(body))}
	}

	assert.NoError(t, CheckResponse(mk(http.StatusOK, "")))

	err := CheckResponse(mk(http.StatusUnauthorized, `{"message":"token expired"}`))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, "token expired", se.Message)
	assert.ErrorIs(t, err, session.ErrUnauthorized)
	assert.Equal(t, session.MessageLoginAgain, session.UserMessage(err))

	err = CheckResponse(mk(http.StatusInternalServerError, `{"error":"boom"}`))
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "boom", se.Message)
	assert.NotErrorIs(t, err, session.ErrUnauthorized)

	err = CheckResponse(mk(http.StatusBadGateway, "  upstream down \n"))
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "upstream down", se.Message)
	assert.Equal(t, "http 502: upstream down", se.Error())
}
