// Package authapi is the HTTP client for the backend authentication API.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmcleod/sessionkeeper/pipeline"
	"github.com/jmcleod/sessionkeeper/session"
)

// DefaultTimeout bounds every backend call.
const DefaultTimeout = 30 * time.Second

// Endpoints are the API paths, relative to the base URL.
type Endpoints struct {
	Login   string
	Refresh string
	Me      string
}

// DefaultEndpoints returns the standard authentication paths.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Login:   "/api/auth/login",
		Refresh: "/api/auth/refresh",
		Me:      "/api/auth/me",
	}
}

// UserInfo is the response of the Me endpoint.
type UserInfo struct {
	TokenType   string   `json:"tokenType"`
	Email       string   `json:"email"`
	Authorities []string `json:"authorities"`
}

// Client talks to the backend. It implements session.Authenticator.
type Client struct {
	base      *url.URL
	http      *http.Client
	endpoints Endpoints
	timeout   time.Duration
	logger    *slog.Logger
}

var _ session.Authenticator = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for login and refresh. It must not
// carry the recovery pipeline.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithEndpoints overrides the API paths. Empty fields keep their default.
func WithEndpoints(e Endpoints) Option {
	return func(c *Client) {
		if e.Login != "" {
			c.endpoints.Login = e.Login
		}
		if e.Refresh != "" {
			c.endpoints.Refresh = e.Refresh
		}
		if e.Me != "" {
			c.endpoints.Me = e.Me
		}
	}
}

// WithTimeout overrides DefaultTimeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New returns a Client for the API at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base:      u,
		http:      &http.Client{},
		endpoints: DefaultEndpoints(),
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "authapi")
	return c, nil
}

// URL resolves path against the base URL.
func (c *Client) URL(path string) string {
	return c.base.JoinPath(path).String()
}

type loginRequest struct {
	Email    string `json:"email,omitempty"`
	CPF      string `json:"cpf,omitempty"`
	Password string `json:"senha"`
}

// Login posts creds. A 401 or 403 maps to session.ErrInvalidCredentials
// and a transport failure to session.ErrNetwork.
func (c *Client) Login(ctx context.Context, creds session.Credentials) (session.AuthResponse, error) {
	body := loginRequest{Email: creds.Email, CPF: creds.CPF, Password: creds.Password}
	resp, err := c.send(ctx, c.http, http.MethodPost, c.endpoints.Login, body, "")
	if err != nil {
		return session.AuthResponse{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return session.AuthResponse{}, pipeline.NewStatusError(resp, session.ErrInvalidCredentials)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return session.AuthResponse{}, pipeline.NewStatusError(resp, errors.New("login rejected"))
	}
	return decode[session.AuthResponse](resp)
}

// Refresh exchanges token for a new one. The bearer header is set here,
// not by the pipeline, so a failing refresh cannot trigger another.
func (c *Client) Refresh(ctx context.Context, token string) (session.AuthResponse, error) {
	resp, err := c.send(ctx, c.http, http.MethodPost, c.endpoints.Refresh, struct{}{}, token)
	if err != nil {
		return session.AuthResponse{}, fmt.Errorf("%w: %w", session.ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return session.AuthResponse{}, pipeline.NewStatusError(resp, session.ErrRefreshFailed)
	}
	out, err := decode[session.AuthResponse](resp)
	if err != nil {
		return session.AuthResponse{}, fmt.Errorf("%w: %w", session.ErrRefreshFailed, err)
	}
	return out, nil
}

// Me fetches the current user through hc, normally a pipeline client.
func (c *Client) Me(ctx context.Context, hc *http.Client) (UserInfo, error) {
	if hc == nil {
		hc = c.http
	}
	resp, err := c.send(ctx, hc, http.MethodGet, c.endpoints.Me, nil, "")
	if err != nil {
		return UserInfo{}, err
	}
	defer resp.Body.Close()
	if err := pipeline.CheckResponse(resp); err != nil {
		return UserInfo{}, err
	}
	return decode[UserInfo](resp)
}

func (c *Client) send(ctx context.Context, hc *http.Client, method, path string, body any, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	cancel := context.CancelFunc(func() {})
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), reader)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		cancel()
		c.logger.Debug("request failed", "method", method, "path", path, "error", err)
		return nil, fmt.Errorf("%w: %s %s: %w", session.ErrNetwork, method, path, err)
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelBody releases the request timeout when the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func decode[T any](resp *http.Response) (T, error) {
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decoding response: %w", err)
	}
	return out, nil
}
