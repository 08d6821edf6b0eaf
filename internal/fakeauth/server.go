// Package fakeauth is an in-process stand-in for the authentication
// backend. It issues HS256 JWTs, refreshes and revokes them, and serves
// its OpenAPI document with a Redoc viewer.
package fakeauth

import (
	"crypto/rand"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jmcleod/sessionkeeper/session"
)

//go:embed openapi.yaml
var openapiSpec []byte

// DefaultTokenTTL is the lifetime of issued tokens.
const DefaultTokenTTL = time.Hour

// User is an account known to the server.
type User struct {
	ID          int64
	Email       string
	CPF         string
	Password    string
	Authorities []string
}

// DemoUser is registered when no user is configured.
var DemoUser = User{
	ID:          1,
	Email:       "demo@example.com",
	CPF:         "12345678909",
	Password:    "demo",
	Authorities: []string{"ROLE_USER"},
}

type claims struct {
	Email       string   `json:"email"`
	Authorities []string `json:"authorities"`
	jwt.RegisteredClaims
}

// Server is the fake backend. It is safe for concurrent use.
type Server struct {
	secret       []byte
	ttl          time.Duration
	now          func() time.Time
	omitExpiry   bool
	leeway       time.Duration
	logger       *slog.Logger
	limiter      *lockout
	users        []User
	mu           sync.Mutex
	revoked      map[string]bool
	issued       map[string]bool
	logins       atomic.Int32
	refreshes    atomic.Int32
	unauthorized atomic.Int32
}

// Option configures a Server.
type Option func(*Server)

// WithUser registers u. May be repeated.
func WithUser(u User) Option {
	return func(s *Server) { s.users = append(s.users, u) }
}

// WithTokenTTL sets the lifetime of issued tokens.
func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithClock sets the time source used to sign and verify tokens.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSecret sets the HMAC signing key.
func WithSecret(secret []byte) Option {
	return func(s *Server) { s.secret = secret }
}

// WithoutExpiresIn leaves expiresIn out of auth responses, so clients
// must read the exp claim.
func WithoutExpiresIn() Option {
	return func(s *Server) { s.omitExpiry = true }
}

// WithRefreshLeeway lets the refresh endpoint accept tokens that
// expired less than d ago.
func WithRefreshLeeway(d time.Duration) Option {
	return func(s *Server) { s.leeway = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New returns a Server.
func New(opts ...Option) *Server {
	s := &Server{
		ttl:     DefaultTokenTTL,
		now:     time.Now,
		logger:  slog.Default(),
		revoked: make(map[string]bool),
		issued:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.secret) == 0 {
		s.secret = make([]byte, 32)
		rand.Read(s.secret)
	}
	if len(s.users) == 0 {
		s.users = []User{DemoUser}
	}
	s.limiter = newLockout(s.now)
	s.logger = s.logger.With("component", "fakeauth")
	return s
}

// Router returns the HTTP routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(securityHeaders)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	r.Handle("/docs", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
		Title:   "sessionkeeper mock auth API",
	}, nil))

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)
		r.With(s.requireToken).Get("/auth/me", s.handleMe)
		r.With(s.requireToken).Get("/ping", s.handlePing)
	})
	return r
}

// Logins, Refreshes and Unauthorized count handled requests.
func (s *Server) Logins() int       { return int(s.logins.Load()) }
func (s *Server) Refreshes() int    { return int(s.refreshes.Load()) }
func (s *Server) Unauthorized() int { return int(s.unauthorized.Load()) }

// RevokeAll invalidates every issued token, as a backend restart or a
// server-side session purge would.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.issued {
		s.revoked[id] = true
	}
	clear(s.issued)
}

// Issue signs a token for u.
func (s *Server) Issue(u User) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	id := uuid.NewString()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email:       u.Email,
		Authorities: u.Authorities,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	s.mu.Lock()
	s.issued[id] = true
	s.mu.Unlock()
	return tok, exp, nil
}

var errRevoked = errors.New("token revoked")

func (s *Server) verify(token string, leeway time.Duration) (*claims, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithLeeway(leeway),
	)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked[c.ID] {
		return nil, errRevoked
	}
	return &c, nil
}

func (s *Server) revoke(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[id] = true
	delete(s.issued, id)
}

func (s *Server) lookup(email, cpf string) (User, bool) {
	for _, u := range s.users {
		if (email != "" && strings.EqualFold(u.Email, email)) || (cpf != "" && u.CPF == cpf) {
			return u, true
		}
	}
	return User{}, false
}

func (s *Server) response(u User, token string) session.AuthResponse {
	resp := session.AuthResponse{
		Token:       token,
		TokenType:   "Bearer",
		UserID:      u.ID,
		Email:       u.Email,
		Authorities: u.Authorities,
	}
	if !s.omitExpiry {
		resp.ExpiresIn = int64(s.ttl / time.Second)
	}
	return resp
}

type loginRequest struct {
	Email    string `json:"email"`
	CPF      string `json:"cpf"`
	Password string `json:"senha"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.logins.Add(1)
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	account := strings.ToLower(req.Email) + "|" + req.CPF
	if blocked, wait := s.limiter.check(account); blocked {
		w.Header().Set("Retry-After", retryAfterString(wait))
		writeError(w, http.StatusTooManyRequests, "too many failed login attempts; try again later")
		return
	}

	u, ok := s.lookup(req.Email, req.CPF)
	if !ok || u.Password != req.Password {
		s.limiter.recordFailure(account)
		s.unauthorized.Add(1)
		s.logger.Info("login rejected", "email", req.Email)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	s.limiter.recordSuccess(account)

	token, _, err := s.Issue(u)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("login", "user_id", u.ID)
	writeJSON(w, http.StatusOK, s.response(u, token))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshes.Add(1)
	c, ok := s.authenticate(w, r, s.leeway)
	if !ok {
		return
	}
	id, _ := strconv.ParseInt(c.Subject, 10, 64)
	u := User{ID: id, Email: c.Email, Authorities: c.Authorities}

	token, _, err := s.Issue(u)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.revoke(c.ID)
	s.logger.Info("token refreshed", "user_id", id)
	writeJSON(w, http.StatusOK, s.response(u, token))
}

type meResponse struct {
	TokenType   string   `json:"tokenType"`
	Email       string   `json:"email"`
	Authorities []string `json:"authorities"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	c := claimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, meResponse{TokenType: "Bearer", Email: c.Email, Authorities: c.Authorities})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	c := claimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "email": c.Email})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
