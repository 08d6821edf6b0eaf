package fakeauth

import (
	"context"
	"net/http"
	"strings"
	"time"
)

type contextKey int

const claimsKey contextKey = iota

// requireToken rejects requests without a valid, unrevoked bearer token.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := s.authenticate(w, r, 0)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, c)))
	})
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, leeway time.Duration) (*claims, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		s.unauthorized.Add(1)
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	c, err := s.verify(token, leeway)
	if err != nil {
		s.unauthorized.Add(1)
		s.logger.Debug("token rejected", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusUnauthorized, "token expired or revoked")
		return nil, false
	}
	return c, true
}

func claimsFromContext(ctx context.Context) *claims {
	c, _ := ctx.Value(claimsKey).(*claims)
	return c
}

// securityHeaders sets standard security response headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
