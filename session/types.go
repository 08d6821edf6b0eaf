package session

import (
	"context"
	"time"
)

// Storage keys owned by the Manager.
const (
	KeyAuthToken   = "auth_token"
	KeyTokenExpiry = "token_expiry"
	KeyUserData    = "user_data"
)

// Credentials identify the user at login: an email or a CPF, plus the password.
type Credentials struct {
	Email    string `json:"email,omitempty"`
	CPF      string `json:"cpf,omitempty"`
	Password string `json:"senha"`
}

// Profile is the user data kept alongside the token.
type Profile struct {
	UserID      int64    `json:"userId"`
	Email       string   `json:"email"`
	Authorities []string `json:"authorities"`
}

// AuthResponse is what the backend returns from login and refresh.
// ExpiresIn is in seconds; zero means the backend did not say.
type AuthResponse struct {
	Token       string   `json:"token"`
	TokenType   string   `json:"tokenType"`
	ExpiresIn   int64    `json:"expiresIn"`
	UserID      int64    `json:"userId"`
	Email       string   `json:"email"`
	Authorities []string `json:"authorities"`
}

// Profile returns the profile part of the response.
func (r AuthResponse) Profile() Profile {
	return Profile{UserID: r.UserID, Email: r.Email, Authorities: r.Authorities}
}

// Session is an authenticated session.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Profile   Profile
}

// State is the coarse authentication state.
type State uint8

const (
	Anonymous State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "anonymous"
}

// Authenticator performs the backend calls a Manager delegates to.
// Implementations map a rejected login to ErrInvalidCredentials, transport
// failures to ErrNetwork and a rejected refresh to ErrRefreshFailed.
type Authenticator interface {
	Login(ctx context.Context, creds Credentials) (AuthResponse, error)
	Refresh(ctx context.Context, token string) (AuthResponse, error)
}
