package session

import (
	"errors"

	"github.com/jmcleod/sessionkeeper/storage"
)

var (
	// ErrInvalidCredentials is returned when the backend rejects a login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNetwork indicates the backend could not be reached.
	ErrNetwork = errors.New("network error")
	// ErrRefreshFailed is returned when the refresh endpoint rejects or errors.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrUnauthorized is a final 401, after any refresh-and-retry.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoSession indicates there is no stored token to act on.
	ErrNoSession = errors.New("no active session")
	// ErrEmptyToken is returned when the backend answers without a token.
	ErrEmptyToken = errors.New("authentication response carries no token")
)

// Messages shown to users. Every way of losing a session collapses into
// MessageLoginAgain.
const (
	MessageLoginAgain         = "please log in again"
	MessageInvalidCredentials = "invalid username or password"
	MessageNetwork            = "unable to reach the server"
	MessageStorage            = "session storage is unavailable"
	MessageUnexpected         = "something went wrong"
)

// UserMessage maps err to the message a user should see.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return MessageInvalidCredentials
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrRefreshFailed),
		errors.Is(err, ErrNoSession),
		errors.Is(err, ErrEmptyToken):
		return MessageLoginAgain
	case errors.Is(err, ErrNetwork):
		return MessageNetwork
	case errors.Is(err, storage.ErrUnavailable):
		return MessageStorage
	default:
		return MessageUnexpected
	}
}
