package session

import "time"

const (
	// DefaultRefreshWindow is how close to expiry a token becomes Expiring.
	DefaultRefreshWindow = 5 * time.Minute
	// DefaultTokenTTL is assumed when neither the backend nor the token
	// states an expiry.
	DefaultTokenTTL = time.Hour
)

// Freshness classifies a stored token.
type Freshness uint8

const (
	// Absent means there is no token or no expiry.
	Absent Freshness = iota
	// Fresh tokens have more than the refresh window left.
	Fresh
	// Expiring tokens are valid but inside the refresh window.
	Expiring
	// Expired tokens have no time left.
	Expired
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Expiring:
		return "expiring"
	case Expired:
		return "expired"
	default:
		return "absent"
	}
}

// Valid reports whether the token can still be used.
func (f Freshness) Valid() bool {
	return f == Fresh || f == Expiring
}

// Policy holds the freshness rules.
type Policy struct {
	RefreshWindow time.Duration
	DefaultTTL    time.Duration
}

// DefaultPolicy returns the five-minute refresh window policy.
func DefaultPolicy() Policy {
	return Policy{RefreshWindow: DefaultRefreshWindow, DefaultTTL: DefaultTokenTTL}
}

// Classify returns the freshness of a token expiring at expiresAt.
func (p Policy) Classify(expiresAt, now time.Time) Freshness {
	left := expiresAt.Sub(now)
	switch {
	case left <= 0:
		return Expired
	case left < p.RefreshWindow:
		return Expiring
	default:
		return Fresh
	}
}
