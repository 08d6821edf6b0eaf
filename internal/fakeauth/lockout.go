package fakeauth

import (
	"strconv"
	"sync"
	"time"
)

const (
	// maxFailures is the number of consecutive failures before lockout begins.
	maxFailures = 5
	baseLockout = time.Minute
	maxLockout  = 15 * time.Minute
	// attemptExpiry is how long a failure record lives after the last failure.
	attemptExpiry = time.Hour
)

// lockout tracks failed logins per account and applies exponential backoff.
type lockout struct {
	mu       sync.Mutex
	now      func() time.Time
	attempts map[string]*attemptRecord
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

func newLockout(now func() time.Time) *lockout {
	return &lockout{now: now, attempts: make(map[string]*attemptRecord)}
}

// check reports whether account is locked and for how long.
func (l *lockout) check(account string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.attempts[account]
	if !ok {
		return false, 0
	}
	now := l.now()
	if now.Sub(rec.lastFailure) > attemptExpiry {
		delete(l.attempts, account)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

func (l *lockout) recordFailure(account string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.attempts[account]
	if !ok {
		rec = &attemptRecord{}
		l.attempts[account] = rec
	}
	rec.failures++
	rec.lastFailure = l.now()

	if rec.failures >= maxFailures {
		// baseLockout * 2^(failures - maxFailures), capped.
		d := baseLockout
		for i := 0; i < rec.failures-maxFailures && d < maxLockout; i++ {
			d *= 2
		}
		rec.lockedUntil = rec.lastFailure.Add(min(d, maxLockout))
	}
}

func (l *lockout) recordSuccess(account string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, account)
}

func retryAfterString(d time.Duration) string {
	return strconv.Itoa(max(int(d.Seconds()), 1))
}
