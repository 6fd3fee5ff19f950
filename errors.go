package shadowmesh

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers wrong password and unknown identifier
	// alike; callers must not distinguish the two.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout window is active.
	ErrAccountLocked = errors.New("account locked")
	// ErrInvalidCode is returned for a TOTP or one-time code that does not
	// match any acceptable value.
	ErrInvalidCode = errors.New("invalid code")
	// ErrCodeExpired is returned for a one-time code past its expiry.
	ErrCodeExpired = errors.New("code expired")
	// ErrInvalidSecret is returned when a stored shared secret cannot be
	// decoded as RFC 4648 base32.
	ErrInvalidSecret = errors.New("invalid totp secret")
	// ErrWeakPassword is returned when a candidate password fails policy.
	ErrWeakPassword = errors.New("password does not meet policy")
	// ErrPasswordMismatch is returned when password and confirmation differ.
	ErrPasswordMismatch = errors.New("passwords do not match")
	// ErrTooManyRequests is returned when a rate-limit window is exhausted.
	ErrTooManyRequests = errors.New("too many requests")
	// ErrNotConfigured is returned when a flow needs a provisioned TOTP
	// secret and none exists.
	ErrNotConfigured = errors.New("two-factor not configured")
	// ErrNotEnabled is returned when a flow requires two-factor to be
	// enabled and it is not.
	ErrNotEnabled = errors.New("two-factor not enabled")
	// ErrStorageUnavailable wraps any credential store failure. Internal
	// detail never crosses this boundary.
	ErrStorageUnavailable = errors.New("credential storage unavailable")
	// ErrEntropyUnavailable is returned when the secure random source
	// cannot be read. There is no weak-PRNG fallback.
	ErrEntropyUnavailable = errors.New("secure entropy unavailable")
	// ErrEngineNotReady is returned when a required dependency was not
	// injected before use.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LockoutError carries the remaining lockout window alongside the
// ErrAccountLocked identity so callers can report minutes remaining.
type LockoutError struct {
	Until time.Time
	// Remaining is rounded up so a 14m30s window reports as 15 minutes.
	Remaining time.Duration
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("account locked for %d more minute(s)", e.MinutesRemaining())
}

// Is makes errors.Is(err, ErrAccountLocked) hold for LockoutError values.
func (e *LockoutError) Is(target error) bool {
	return target == ErrAccountLocked
}

// MinutesRemaining reports the lockout time left, rounded up, minimum 1.
func (e *LockoutError) MinutesRemaining() int {
	m := int((e.Remaining + time.Minute - 1) / time.Minute)
	if m < 1 {
		m = 1
	}
	return m
}

func newLockoutError(until, now time.Time) *LockoutError {
	return &LockoutError{Until: until, Remaining: until.Sub(now)}
}
