package shadowmesh

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shadowmesh/shadowmesh/credential"
	"github.com/shadowmesh/shadowmesh/internal/rate"
	"github.com/shadowmesh/shadowmesh/mail"
	"github.com/shadowmesh/shadowmesh/password"
	"github.com/shadowmesh/shadowmesh/token"
)

// Engine composes the rate limiter, code generators, TOTP engine, password
// hashers, and lockout state machine into the per-flow operations exposed
// to the HTTP layer. All state lives behind injected dependencies; the
// engine itself is safe for concurrent use.
type Engine struct {
	config        Config
	store         credential.Store
	mailer        mail.Sender
	limiter       *rate.Limiter
	totp          *totpManager
	adminHash     *password.Argon2
	memberHash    *password.Derived
	tokens        *token.Manager
	audit         *auditDispatcher
	metrics       *Metrics
	log           *zap.Logger
	now           func() time.Time
	publicBaseURL string
}

// Close flushes the audit dispatcher. Call once on shutdown.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// MetricsSnapshot exposes the engine counters for scraping.
func (e *Engine) MetricsSnapshot() map[string]uint64 {
	if e == nil {
		return map[string]uint64{}
	}
	return e.metrics.Snapshot()
}

// ParseSession validates a bearer token and returns its claims.
func (e *Engine) ParseSession(tokenStr string) (*token.SessionClaims, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	return e.tokens.Parse(tokenStr)
}

// AuditDropped reports how many audit events were shed under load.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AdminLogin verifies an admin password under the persistent lockout state
// machine. A locked account short-circuits before any hash work. On
// success the result reports whether a second factor is still required;
// the session token is withheld until Verify2FA in that case.
func (e *Engine) AdminLogin(ctx context.Context, email, passwordPlain string) (*LoginResult, error) {
	if e == nil || e.store == nil || e.adminHash == nil {
		return nil, ErrEngineNotReady
	}

	email = normalizeIdentifier(email)
	now := e.now()

	record, err := e.store.Get(ctx, email)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			// Burn equivalent hash work so response timing does not
			// reveal whether the account exists.
			e.adminHash.DummyVerify(passwordPlain)
			e.metrics.Inc(MetricLoginFailure)
			e.emitAudit(ctx, auditLogin, email, false, ErrInvalidCredentials, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, ErrStorageUnavailable
	}
	if record.Class != credential.ClassAdmin {
		// Wrong flow for this principal class; indistinguishable from a
		// missing account, and the record accrues no lockout state.
		e.adminHash.DummyVerify(passwordPlain)
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, auditLogin, email, false, ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	if record.Locked(now) {
		e.metrics.Inc(MetricLockoutRejected)
		lockErr := newLockoutError(time.Unix(record.LockedUntil, 0), now)
		e.emitAudit(ctx, auditLogin, email, false, lockErr, map[string]string{"reason": "locked"})
		return nil, lockErr
	}

	ok := false
	if record.PasswordHash != "" {
		ok, err = e.adminHash.Verify(passwordPlain, record.PasswordHash)
		if err != nil {
			ok = false
		}
	} else {
		e.adminHash.DummyVerify(passwordPlain)
	}

	if !ok {
		updated, err := e.recordFailedAttempt(ctx, email, now)
		if err != nil {
			return nil, ErrStorageUnavailable
		}
		e.metrics.Inc(MetricLoginFailure)
		if updated.Locked(now) {
			e.metrics.Inc(MetricLockoutTriggered)
			e.emitAudit(ctx, auditLockout, email, false, ErrAccountLocked, map[string]string{
				"failed_attempts": "threshold",
			})
		} else {
			e.emitAudit(ctx, auditLogin, email, false, ErrInvalidCredentials, nil)
		}
		return nil, ErrInvalidCredentials
	}

	ip := clientIPFromContext(ctx)
	if _, err := e.store.Update(ctx, email, func(r *credential.Record) error {
		r.ClearLockout()
		r.LastLoginAt = now.Unix()
		if ip != "" {
			r.LastLoginIP = ip
		}
		return nil
	}); err != nil {
		return nil, ErrStorageUnavailable
	}

	result := &LoginResult{
		Success:      true,
		Requires2FA:  record.TOTPEnabled,
		Has2FASecret: record.TOTPSecret != "",
	}
	if !result.Requires2FA {
		tok, err := e.tokens.Issue(email, string(credential.ClassAdmin), now)
		if err != nil {
			return nil, ErrStorageUnavailable
		}
		result.Token = tok
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, auditLogin, email, true, nil, nil)
	return result, nil
}

// MemberLogin verifies a member password against the deterministic digest
// scheme. Member flows carry rate limiting but no persisted lockout; the
// asymmetry with AdminLogin is intentional.
func (e *Engine) MemberLogin(ctx context.Context, memberID, passwordPlain string) (*LoginResult, error) {
	if e == nil || e.store == nil || e.memberHash == nil {
		return nil, ErrEngineNotReady
	}

	memberID = normalizeIdentifier(memberID)
	now := e.now()

	decision := e.limiter.CheckAndConsume("login:member:"+memberID, e.config.TwoFactor.MaxAttempts, e.config.TwoFactor.AttemptWindow)
	if !decision.Allowed {
		e.metrics.Inc(MetricRateLimited)
		e.emitAudit(ctx, auditRateLimited, memberID, false, ErrTooManyRequests, map[string]string{"flow": "member_login"})
		return nil, ErrTooManyRequests
	}

	record, err := e.store.Get(ctx, memberID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			e.memberHash.DummyVerify(passwordPlain)
			e.metrics.Inc(MetricLoginFailure)
			e.emitAudit(ctx, auditLogin, memberID, false, ErrInvalidCredentials, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, ErrStorageUnavailable
	}
	if record.Class != credential.ClassMember {
		e.memberHash.DummyVerify(passwordPlain)
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, auditLogin, memberID, false, ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	if !e.memberHash.Verify(memberID, passwordPlain, record.PasswordHash) {
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, auditLogin, memberID, false, ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	ip := clientIPFromContext(ctx)
	if _, err := e.store.Update(ctx, memberID, func(r *credential.Record) error {
		r.LastLoginAt = now.Unix()
		if ip != "" {
			r.LastLoginIP = ip
		}
		return nil
	}); err != nil {
		return nil, ErrStorageUnavailable
	}

	result := &LoginResult{
		Success:      true,
		Requires2FA:  record.TOTPEnabled,
		Has2FASecret: record.TOTPSecret != "",
	}
	if !result.Requires2FA {
		tok, err := e.tokens.Issue(memberID, string(credential.ClassMember), now)
		if err != nil {
			return nil, ErrStorageUnavailable
		}
		result.Token = tok
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, auditLogin, memberID, true, nil, nil)
	return result, nil
}

// Verify2FA checks the TOTP code for a password-verified admin and issues
// the withheld session token. Attempts are throttled by the in-memory
// limiter so the second factor is not freely brute-forceable; this is
// deliberately lighter than the persisted login lockout.
func (e *Engine) Verify2FA(ctx context.Context, email, code string) (*LoginResult, error) {
	if e == nil || e.store == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}

	email = normalizeIdentifier(email)
	now := e.now()

	decision := e.limiter.CheckAndConsume("2fa:"+email, e.config.TwoFactor.MaxAttempts, e.config.TwoFactor.AttemptWindow)
	if !decision.Allowed {
		e.metrics.Inc(MetricTwoFactorRateLimited)
		e.emitAudit(ctx, auditRateLimited, email, false, ErrTooManyRequests, map[string]string{"flow": "2fa"})
		return nil, ErrTooManyRequests
	}

	record, err := e.store.Get(ctx, email)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, ErrStorageUnavailable
	}
	if record.Class != credential.ClassAdmin {
		return nil, ErrInvalidCredentials
	}
	if !record.TOTPEnabled || record.TOTPSecret == "" {
		return nil, ErrNotConfigured
	}

	if err := e.checkTOTP(ctx, email, record, code, now); err != nil {
		e.metrics.Inc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditTwoFactor, email, false, err, nil)
		return nil, err
	}

	e.limiter.Reset("2fa:" + email)
	tok, err := e.tokens.Issue(email, string(credential.ClassAdmin), now)
	if err != nil {
		return nil, ErrStorageUnavailable
	}

	e.metrics.Inc(MetricTwoFactorSuccess)
	e.emitAudit(ctx, auditTwoFactor, email, true, nil, nil)
	return &LoginResult{Success: true, Token: tok}, nil
}

// checkTOTP validates a candidate code against the record's secret and,
// when replay protection is on, atomically advances the last-used counter
// so the same code cannot be accepted twice within the skew window.
func (e *Engine) checkTOTP(ctx context.Context, identifier string, record *credential.Record, code string, now time.Time) error {
	ok, counter, err := e.totp.VerifyCode(record.TOTPSecret, code, now)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCode
	}

	if !e.config.TOTP.EnforceReplayProtection {
		return nil
	}
	if counter <= record.LastUsedCounter {
		return ErrInvalidCode
	}

	_, err = e.store.Update(ctx, identifier, func(r *credential.Record) error {
		if counter <= r.LastUsedCounter {
			return ErrInvalidCode
		}
		r.LastUsedCounter = counter
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidCode) {
			return ErrInvalidCode
		}
		return ErrStorageUnavailable
	}
	return nil
}

// recordFailedAttempt applies the failure transition of the lockout state
// machine under the store's atomic update: lazily expire a stale lockout,
// bump the counter, and lock when the threshold is reached.
func (e *Engine) recordFailedAttempt(ctx context.Context, identifier string, now time.Time) (*credential.Record, error) {
	return e.store.Update(ctx, identifier, func(r *credential.Record) error {
		if r.LockedUntil != 0 && now.Unix() >= r.LockedUntil {
			r.ClearLockout()
		}
		r.FailedAttempts++
		if r.FailedAttempts >= e.config.Lockout.MaxAttempts {
			r.LockedUntil = now.Add(e.config.Lockout.Duration).Unix()
		}
		return nil
	})
}

// lazyExpireChallenge clears one-time material observed past its expiry,
// so an expired challenge never lingers on the record. The attempt was
// already rejected; a failed cleanup only delays the clear to the next
// observation.
func (e *Engine) lazyExpireChallenge(ctx context.Context, identifier string, clear func(*credential.Record)) {
	if _, err := e.store.Update(ctx, identifier, func(r *credential.Record) error {
		clear(r)
		return nil
	}); err != nil && !errors.Is(err, credential.ErrNotFound) {
		e.log.Warn("expired challenge cleanup failed", zap.String("identifier", identifier), zap.Error(err))
	}
}

func (e *Engine) emitAudit(ctx context.Context, eventType, identifier string, success bool, cause error, metadata map[string]string) {
	if e.audit == nil {
		return
	}
	event := AuditEvent{
		Timestamp:  e.now(),
		EventType:  eventType,
		Identifier: identifier,
		IP:         clientIPFromContext(ctx),
		Success:    success,
		Metadata:   metadata,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	e.audit.Emit(ctx, event)
}

func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
