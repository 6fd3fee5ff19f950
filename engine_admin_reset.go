package shadowmesh

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/shadowmesh/shadowmesh/credential"
	"github.com/shadowmesh/shadowmesh/internal"
	"github.com/shadowmesh/shadowmesh/mail"
	"github.com/shadowmesh/shadowmesh/password"
)

// RequestAdminReset starts the numeric-OTP reset flow for an admin. The
// generic response never reveals whether the address has an account.
func (e *Engine) RequestAdminReset(ctx context.Context, email string) (*GenericResponse, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	email = normalizeIdentifier(email)
	now := e.now()

	decision := e.limiter.CheckAndConsume("reset:admin:"+email, e.config.AdminReset.MaxPerHour, time.Hour)
	if !decision.Allowed {
		e.metrics.Inc(MetricRateLimited)
		e.emitAudit(ctx, auditRateLimited, email, false, ErrTooManyRequests, map[string]string{"flow": "admin_reset"})
		return nil, ErrTooManyRequests
	}

	generic := &GenericResponse{Success: true, Message: genericResetMessage}

	record, err := e.store.Get(ctx, email)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			e.emitAudit(ctx, auditResetRequest, email, true, nil, map[string]string{"delivered": "false"})
			return generic, nil
		}
		return nil, ErrStorageUnavailable
	}
	if record.Class != credential.ClassAdmin {
		// Wrong flow for this principal class; same generic answer.
		e.emitAudit(ctx, auditResetRequest, email, true, nil, map[string]string{"delivered": "false"})
		return generic, nil
	}

	code, err := internal.NewNumericOTP(e.config.AdminReset.OTPDigits)
	if err != nil {
		return nil, ErrEntropyUnavailable
	}

	expiresAt := now.Add(e.config.AdminReset.TTL)
	if _, err := e.store.Update(ctx, email, func(r *credential.Record) error {
		r.ResetOTPHash = internal.HashChallenge(code)
		r.ResetOTPExpiresAt = expiresAt.Unix()
		return nil
	}); err != nil {
		return nil, ErrStorageUnavailable
	}

	if err := e.mailer.Send(ctx, mail.ResetOTPMessage(email, code, e.config.AdminReset.TTL)); err != nil {
		e.log.Warn("reset otp email failed", zap.String("identifier", email), zap.Error(err))
	}

	e.metrics.Inc(MetricResetRequested)
	e.emitAudit(ctx, auditResetRequest, email, true, nil, map[string]string{"delivered": "true"})
	return generic, nil
}

// ConfirmAdminReset finishes the flow: OTP match and expiry, then policy,
// then a fresh adaptive hash. A successful reset also clears any lockout,
// since the principal has just proven control of the mailbox.
func (e *Engine) ConfirmAdminReset(ctx context.Context, email, code, newPassword, confirmPassword string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	email = normalizeIdentifier(email)
	now := e.now()

	if newPassword != confirmPassword {
		return ErrPasswordMismatch
	}
	if err := password.ValidatePolicy(newPassword); err != nil {
		return ErrWeakPassword
	}

	record, err := e.store.Get(ctx, email)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			e.metrics.Inc(MetricResetRejected)
			return ErrInvalidCode
		}
		return ErrStorageUnavailable
	}

	if record.Class != credential.ClassAdmin || record.ResetOTPHash == "" {
		e.metrics.Inc(MetricResetRejected)
		return ErrInvalidCode
	}
	if record.ResetOTPExpiresAt != 0 && now.Unix() >= record.ResetOTPExpiresAt {
		e.lazyExpireChallenge(ctx, email, func(r *credential.Record) { r.ClearResetOTP() })
		e.metrics.Inc(MetricResetRejected)
		e.emitAudit(ctx, auditResetConfirm, email, false, ErrCodeExpired, nil)
		return ErrCodeExpired
	}
	candidate := internal.HashChallenge(code)
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(record.ResetOTPHash)) != 1 {
		e.metrics.Inc(MetricResetRejected)
		e.emitAudit(ctx, auditResetConfirm, email, false, ErrInvalidCode, nil)
		return ErrInvalidCode
	}

	newHash, err := e.adminHash.Hash(newPassword)
	if err != nil {
		return ErrStorageUnavailable
	}

	if _, err := e.store.Update(ctx, email, func(r *credential.Record) error {
		if r.ResetOTPHash == "" || subtle.ConstantTimeCompare([]byte(candidate), []byte(r.ResetOTPHash)) != 1 {
			return ErrInvalidCode
		}
		r.PasswordHash = newHash
		r.ClearResetOTP()
		r.ClearLockout()
		return nil
	}); err != nil {
		if errors.Is(err, ErrInvalidCode) {
			e.metrics.Inc(MetricResetRejected)
			return ErrInvalidCode
		}
		return ErrStorageUnavailable
	}

	e.metrics.Inc(MetricResetConfirmed)
	e.emitAudit(ctx, auditResetConfirm, email, true, nil, nil)
	return nil
}
