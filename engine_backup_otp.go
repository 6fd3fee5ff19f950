package shadowmesh

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/shadowmesh/shadowmesh/credential"
	"github.com/shadowmesh/shadowmesh/internal"
	"github.com/shadowmesh/shadowmesh/mail"
)

// SendBackupOTP issues a single-use fallback verification code by email.
// The response is identical whether or not the address has an account;
// only the per-address rate limit is allowed to surface an error, since
// it reveals nothing the caller's own request history doesn't.
func (e *Engine) SendBackupOTP(ctx context.Context, email string) (*GenericResponse, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	email = normalizeIdentifier(email)
	now := e.now()

	decision := e.limiter.CheckAndConsume("otp:"+email, e.config.BackupOTP.MaxPerHour, time.Hour)
	if !decision.Allowed {
		e.metrics.Inc(MetricRateLimited)
		e.emitAudit(ctx, auditRateLimited, email, false, ErrTooManyRequests, map[string]string{"flow": "backup_otp"})
		return nil, ErrTooManyRequests
	}

	generic := &GenericResponse{Success: true, Message: genericOTPMessage}

	record, err := e.store.Get(ctx, email)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			e.emitAudit(ctx, auditOTPSend, email, true, nil, map[string]string{"delivered": "false"})
			return generic, nil
		}
		return nil, ErrStorageUnavailable
	}
	if record.Class != credential.ClassMember || !record.TOTPEnabled {
		// No member second factor to back up; same generic answer.
		e.emitAudit(ctx, auditOTPSend, email, true, nil, map[string]string{"delivered": "false"})
		return generic, nil
	}

	code, err := internal.NewNumericOTP(e.config.BackupOTP.Digits)
	if err != nil {
		return nil, ErrEntropyUnavailable
	}

	expiresAt := now.Add(e.config.BackupOTP.TTL)
	if _, err := e.store.Update(ctx, email, func(r *credential.Record) error {
		r.BackupOTPHash = internal.HashChallenge(code)
		r.BackupOTPExpiresAt = expiresAt.Unix()
		return nil
	}); err != nil {
		return nil, ErrStorageUnavailable
	}

	if err := e.mailer.Send(ctx, mail.BackupOTPMessage(email, code, e.config.BackupOTP.TTL)); err != nil {
		e.log.Warn("backup otp email failed", zap.String("identifier", email), zap.Error(err))
	}

	e.metrics.Inc(MetricOTPSent)
	e.emitAudit(ctx, auditOTPSend, email, true, nil, map[string]string{"delivered": "true"})
	return generic, nil
}
