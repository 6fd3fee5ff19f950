package shadowmesh

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shadowmesh/shadowmesh/credential"
	"github.com/shadowmesh/shadowmesh/internal"
	"github.com/shadowmesh/shadowmesh/mail"
	"github.com/shadowmesh/shadowmesh/password"
)

// RequestMemberReset starts the token-link reset flow for a member. Only
// the token's hash is persisted; the raw token travels exclusively in the
// emailed link.
func (e *Engine) RequestMemberReset(ctx context.Context, email string) (*GenericResponse, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	email = normalizeIdentifier(email)
	now := e.now()

	decision := e.limiter.CheckAndConsume("reset:member:"+email, e.config.MemberReset.MaxPerHour, time.Hour)
	if !decision.Allowed {
		e.metrics.Inc(MetricRateLimited)
		e.emitAudit(ctx, auditRateLimited, email, false, ErrTooManyRequests, map[string]string{"flow": "member_reset"})
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
	if record.Class != credential.ClassMember {
		// Wrong flow for this principal class; same generic answer.
		e.emitAudit(ctx, auditResetRequest, email, true, nil, map[string]string{"delivered": "false"})
		return generic, nil
	}

	token, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, ErrEntropyUnavailable
	}
	tokenHash := internal.HashChallenge(token)

	expiresAt := now.Add(e.config.MemberReset.TTL)
	if _, err := e.store.Update(ctx, email, func(r *credential.Record) error {
		r.ResetTokenHash = tokenHash
		r.ResetTokenExpiresAt = expiresAt.Unix()
		return nil
	}); err != nil {
		return nil, ErrStorageUnavailable
	}
	// Secondary index so confirmation can find the record by token alone.
	if err := e.store.SaveResetToken(ctx, tokenHash, email, e.config.MemberReset.TTL); err != nil {
		return nil, ErrStorageUnavailable
	}

	link := e.resetLink(token)
	if err := e.mailer.Send(ctx, mail.ResetLinkMessage(email, link, e.config.MemberReset.TTL)); err != nil {
		e.log.Warn("reset link email failed", zap.String("identifier", email), zap.Error(err))
	}

	e.metrics.Inc(MetricResetRequested)
	e.emitAudit(ctx, auditResetRequest, email, true, nil, map[string]string{"delivered": "true"})
	return generic, nil
}

// ConfirmMemberReset redeems the emailed token exactly once and rewrites
// the member's deterministic digest with the new password.
func (e *Engine) ConfirmMemberReset(ctx context.Context, token, newPassword, confirmPassword string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	now := e.now()

	if newPassword != confirmPassword {
		return ErrPasswordMismatch
	}
	if err := password.ValidatePolicy(newPassword); err != nil {
		return ErrWeakPassword
	}

	tokenHash := internal.HashChallenge(token)
	identifier, err := e.store.ConsumeResetToken(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			e.metrics.Inc(MetricResetRejected)
			e.emitAudit(ctx, auditResetConfirm, "", false, ErrInvalidCode, map[string]string{"flow": "member_reset"})
			return ErrInvalidCode
		}
		return ErrStorageUnavailable
	}

	digest := e.memberHash.Digest(identifier, newPassword)
	expired := false
	if _, err := e.store.Update(ctx, identifier, func(r *credential.Record) error {
		if r.Class != credential.ClassMember || r.ResetTokenHash != tokenHash {
			return ErrInvalidCode
		}
		if r.ResetTokenExpiresAt != 0 && now.Unix() >= r.ResetTokenExpiresAt {
			// Expired challenges are cleared, never left dangling.
			expired = true
			r.ClearResetToken()
			return nil
		}
		r.PasswordHash = digest
		r.ClearResetToken()
		r.ClearLockout()
		return nil
	}); err != nil {
		if errors.Is(err, ErrInvalidCode) {
			e.metrics.Inc(MetricResetRejected)
			return err
		}
		return ErrStorageUnavailable
	}
	if expired {
		e.metrics.Inc(MetricResetRejected)
		e.emitAudit(ctx, auditResetConfirm, identifier, false, ErrCodeExpired, map[string]string{"flow": "member_reset"})
		return ErrCodeExpired
	}

	e.metrics.Inc(MetricResetConfirmed)
	e.emitAudit(ctx, auditResetConfirm, identifier, true, nil, map[string]string{"flow": "member_reset"})
	return nil
}

func (e *Engine) resetLink(token string) string {
	base := strings.TrimRight(e.publicBaseURL, "/")
	return base + "/reset-password?token=" + url.QueryEscape(token)
}
