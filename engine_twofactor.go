package shadowmesh

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/shadowmesh/shadowmesh/credential"
	"github.com/shadowmesh/shadowmesh/internal"
)

const totpSecretLength = 32

// Setup2FA provisions a fresh shared secret for the identifier and returns
// it together with the otpauth URI. The secret is stored but NOT enabled;
// the caller must prove possession through Enable2FA before it counts.
func (e *Engine) Setup2FA(ctx context.Context, identifier string) (*TwoFactorSetup, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	identifier = normalizeIdentifier(identifier)

	secret, err := internal.NewBase32Secret(totpSecretLength)
	if err != nil {
		return nil, ErrEntropyUnavailable
	}

	if _, err := e.store.Update(ctx, identifier, func(r *credential.Record) error {
		r.TOTPSecret = secret
		r.TOTPEnabled = false
		r.LastUsedCounter = 0
		return nil
	}); err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, ErrStorageUnavailable
	}

	e.emitAudit(ctx, auditTwoFactorSetup, identifier, true, nil, map[string]string{"stage": "provision"})
	return &TwoFactorSetup{
		Secret:          secret,
		ProvisioningURI: e.totp.ProvisionURI(secret, identifier),
	}, nil
}

// Enable2FA flips totpEnabled once the caller proves they hold the secret
// by submitting a currently valid code. The secret argument must match
// what Setup2FA stored; a mismatch means enrollment was restarted elsewhere.
func (e *Engine) Enable2FA(ctx context.Context, identifier, secret, code string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	identifier = normalizeIdentifier(identifier)
	now := e.now()

	record, err := e.store.Get(ctx, identifier)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return ErrStorageUnavailable
	}
	if record.TOTPSecret == "" {
		return ErrNotConfigured
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(record.TOTPSecret)) != 1 {
		return ErrInvalidSecret
	}

	ok, counter, err := e.totp.VerifyCode(record.TOTPSecret, code, now)
	if err != nil {
		return err
	}
	if !ok {
		e.emitAudit(ctx, auditTwoFactorSetup, identifier, false, ErrInvalidCode, map[string]string{"stage": "enable"})
		return ErrInvalidCode
	}

	if _, err := e.store.Update(ctx, identifier, func(r *credential.Record) error {
		r.TOTPEnabled = true
		r.LastUsedCounter = counter
		return nil
	}); err != nil {
		return ErrStorageUnavailable
	}

	e.emitAudit(ctx, auditTwoFactorSetup, identifier, true, nil, map[string]string{"stage": "enable"})
	return nil
}

// Disable2FA clears the enabled flag, the secret, and any outstanding
// backup code so a stale fallback cannot outlive the factor it backed up.
func (e *Engine) Disable2FA(ctx context.Context, identifier string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	identifier = normalizeIdentifier(identifier)

	if _, err := e.store.Update(ctx, identifier, func(r *credential.Record) error {
		r.TOTPEnabled = false
		r.TOTPSecret = ""
		r.LastUsedCounter = 0
		r.ClearBackupOTP()
		return nil
	}); err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return ErrStorageUnavailable
	}

	e.emitAudit(ctx, auditTwoFactorSetup, identifier, true, nil, map[string]string{"stage": "disable"})
	return nil
}

// MemberVerify2FA checks a member's second factor and issues the session
// token MemberLogin withheld. A currently valid TOTP code is preferred;
// failing that, an unexpired backup code is accepted exactly once and
// cleared atomically on use.
func (e *Engine) MemberVerify2FA(ctx context.Context, memberID, code string) (*LoginResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	memberID = normalizeIdentifier(memberID)
	now := e.now()

	decision := e.limiter.CheckAndConsume("2fa:"+memberID, e.config.TwoFactor.MaxAttempts, e.config.TwoFactor.AttemptWindow)
	if !decision.Allowed {
		e.metrics.Inc(MetricTwoFactorRateLimited)
		e.emitAudit(ctx, auditRateLimited, memberID, false, ErrTooManyRequests, map[string]string{"flow": "member_2fa"})
		return nil, ErrTooManyRequests
	}

	record, err := e.store.Get(ctx, memberID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, ErrStorageUnavailable
	}
	if record.Class != credential.ClassMember {
		return nil, ErrInvalidCode
	}
	if !record.TOTPEnabled || record.TOTPSecret == "" {
		return nil, ErrNotEnabled
	}

	usedBackup := false
	if err := e.checkTOTP(ctx, memberID, record, code, now); err != nil {
		if !errors.Is(err, ErrInvalidCode) {
			return nil, err
		}
		if err := e.consumeBackupOTP(ctx, memberID, record, code, now); err != nil {
			e.metrics.Inc(MetricTwoFactorFailure)
			e.emitAudit(ctx, auditTwoFactor, memberID, false, err, nil)
			return nil, err
		}
		usedBackup = true
	}

	e.limiter.Reset("2fa:" + memberID)
	tok, err := e.tokens.Issue(memberID, string(credential.ClassMember), now)
	if err != nil {
		return nil, ErrStorageUnavailable
	}

	e.metrics.Inc(MetricTwoFactorSuccess)
	if usedBackup {
		e.metrics.Inc(MetricBackupOTPUsed)
		e.emitAudit(ctx, auditTwoFactor, memberID, true, nil, map[string]string{"method": "backup_otp"})
	} else {
		e.emitAudit(ctx, auditTwoFactor, memberID, true, nil, nil)
	}
	return &LoginResult{Success: true, Token: tok}, nil
}

// consumeBackupOTP accepts the fallback code at most once: the hash match
// and expiry are re-checked inside the atomic update so two concurrent
// submissions of the same code cannot both succeed. A challenge seen past
// its expiry is cleared on the spot, never left dangling.
func (e *Engine) consumeBackupOTP(ctx context.Context, identifier string, record *credential.Record, code string, now time.Time) error {
	if record.BackupOTPHash == "" {
		return ErrInvalidCode
	}
	if record.BackupOTPExpiresAt != 0 && now.Unix() >= record.BackupOTPExpiresAt {
		e.lazyExpireChallenge(ctx, identifier, func(r *credential.Record) { r.ClearBackupOTP() })
		return ErrCodeExpired
	}
	candidate := internal.HashChallenge(code)
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(record.BackupOTPHash)) != 1 {
		return ErrInvalidCode
	}

	expired := false
	_, err := e.store.Update(ctx, identifier, func(r *credential.Record) error {
		if r.BackupOTPHash == "" || subtle.ConstantTimeCompare([]byte(candidate), []byte(r.BackupOTPHash)) != 1 {
			return ErrInvalidCode
		}
		if r.BackupOTPExpiresAt != 0 && now.Unix() >= r.BackupOTPExpiresAt {
			expired = true
		}
		r.ClearBackupOTP()
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidCode) {
			return ErrInvalidCode
		}
		return ErrStorageUnavailable
	}
	if expired {
		return ErrCodeExpired
	}
	return nil
}
