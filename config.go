package shadowmesh

import (
	"errors"
	"time"

	"github.com/shadowmesh/shadowmesh/password"
	"github.com/shadowmesh/shadowmesh/token"
)

// Config tunes every engine subsystem. Zero values are filled in by
// defaultConfig; Validate rejects combinations that would weaken the
// security properties rather than silently correcting them.
type Config struct {
	Issuer string

	TOTP        TOTPConfig
	Lockout     LockoutConfig
	AdminReset  ResetConfig
	MemberReset ResetConfig
	BackupOTP   BackupOTPConfig
	TwoFactor   TwoFactorConfig

	Argon2 password.Argon2Config
	Derive password.DeriveConfig
	Token  token.Config

	Audit AuditConfig
}

// TOTPConfig parameterizes code derivation and verification.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int // seconds
	Skew      int // steps of tolerance each direction
	Algorithm string
	// EnforceReplayProtection persists the last accepted counter per
	// secret and rejects candidates at or below it.
	EnforceReplayProtection bool
}

// LockoutConfig governs the persistent admin-login lockout. Member flows
// deliberately carry no lockout, only rate limiting.
type LockoutConfig struct {
	MaxAttempts int
	Duration    time.Duration
}

// ResetConfig governs one password-reset flow.
type ResetConfig struct {
	OTPDigits  int // 0 for token-based flows
	TTL        time.Duration
	MaxPerHour int
}

// BackupOTPConfig governs the single-use fallback verification code.
type BackupOTPConfig struct {
	Digits     int
	TTL        time.Duration
	MaxPerHour int
}

// TwoFactorConfig throttles 2FA code attempts so the second factor is not
// freely brute-forceable between login lockouts.
type TwoFactorConfig struct {
	MaxAttempts   int
	AttemptWindow time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// DefaultConfig returns the baseline configuration; callers must still
// supply the token secret and application salt.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Issuer: "ShadowMesh",
		TOTP: TOTPConfig{
			Issuer:                  "ShadowMesh",
			Digits:                  6,
			Period:                  30,
			Skew:                    1,
			Algorithm:               "SHA1",
			EnforceReplayProtection: true,
		},
		Lockout: LockoutConfig{
			MaxAttempts: 5,
			Duration:    15 * time.Minute,
		},
		AdminReset: ResetConfig{
			OTPDigits:  6,
			TTL:        10 * time.Minute,
			MaxPerHour: 3,
		},
		MemberReset: ResetConfig{
			TTL:        time.Hour,
			MaxPerHour: 3,
		},
		BackupOTP: BackupOTPConfig{
			Digits:     6,
			TTL:        10 * time.Minute,
			MaxPerHour: 5,
		},
		TwoFactor: TwoFactorConfig{
			MaxAttempts:   10,
			AttemptWindow: 5 * time.Minute,
		},
		Argon2: password.Argon2Config{
			Memory:      64 * 1024,
			Time:        2,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Derive: password.DeriveConfig{
			Iterations: 100_000,
			KeyLength:  32,
		},
		Token: token.Config{
			Issuer: "ShadowMesh",
			TTL:    time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

// Validate rejects configurations that would weaken the engine's
// guarantees.
func (c *Config) Validate() error {
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return errors.New("totp digits must be 6..8")
	}
	if c.TOTP.Period < 15 {
		return errors.New("totp period must be >= 15s")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("totp skew must be 0..2 steps")
	}
	if c.Lockout.MaxAttempts < 3 {
		return errors.New("lockout threshold must be >= 3")
	}
	if c.Lockout.Duration < time.Minute {
		return errors.New("lockout duration must be >= 1m")
	}
	if c.AdminReset.OTPDigits < 6 {
		return errors.New("admin reset otp must have >= 6 digits")
	}
	if c.AdminReset.TTL <= 0 || c.MemberReset.TTL <= 0 || c.BackupOTP.TTL <= 0 {
		return errors.New("challenge TTLs must be positive")
	}
	if c.AdminReset.MaxPerHour <= 0 || c.MemberReset.MaxPerHour <= 0 || c.BackupOTP.MaxPerHour <= 0 {
		return errors.New("rate-limit budgets must be positive")
	}
	if c.TwoFactor.MaxAttempts <= 0 || c.TwoFactor.AttemptWindow <= 0 {
		return errors.New("two-factor attempt budget must be positive")
	}
	return nil
}
