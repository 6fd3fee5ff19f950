package credential

import "time"

// Class distinguishes the two principal classes, which use different
// password hash schemes and different lockout coverage.
type Class string

const (
	ClassAdmin  Class = "admin"
	ClassMember Class = "member"
)

// Record is the persisted credential state for one principal. The
// identifier (email) is the primary lookup key and never changes.
//
// One-time material is stored hashed (SHA-256 hex), never in the clear:
// the plaintext code or token exists only in the email that delivered it.
type Record struct {
	Identifier string `json:"identifier"`
	Class      Class  `json:"class"`

	// PasswordHash is scheme-dependent: a PHC argon2id string for admins,
	// a PBKDF2 hex digest for members. Empty means no password set.
	PasswordHash string `json:"password_hash,omitempty"`

	// TOTPSecret is the base32 shared secret, empty until provisioned.
	// TOTPEnabled flips only after the owner proves possession with a
	// valid code. LastUsedCounter rejects replayed codes within the
	// tolerance window.
	TOTPSecret      string `json:"totp_secret,omitempty"`
	TOTPEnabled     bool   `json:"totp_enabled,omitempty"`
	LastUsedCounter int64  `json:"last_used_counter,omitempty"`

	// BackupOTPHash is the single-use fallback code for member
	// verification; cleared on consumption or expiry.
	BackupOTPHash      string `json:"backup_otp_hash,omitempty"`
	BackupOTPExpiresAt int64  `json:"backup_otp_expires_at,omitempty"`

	// ResetOTPHash (admin flow) and ResetTokenHash (member flow) are the
	// password-reset challenges, each with its own expiry. Both are
	// single-use and cleared once consumed or seen expired.
	ResetOTPHash        string `json:"reset_otp_hash,omitempty"`
	ResetOTPExpiresAt   int64  `json:"reset_otp_expires_at,omitempty"`
	ResetTokenHash      string `json:"reset_token_hash,omitempty"`
	ResetTokenExpiresAt int64  `json:"reset_token_expires_at,omitempty"`

	FailedAttempts int   `json:"failed_attempts,omitempty"`
	LockedUntil    int64 `json:"locked_until,omitempty"`

	LastLoginAt int64  `json:"last_login_at,omitempty"`
	LastLoginIP string `json:"last_login_ip,omitempty"`
}

// Locked reports whether the lockout window is still active at now.
func (r *Record) Locked(now time.Time) bool {
	return r.LockedUntil != 0 && now.Unix() < r.LockedUntil
}

// ClearLockout resets the failure counter and lockout timestamp together;
// the two are never cleared independently.
func (r *Record) ClearLockout() {
	r.FailedAttempts = 0
	r.LockedUntil = 0
}

// ClearBackupOTP removes the backup code so it can never be replayed.
func (r *Record) ClearBackupOTP() {
	r.BackupOTPHash = ""
	r.BackupOTPExpiresAt = 0
}

// ClearResetOTP removes the admin reset challenge.
func (r *Record) ClearResetOTP() {
	r.ResetOTPHash = ""
	r.ResetOTPExpiresAt = 0
}

// ClearResetToken removes the member reset challenge.
func (r *Record) ClearResetToken() {
	r.ResetTokenHash = ""
	r.ResetTokenExpiresAt = 0
}
