package password

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/pbkdf2"
)

// DeriveConfig parameterizes the deterministic member-credential scheme.
// The salt is principalID + AppSalt, so the digest is reproducible from
// the member's identity without storing a per-record salt.
type DeriveConfig struct {
	Iterations int
	KeyLength  int
	AppSalt    string
}

// Derived is the deterministic PBKDF2-SHA256 hasher for member credentials.
type Derived struct {
	config DeriveConfig
}

// NewDerived validates the derivation parameters and returns a hasher.
func NewDerived(cfg DeriveConfig) (*Derived, error) {
	if cfg.Iterations < 100_000 {
		return nil, errors.New("pbkdf2 iterations must be >= 100000")
	}
	if cfg.KeyLength < 32 {
		return nil, errors.New("pbkdf2 key length must be >= 32")
	}
	if cfg.AppSalt == "" {
		return nil, errors.New("application salt required")
	}
	return &Derived{config: cfg}, nil
}

// Digest derives the hex digest for a principal's password.
func (d *Derived) Digest(principalID, password string) string {
	key := pbkdf2.Key(
		[]byte(password),
		[]byte(principalID+d.config.AppSalt),
		d.config.Iterations,
		d.config.KeyLength,
		sha256.New,
	)
	return hex.EncodeToString(key)
}

// Verify re-derives the digest and compares against the stored hex value
// in constant time. Hex decoding failures count as a mismatch.
func (d *Derived) Verify(principalID, password, storedHex string) bool {
	stored, err := hex.DecodeString(storedHex)
	if err != nil || len(stored) == 0 {
		return false
	}

	computed := pbkdf2.Key(
		[]byte(password),
		[]byte(principalID+d.config.AppSalt),
		d.config.Iterations,
		d.config.KeyLength,
		sha256.New,
	)

	return subtle.ConstantTimeCompare(computed, stored) == 1
}

// DummyVerify burns one derivation's worth of work for enumeration-safe
// paths where no record exists.
func (d *Derived) DummyVerify(password string) {
	_ = pbkdf2.Key(
		[]byte(password),
		[]byte("missing-principal"+d.config.AppSalt),
		d.config.Iterations,
		d.config.KeyLength,
		sha256.New,
	)
}
