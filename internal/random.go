// Package internal holds random-material generation shared by the engine:
// base32 TOTP secrets, uniformly distributed numeric one-time codes, and
// opaque reset tokens. Every generator reads crypto/rand and fails loudly
// when the platform entropy source is unavailable; there is no fallback.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
)

// base32Alphabet is the RFC 4648 alphabet, no padding symbol.
const base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

const opaqueTokenBytes = 32

// ErrEntropy indicates the secure random source could not be read.
var ErrEntropy = errors.New("entropy source unavailable")

// NewBase32Secret returns length uniformly random base32 characters,
// suitable as an authenticator shared secret after decoding.
func NewBase32Secret(length int) (string, error) {
	if length <= 0 {
		length = 32
	}

	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(base32Alphabet))))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrEntropy, err)
		}
		out[i] = base32Alphabet[n.Int64()]
	}
	return string(out), nil
}

// NewNumericOTP returns a uniformly random integer in [0, 10^digits),
// zero-padded to fixed width.
func NewNumericOTP(digits int) (string, error) {
	if digits <= 0 {
		digits = 6
	}

	bound := big.NewInt(1)
	for i := 0; i < digits; i++ {
		bound.Mul(bound, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// NewOpaqueToken returns 256 bits of entropy encoded base64url without
// padding, used for member password-reset links.
func NewOpaqueToken() (string, error) {
	raw := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashChallenge is the canonical digest for stored one-time material:
// codes and tokens are persisted as SHA-256 hex, never in the clear.
func HashChallenge(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
