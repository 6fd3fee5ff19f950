// Package token issues and validates the signed session tokens returned by
// a fully verified admin login. Tokens are short-lived bearer credentials
// for the admin surface; there is no server-side session state behind them.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalid covers malformed, mis-signed, and expired tokens alike.
	ErrInvalid = errors.New("invalid session token")
)

// Config holds signing parameters for session tokens.
type Config struct {
	Issuer string
	TTL    time.Duration
	Secret []byte
	Leeway time.Duration
}

// SessionClaims are the claims carried by a ShadowMesh session token.
type SessionClaims struct {
	Class string `json:"cls"`
	jwt.RegisteredClaims
}

// Manager signs and parses session tokens with HMAC-SHA256.
type Manager struct {
	config Config
}

// NewManager validates the config and returns a token manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("token secret must be at least 32 bytes")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("token TTL must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("token leeway out of range")
	}
	return &Manager{config: cfg}, nil
}

// Issue creates a token for the identifier with the configured TTL.
func (m *Manager) Issue(identifier, class string, now time.Time) (string, error) {
	claims := SessionClaims{
		Class: class,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   identifier,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TTL)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.Secret)
}

// Parse validates signature, issuer, and expiry and returns the claims.
func (m *Manager) Parse(tokenStr string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		tokenStr,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalid
			}
			return m.config.Secret, nil
		},
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithLeeway(m.config.Leeway),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalid
	}
	return claims, nil
}
