package password

import (
	"errors"
	"unicode"
)

// ErrPolicy is returned when a candidate password fails the site policy.
var ErrPolicy = errors.New("password policy violation")

const minPolicyLength = 12

// ValidatePolicy enforces the ShadowMesh password policy: at least 12
// characters with upper, lower, digit, and special classes all present.
func ValidatePolicy(candidate string) error {
	if len(candidate) < minPolicyLength {
		return ErrPolicy
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	if !hasUpper || !hasLower || !hasDigit || !hasSpecial {
		return ErrPolicy
	}
	return nil
}
