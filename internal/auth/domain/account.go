package domain

import (
	"strings"
	"time"
)

type Account struct {
	ID               string
	Username         string // lowercase, never contains "@"
	Email            string // lowercase, always contains "@"
	SecretHash       string // argon2id PHC string
	Active           bool
	TwoFactorEnabled bool
	TOTPSecret       *string    // sealed base32 seed (nullable)
	TOTPEnabledAt    *time.Time // set once enrollment is confirmed
	CreatedAt        time.Time
	LastLoginAt      *time.Time
}

// UsesTOTP reports whether the second factor is an authenticator app rather
// than a delivered code.
func (a Account) UsesTOTP() bool {
	return a.TwoFactorEnabled && a.TOTPSecret != nil && a.TOTPEnabledAt != nil
}

// NormalizeIdentifier folds an identifier for case-insensitive lookup.
func NormalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsEmailIdentifier reports whether a normalized identifier belongs to the
// email namespace. Usernames may not contain "@", so the two never collide.
func IsEmailIdentifier(s string) bool {
	return strings.Contains(s, "@")
}
