package domain

import "time"

// TokenPair is what a successful login, verification or refresh returns: the
// short-lived access token (JWT) and the opaque refresh token.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"` // always "Bearer"
	ExpiresIn        int64     `json:"expires_in"` // seconds until the access token expires
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	FamilyID         string    `json:"-"`
	AccountID        string    `json:"-"`
}

type RefreshStatus string

const (
	RefreshActive  RefreshStatus = "active"
	RefreshRotated RefreshStatus = "rotated"
	RefreshRevoked RefreshStatus = "revoked"
)

// RefreshToken is the stored refresh-token record. Rotated tokens are kept
// until they expire so a replay can be recognised.
type RefreshToken struct {
	ID        string
	TokenHash string // deterministic fingerprint (base64url SHA-256)
	AccountID string
	FamilyID  string
	ParentID  *string
	AMR       []string
	Status    RefreshStatus
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RevokedFamily is a Revocation Store ledger entry.
type RevokedFamily struct {
	FamilyID  string
	AccountID string
	Reason    string
	RevokedAt time.Time
}

// Revocation reasons.
const (
	RevokeLogout        = "logout"
	RevokeReuseDetected = "reuse_detected"
	RevokeSecretChanged = "secret_changed"
	RevokeInactive      = "account_inactive"
	RevokeTerminated    = "terminated"
)
