package domain

import "time"

// Notification is an out-of-band message carrying a one-time code.
type Notification struct {
	Purpose   ChallengePurpose
	AccountID string
	Recipient string // email when known, otherwise the username
	Code      string
	ExpiresAt time.Time
}
