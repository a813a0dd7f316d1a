package domain

import "time"

type AuditAction string

const (
	AuditLogin         AuditAction = "login"
	AuditTwoFactor     AuditAction = "two_factor"
	AuditRefresh       AuditAction = "refresh"
	AuditLogout        AuditAction = "logout"
	AuditResetInitiate AuditAction = "reset_initiate"
	AuditResetComplete AuditAction = "reset_complete"
)

// AuditEvent records one authentication outcome. Outcome is "success" or the
// internal failure reason.
type AuditEvent struct {
	ID        string
	AccountID *string
	Action    AuditAction
	Outcome   string
	CreatedAt time.Time
}
