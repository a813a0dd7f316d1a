package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
)

type auditRepo struct{ q dbtx }

func (r *auditRepo) RecordAuditEvent(ctx context.Context, e domain.AuditEvent) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO audit_events (id, account_id, action, outcome, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, mapOptionalString(e.AccountID), string(e.Action), e.Outcome, toMillis(e.CreatedAt))
	return err
}

func (r *auditRepo) DeleteAuditEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM audit_events WHERE created_at < ?`, toMillis(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
