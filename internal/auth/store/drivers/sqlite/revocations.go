package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
)

type revocationsRepo struct{ q dbtx }

// RevokeFamily keeps the first recorded reason when a family is revoked twice.
func (r *revocationsRepo) RevokeFamily(ctx context.Context, rf domain.RevokedFamily) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO revoked_families (family_id, account_id, reason, revoked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (family_id) DO NOTHING`,
		rf.FamilyID, rf.AccountID, rf.Reason, toMillis(rf.RevokedAt))
	return err
}

func (r *revocationsRepo) IsFamilyRevoked(ctx context.Context, familyID string) (bool, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM revoked_families WHERE family_id = ?`, familyID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *revocationsRepo) DeleteRevocationsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM revoked_families WHERE revoked_at < ?`, toMillis(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
