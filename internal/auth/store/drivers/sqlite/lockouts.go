package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
)

type lockoutsRepo struct {
	q      dbtx
	atomic atomicFn
}

func getLockout(ctx context.Context, q dbtx, accountID string) (domain.LockoutState, error) {
	var (
		s           domain.LockoutState
		lockedUntil sql.NullInt64
		updatedAt   int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT account_id, failures, locked_until, updated_at FROM lockouts WHERE account_id = ?`, accountID,
	).Scan(&s.AccountID, &s.Failures, &lockedUntil, &updatedAt)
	if err != nil {
		return domain.LockoutState{}, mapNotFound(err)
	}
	s.LockedUntil = mapNullTimePtr(lockedUntil)
	s.UpdatedAt = fromMillis(updatedAt)
	return s, nil
}

func (r *lockoutsRepo) GetLockout(ctx context.Context, accountID string) (domain.LockoutState, error) {
	return getLockout(ctx, r.q, accountID)
}

func (r *lockoutsRepo) RecordFailure(ctx context.Context, accountID string, rule domain.LockoutRule) (domain.LockoutState, error) {
	var out domain.LockoutState
	err := r.atomic(ctx, func(q dbtx) error {
		s, err := getLockout(ctx, q, accountID)
		if errors.Is(err, store.ErrNotFound) {
			s = domain.LockoutState{AccountID: accountID}
		} else if err != nil {
			return err
		}

		s.RecordFailure(rule)

		_, err = q.ExecContext(ctx, `
			INSERT INTO lockouts (account_id, failures, locked_until, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (account_id) DO UPDATE SET
				failures = excluded.failures,
				locked_until = excluded.locked_until,
				updated_at = excluded.updated_at`,
			accountID, s.Failures, mapOptionalTime(s.LockedUntil), toMillis(s.UpdatedAt))
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

func (r *lockoutsRepo) DeleteLockout(ctx context.Context, accountID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM lockouts WHERE account_id = ?`, accountID)
	return err
}

func (r *lockoutsRepo) DeleteStaleLockouts(ctx context.Context, before time.Time) (int64, error) {
	cutoff := toMillis(before)
	res, err := r.q.ExecContext(ctx, `
		DELETE FROM lockouts
		WHERE updated_at < ? AND (locked_until IS NULL OR locked_until < ?)`, cutoff, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
