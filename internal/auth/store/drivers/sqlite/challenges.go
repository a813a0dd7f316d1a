package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
)

type challengesRepo struct {
	q      dbtx
	atomic atomicFn
}

const challengeColumns = `purpose, account_id, id, method, code_hash, expires_at, attempts_remaining, consumed, created_at`

func scanChallenge(row interface{ Scan(...any) error }) (domain.Challenge, error) {
	var (
		c                    domain.Challenge
		purpose, method      string
		expiresAt, createdAt int64
		consumed             int
	)
	err := row.Scan(&purpose, &c.AccountID, &c.ID, &method, &c.CodeHash, &expiresAt,
		&c.AttemptsRemaining, &consumed, &createdAt)
	if err != nil {
		return domain.Challenge{}, mapNotFound(err)
	}
	c.Purpose = domain.ChallengePurpose(purpose)
	c.Method = domain.ChallengeMethod(method)
	c.ExpiresAt = fromMillis(expiresAt)
	c.Consumed = consumed == 1
	c.CreatedAt = fromMillis(createdAt)
	return c, nil
}

// UpsertChallenge replaces whatever challenge the account had for the purpose.
func (r *challengesRepo) UpsertChallenge(ctx context.Context, c domain.Challenge) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO challenges (`+challengeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (purpose, account_id) DO UPDATE SET
			id = excluded.id,
			method = excluded.method,
			code_hash = excluded.code_hash,
			expires_at = excluded.expires_at,
			attempts_remaining = excluded.attempts_remaining,
			consumed = excluded.consumed,
			created_at = excluded.created_at`,
		string(c.Purpose), c.AccountID, c.ID, string(c.Method), c.CodeHash,
		toMillis(c.ExpiresAt), c.AttemptsRemaining, boolToInt(c.Consumed), toMillis(c.CreatedAt),
	)
	return mapConstraint(err)
}

func (r *challengesRepo) GetChallengeByID(ctx context.Context, purpose domain.ChallengePurpose, id string) (domain.Challenge, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+challengeColumns+` FROM challenges WHERE purpose = ? AND id = ?`, string(purpose), id)
	return scanChallenge(row)
}

func (r *challengesRepo) GetChallengeByAccount(ctx context.Context, purpose domain.ChallengePurpose, accountID string) (domain.Challenge, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+challengeColumns+` FROM challenges WHERE purpose = ? AND account_id = ?`, string(purpose), accountID)
	return scanChallenge(row)
}

func (r *challengesRepo) ConsumeChallenge(
	ctx context.Context,
	purpose domain.ChallengePurpose,
	accountID, id string,
	now time.Time,
	matched bool,
) (store.AttemptResult, error) {
	var res store.AttemptResult
	err := r.atomic(ctx, func(q dbtx) error {
		row := q.QueryRowContext(ctx,
			`SELECT `+challengeColumns+` FROM challenges WHERE purpose = ? AND account_id = ?`, string(purpose), accountID)
		c, err := scanChallenge(row)
		if errors.Is(err, store.ErrNotFound) {
			res = store.AttemptResult{Outcome: domain.AttemptNotFound}
			return nil
		}
		if err != nil {
			return err
		}

		res.Outcome = c.Attempt(id, now, matched)
		if res.Outcome != domain.AttemptMatched && res.Outcome != domain.AttemptMismatch {
			return nil
		}
		res.AttemptsRemaining = c.AttemptsRemaining

		_, err = q.ExecContext(ctx, `
			UPDATE challenges SET attempts_remaining = ?, consumed = ?
			WHERE purpose = ? AND account_id = ?`,
			c.AttemptsRemaining, boolToInt(c.Consumed), string(purpose), accountID)
		return err
	})
	if err != nil {
		return store.AttemptResult{}, err
	}
	return res, nil
}

func (r *challengesRepo) DeleteExpiredChallenges(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM challenges WHERE expires_at < ?`, toMillis(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
