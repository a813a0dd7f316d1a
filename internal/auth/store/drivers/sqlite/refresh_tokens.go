package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
)

type refreshTokensRepo struct{ q dbtx }

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, token_hash, account_id, family_id, parent_id, amr, status, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TokenHash, t.AccountID, t.FamilyID,
		mapOptionalString(t.ParentID),
		strings.Join(t.AMR, ","),
		string(t.Status),
		toMillis(t.IssuedAt),
		toMillis(t.ExpiresAt),
	)
	return mapConstraint(err)
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	var (
		t                   domain.RefreshToken
		parentID            sql.NullString
		amr, status         string
		issuedAt, expiresAt int64
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, token_hash, account_id, family_id, parent_id, amr, status, issued_at, expires_at
		FROM refresh_tokens WHERE token_hash = ?`, hash,
	).Scan(&t.ID, &t.TokenHash, &t.AccountID, &t.FamilyID, &parentID, &amr, &status, &issuedAt, &expiresAt)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}

	t.ParentID = mapNullStringPtr(parentID)
	if amr != "" {
		t.AMR = strings.Split(amr, ",")
	}
	t.Status = domain.RefreshStatus(status)
	t.IssuedAt = fromMillis(issuedAt)
	t.ExpiresAt = fromMillis(expiresAt)
	return t, nil
}

func (r *refreshTokensRepo) MarkRotated(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE refresh_tokens SET status = 'rotated' WHERE id = ? AND status = 'active'`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

func (r *refreshTokensRepo) RevokeFamilyTokens(ctx context.Context, familyID string) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE refresh_tokens SET status = 'revoked' WHERE family_id = ? AND status <> 'revoked'`, familyID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *refreshTokensRepo) ListLiveFamilies(ctx context.Context, accountID string) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT DISTINCT family_id FROM refresh_tokens
		WHERE account_id = ? AND status <> 'revoked'
		ORDER BY family_id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var families []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		families = append(families, f)
	}
	return families, rows.Err()
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < ?`, toMillis(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
