package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
)

type accountsRepo struct{ q dbtx }

const accountColumns = `id, username, email, secret_hash, active, two_factor_enabled,
	totp_secret, totp_enabled_at, created_at, last_login_at`

func scanAccount(row interface{ Scan(...any) error }) (domain.Account, error) {
	var (
		a                 domain.Account
		username, email   sql.NullString
		totpSecret        sql.NullString
		totpEnabledAt     sql.NullInt64
		lastLoginAt       sql.NullInt64
		active, twoFactor int
		createdAt         int64
	)
	err := row.Scan(&a.ID, &username, &email, &a.SecretHash, &active, &twoFactor,
		&totpSecret, &totpEnabledAt, &createdAt, &lastLoginAt)
	if err != nil {
		return domain.Account{}, mapNotFound(err)
	}
	a.Username = mapNullString(username)
	a.Email = mapNullString(email)
	a.Active = active == 1
	a.TwoFactorEnabled = twoFactor == 1
	a.TOTPSecret = mapNullStringPtr(totpSecret)
	a.TOTPEnabledAt = mapNullTimePtr(totpEnabledAt)
	a.CreatedAt = fromMillis(createdAt)
	a.LastLoginAt = mapNullTimePtr(lastLoginAt)
	return a, nil
}

func (r *accountsRepo) GetAccountByID(ctx context.Context, id string) (domain.Account, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

func (r *accountsRepo) GetAccountByIdentifier(ctx context.Context, identifier string) (domain.Account, error) {
	identifier = domain.NormalizeIdentifier(identifier)
	if identifier == "" {
		return domain.Account{}, store.ErrNotFound
	}

	column := "username"
	if domain.IsEmailIdentifier(identifier) {
		column = "email"
	}
	row := r.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE `+column+` = ?`, identifier)
	return scanAccount(row)
}

func (r *accountsRepo) CreateAccount(ctx context.Context, a domain.Account) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO accounts (id, username, email, secret_hash, active, two_factor_enabled,
			totp_secret, totp_enabled_at, created_at, last_login_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		mapStringNull(domain.NormalizeIdentifier(a.Username)),
		mapStringNull(domain.NormalizeIdentifier(a.Email)),
		a.SecretHash,
		boolToInt(a.Active),
		boolToInt(a.TwoFactorEnabled),
		mapOptionalString(a.TOTPSecret),
		mapOptionalTime(a.TOTPEnabledAt),
		toMillis(a.CreatedAt),
		mapOptionalTime(a.LastLoginAt),
	)
	return mapConstraint(err)
}

func (r *accountsRepo) UpdateSecretHash(ctx context.Context, id, hash string) error {
	return r.exec(ctx, `UPDATE accounts SET secret_hash = ? WHERE id = ?`, hash, id)
}

func (r *accountsRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `UPDATE accounts SET last_login_at = ? WHERE id = ?`, toMillis(at), id)
}

func (r *accountsRepo) SetActive(ctx context.Context, id string, active bool) error {
	return r.exec(ctx, `UPDATE accounts SET active = ? WHERE id = ?`, boolToInt(active), id)
}

func (r *accountsRepo) SetTOTPSecret(ctx context.Context, id string, sealed *string) error {
	if sealed == nil {
		return r.exec(ctx, `
			UPDATE accounts SET totp_secret = NULL, totp_enabled_at = NULL WHERE id = ?`, id)
	}
	return r.exec(ctx, `UPDATE accounts SET totp_secret = ?, totp_enabled_at = NULL WHERE id = ?`, *sealed, id)
}

func (r *accountsRepo) EnableTOTP(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE accounts SET totp_enabled_at = ?, two_factor_enabled = 1
		WHERE id = ? AND totp_secret IS NOT NULL`, toMillis(at), id)
}

func (r *accountsRepo) ClaimTOTPStep(ctx context.Context, id string, step int64) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE accounts SET totp_last_step = ?
		WHERE id = ? AND (totp_last_step IS NULL OR totp_last_step < ?)`, step, id, step)
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

// exec runs a single-row update and reports ErrNotFound when nothing matched.
func (r *accountsRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
