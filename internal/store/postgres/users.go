package postgres

import (
	"context"
	"database/sql"

	"github.com/MrEthical07/authcore/internal/dbx"
	"github.com/MrEthical07/authcore/internal/store"
)

const usernameIndex = "users_username_lower_idx"

const userColumns = `u.id, u.username, u.password, u.totp_key, u.last_used_totp,
		u.password_change_reason, u.disabled, u.icon, u.locale`

// UsersRepository implements store.Users.
type UsersRepository struct {
	db dbx.DBTX
}

// userRow collects the nullable columns of a users row during Scan.
type userRow struct {
	totpKey, lastUsed, reason, icon sql.NullString
}

func (r *userRow) dest(u *store.User) []any {
	return []any{&u.ID, &u.Username, &u.Password, &r.totpKey, &r.lastUsed, &r.reason, &u.Disabled, &r.icon, &u.Locale}
}

func (r *userRow) fill(u *store.User) {
	u.TOTPKey = r.totpKey.String
	u.LastUsedTOTP = r.lastUsed.String
	u.PasswordChangeReason = store.PasswordChangeReason(r.reason.String)
	u.Icon = r.icon.String
}

func (r *UsersRepository) Insert(ctx context.Context, u store.User) error {
	query := `
		INSERT INTO users (id, username, password, totp_key, last_used_totp, password_change_reason, disabled, icon, locale)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.Username, u.Password, nullable(u.TOTPKey), nullable(u.LastUsedTOTP),
		nullable(string(u.PasswordChangeReason)), u.Disabled, nullable(u.Icon), u.Locale)
	if err != nil {
		if constraint, ok := dbx.UniqueViolation(err); ok && constraint == usernameIndex {
			return store.ErrUsernameTaken
		}
		return insertError(err)
	}
	return nil
}

func (r *UsersRepository) ByID(ctx context.Context, id string) (store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u WHERE u.id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// ByUsername matches case-insensitively, mirroring the unique index.
func (r *UsersRepository) ByUsername(ctx context.Context, username string) (store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u WHERE lower(u.username) = lower($1)`
	return r.scanOne(r.db.QueryRowContext(ctx, query, username))
}

func (r *UsersRepository) scanOne(row *sql.Row) (store.User, error) {
	var (
		u   store.User
		raw userRow
	)
	if err := row.Scan(raw.dest(&u)...); err != nil {
		return store.User{}, notFoundOr(err)
	}
	raw.fill(&u)
	return u, nil
}

func (r *UsersRepository) SetPassword(ctx context.Context, id, encrypted string) error {
	return expectRow(r.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE id = $1`, id, encrypted))
}

func (r *UsersRepository) ReplacePassword(ctx context.Context, id, current, encrypted string) error {
	return expectRow(r.db.ExecContext(ctx, `UPDATE users SET password = $3 WHERE id = $1 AND password = $2`, id, current, encrypted))
}

func (r *UsersRepository) SetUsername(ctx context.Context, id, username string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET username = $2 WHERE id = $1`, id, username)
	if constraint, ok := dbx.UniqueViolation(err); ok && constraint == usernameIndex {
		return store.ErrUsernameTaken
	}
	return expectRow(res, err)
}

func (r *UsersRepository) SetLocale(ctx context.Context, id, locale string) error {
	return expectRow(r.db.ExecContext(ctx, `UPDATE users SET locale = $2 WHERE id = $1`, id, locale))
}

func (r *UsersRepository) SetPasswordChangeReason(ctx context.Context, id string, reason store.PasswordChangeReason) error {
	return expectRow(r.db.ExecContext(ctx,
		`UPDATE users SET password_change_reason = $2 WHERE id = $1`, id, nullable(string(reason))))
}

func (r *UsersRepository) SetTOTP(ctx context.Context, id, encryptedKey, lastUsed string) error {
	return expectRow(r.db.ExecContext(ctx,
		`UPDATE users SET totp_key = $2, last_used_totp = $3 WHERE id = $1`,
		id, nullable(encryptedKey), nullable(lastUsed)))
}

func (r *UsersRepository) SetLastUsedTOTP(ctx context.Context, id, code string) error {
	return expectRow(r.db.ExecContext(ctx, `UPDATE users SET last_used_totp = $2 WHERE id = $1`, id, code))
}

func (r *UsersRepository) SetDisabled(ctx context.Context, id string, disabled bool) error {
	return expectRow(r.db.ExecContext(ctx, `UPDATE users SET disabled = $2 WHERE id = $1`, id, disabled))
}

func (r *UsersRepository) SetIcon(ctx context.Context, id, icon string) error {
	return expectRow(r.db.ExecContext(ctx, `UPDATE users SET icon = $2 WHERE id = $1`, id, nullable(icon)))
}

func (r *UsersRepository) Delete(ctx context.Context, id string) error {
	return expectRow(r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id))
}
