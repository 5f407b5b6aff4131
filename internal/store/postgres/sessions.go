package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/MrEthical07/authcore/internal/dbx"
	"github.com/MrEthical07/authcore/internal/store"
)

// SessionsRepository implements store.Sessions.
type SessionsRepository struct {
	db dbx.DBTX
}

func (r *SessionsRepository) Insert(ctx context.Context, s store.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, csrf_token, expires, sudo_until)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
	var sudo any
	if s.SudoUntil != nil {
		sudo = *s.SudoUntil
	}
	return insertedRow(r.db.ExecContext(ctx, query, s.ID, s.UserID, s.CSRFToken, s.Expires, sudo))
}

func (r *SessionsRepository) WithUser(ctx context.Context, id string) (store.Session, store.User, error) {
	query := `
		SELECT s.id, s.user_id, s.csrf_token, s.expires, s.sudo_until, ` + userColumns + `
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.id = $1
	`
	var (
		s    store.Session
		u    store.User
		sudo sql.NullTime
		raw  userRow
	)
	dest := append([]any{&s.ID, &s.UserID, &s.CSRFToken, &s.Expires, &sudo}, raw.dest(&u)...)
	if err := r.db.QueryRowContext(ctx, query, id).Scan(dest...); err != nil {
		return store.Session{}, store.User{}, notFoundOr(err)
	}
	raw.fill(&u)
	if sudo.Valid {
		t := sudo.Time
		s.SudoUntil = &t
	}
	return s, u, nil
}

func (r *SessionsRepository) SetSudoUntil(ctx context.Context, id string, until time.Time) error {
	return expectRow(r.db.ExecContext(ctx, `UPDATE sessions SET sudo_until = $2 WHERE id = $1`, id, until))
}

func (r *SessionsRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return dbError(err)
	}
	return nil
}

func (r *SessionsRepository) DeleteForUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return dbError(err)
	}
	return nil
}

func (r *SessionsRepository) DeleteForUserExcept(ctx context.Context, userID, keepID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1 AND id <> $2`, userID, keepID); err != nil {
		return dbError(err)
	}
	return nil
}

func (r *SessionsRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires <= $1`, now)
	if err != nil {
		return 0, dbError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError(err)
	}
	return n, nil
}
