package postgres

import (
	"context"

	"github.com/MrEthical07/authcore/internal/dbx"
	"github.com/MrEthical07/authcore/internal/store"
)

// RememberTokensRepository implements store.RememberTokens.
type RememberTokensRepository struct {
	db dbx.DBTX
}

func (r *RememberTokensRepository) Insert(ctx context.Context, t store.RememberToken) error {
	query := `
		INSERT INTO remember_tokens (id, user_id, secret)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`
	return insertedRow(r.db.ExecContext(ctx, query, t.ID, t.UserID, t.SecretHash))
}

func (r *RememberTokensRepository) WithUser(ctx context.Context, id string) (store.RememberToken, store.User, error) {
	query := `
		SELECT t.id, t.user_id, t.secret, ` + userColumns + `
		FROM remember_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.id = $1
	`
	var (
		t   store.RememberToken
		u   store.User
		raw userRow
	)
	dest := append([]any{&t.ID, &t.UserID, &t.SecretHash}, raw.dest(&u)...)
	if err := r.db.QueryRowContext(ctx, query, id).Scan(dest...); err != nil {
		return store.RememberToken{}, store.User{}, notFoundOr(err)
	}
	raw.fill(&u)
	return t, u, nil
}

func (r *RememberTokensRepository) RotateSecretHash(ctx context.Context, id string, current, next []byte) error {
	query := `UPDATE remember_tokens SET secret = $3 WHERE id = $1 AND secret = $2`
	return expectRow(r.db.ExecContext(ctx, query, id, current, next))
}

func (r *RememberTokensRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM remember_tokens WHERE id = $1`, id); err != nil {
		return dbError(err)
	}
	return nil
}

func (r *RememberTokensRepository) DeleteForUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM remember_tokens WHERE user_id = $1`, userID); err != nil {
		return dbError(err)
	}
	return nil
}
