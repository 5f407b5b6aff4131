package postgres

import (
	"context"

	"github.com/MrEthical07/authcore/internal/dbx"
	"github.com/MrEthical07/authcore/internal/store"
)

// TOTPKeysRepository implements store.TOTPKeys over new_totp_keys.
type TOTPKeysRepository struct {
	db dbx.DBTX
}

func (r *TOTPKeysRepository) Upsert(ctx context.Context, k store.PendingTOTPKey) error {
	query := `
		INSERT INTO new_totp_keys (user_id, key, expires)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET key = EXCLUDED.key, expires = EXCLUDED.expires
	`
	if _, err := r.db.ExecContext(ctx, query, k.UserID, k.Key, k.Expires); err != nil {
		return dbError(err)
	}
	return nil
}

func (r *TOTPKeysRepository) ByUser(ctx context.Context, userID string) (store.PendingTOTPKey, error) {
	var k store.PendingTOTPKey
	err := r.db.QueryRowContext(ctx, `SELECT user_id, key, expires FROM new_totp_keys WHERE user_id = $1`, userID).
		Scan(&k.UserID, &k.Key, &k.Expires)
	if err != nil {
		return store.PendingTOTPKey{}, notFoundOr(err)
	}
	return k, nil
}

func (r *TOTPKeysRepository) Delete(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM new_totp_keys WHERE user_id = $1`, userID); err != nil {
		return dbError(err)
	}
	return nil
}
