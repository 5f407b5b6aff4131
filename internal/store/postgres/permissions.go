package postgres

import (
	"context"

	"github.com/MrEthical07/authcore/internal/dbx"
	"github.com/MrEthical07/authcore/permission"
)

// PermissionsRepository implements store.Permissions.
type PermissionsRepository struct {
	db dbx.DBTX
}

func (r *PermissionsRepository) ForUser(ctx context.Context, userID string) (permission.Set, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT permission FROM permissions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, dbError(err)
	}
	defer rows.Close()

	var set permission.Set
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return 0, dbError(err)
		}
		p, err := permission.Parse(name)
		if err != nil {
			return 0, err
		}
		set.Add(p)
	}
	if err := rows.Err(); err != nil {
		return 0, dbError(err)
	}
	return set, nil
}

func (r *PermissionsRepository) Has(ctx context.Context, userID string, p permission.Permission) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM permissions WHERE user_id = $1 AND permission = $2)`,
		userID, p.String()).Scan(&ok)
	if err != nil {
		return false, dbError(err)
	}
	return ok, nil
}

func (r *PermissionsRepository) Grant(ctx context.Context, userID string, p permission.Permission) error {
	query := `
		INSERT INTO permissions (user_id, permission)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, userID, p.String()); err != nil {
		return dbError(err)
	}
	return nil
}
