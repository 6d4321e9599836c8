package postgres

import (
	"context"
	"database/sql"

	"chatrelay/internal/directory"
)

func (r *implDirectory) DisplayInfo(ctx context.Context, userID string) (directory.DisplayInfo, error) {
	const q = `SELECT user_id, name, is_online FROM profiles WHERE user_id = $1`

	var info directory.DisplayInfo
	err := r.db.QueryRowContext(ctx, q, userID).Scan(&info.UserID, &info.Name, &info.IsOnline)
	if err != nil {
		if err == sql.ErrNoRows {
			return directory.DisplayInfo{}, directory.ErrNotFound
		}
		r.l.Errorf(ctx, "internal.directory.postgres.DisplayInfo.Scan: %v", err)
		return directory.DisplayInfo{}, err
	}

	return info, nil
}

func (r *implDirectory) Exists(ctx context.Context, userID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM profiles WHERE user_id = $1)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, q, userID).Scan(&exists); err != nil {
		r.l.Errorf(ctx, "internal.directory.postgres.Exists.Scan: %v", err)
		return false, err
	}

	return exists, nil
}

func (r *implDirectory) SetOnline(ctx context.Context, userID string, online bool) error {
	const q = `UPDATE profiles SET is_online = $2 WHERE user_id = $1`

	res, err := r.db.ExecContext(ctx, q, userID, online)
	if err != nil {
		r.l.Errorf(ctx, "internal.directory.postgres.SetOnline.Exec: %v", err)
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		r.l.Errorf(ctx, "internal.directory.postgres.SetOnline.RowsAffected: %v", err)
		return err
	}
	if rows == 0 {
		return directory.ErrNotFound
	}

	return nil
}
