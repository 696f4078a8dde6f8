package storage

import (
	"context"
	"database/sql"
	"errors"
)

// RemoteID returns the id the remote store knows expenseID by. Expenses the
// remote never renamed are known by their local id.
func (r *SQLiteRepository) RemoteID(ctx context.Context, expenseID string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT remote_id FROM remote_ids WHERE expense_id = ?`, expenseID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return expenseID, nil
	}
	if err != nil {
		return "", storageErr("get remote id", err)
	}
	return id, nil
}

func localIDFor(ctx context.Context, q querier, remoteID string) (string, bool, error) {
	var id string
	err := q.QueryRowContext(ctx,
		`SELECT expense_id FROM remote_ids WHERE remote_id = ?`, remoteID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("get local id", err)
	}
	return id, true, nil
}

// setRemoteID records the remote id of expenseID. An id equal to the local
// one needs no mapping and clears any stale entry.
func setRemoteID(ctx context.Context, q querier, expenseID, remoteID string) error {
	var err error
	if remoteID == expenseID {
		_, err = q.ExecContext(ctx, `DELETE FROM remote_ids WHERE expense_id = ?`, expenseID)
	} else {
		_, err = q.ExecContext(ctx, `
			INSERT INTO remote_ids (expense_id, remote_id) VALUES (?, ?)
			ON CONFLICT(expense_id) DO UPDATE SET remote_id = excluded.remote_id`,
			expenseID, remoteID)
	}
	if err != nil {
		return storageErr("set remote id", err)
	}
	return nil
}

func dropRemoteID(ctx context.Context, q querier, expenseID string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM remote_ids WHERE expense_id = ?`, expenseID); err != nil {
		return storageErr("drop remote id", err)
	}
	return nil
}
