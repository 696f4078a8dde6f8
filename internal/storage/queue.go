package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"expensync/internal/core"
)

// AckResult describes what Acknowledge did besides removing the entry.
type AckResult struct {
	// Synced is true when the expense has no other pending entries and was marked synced.
	Synced bool
	// Compensated is true when the expense had been deleted locally while the
	// acknowledged create or update was in flight, and a delete was enqueued.
	Compensated bool
}

func (r *SQLiteRepository) enqueue(ctx context.Context, q querier, action core.Action, payload core.Expense) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return storageErr("encode queue payload", err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO sync_queue (id, expense_id, action, payload, timestamp) VALUES (?, ?, ?, ?, ?)`,
		r.newID(), payload.ID, string(action), string(body), formatTime(r.now()))
	if err != nil {
		return storageErr("enqueue "+string(action), err)
	}
	return nil
}

func pendingFor(ctx context.Context, q querier, expenseID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE expense_id = ?`, expenseID).Scan(&n)
	if err != nil {
		return 0, storageErr("count pending entries", err)
	}
	return n, nil
}

// ListQueue returns every outbox entry, oldest first.
func (r *SQLiteRepository) ListQueue(ctx context.Context) ([]core.QueueEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, expense_id, action, payload, timestamp FROM sync_queue ORDER BY timestamp ASC, seq ASC`)
	if err != nil {
		return nil, storageErr("list queue", err)
	}
	defer rows.Close()

	var out []core.QueueEntry
	for rows.Next() {
		var (
			entry       core.QueueEntry
			action, ts  string
			payloadJSON string
		)
		if err := rows.Scan(&entry.ID, &entry.ExpenseID, &action, &payloadJSON, &ts); err != nil {
			return nil, storageErr("list queue", err)
		}
		entry.Action = core.Action(action)
		if err := json.Unmarshal([]byte(payloadJSON), &entry.Payload); err != nil {
			return nil, storageErr("decode queue payload", fmt.Errorf("entry %s: %w", entry.ID, err))
		}
		if entry.Timestamp, err = parseTime(ts); err != nil {
			return nil, storageErr("list queue", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list queue", err)
	}
	return out, nil
}

// RemoveQueueEntry deletes one outbox entry. Unknown ids are ignored.
func (r *SQLiteRepository) RemoveQueueEntry(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return storageErr("remove queue entry", err)
	}
	return nil
}

// ClearQueue drops every outbox entry.
func (r *SQLiteRepository) ClearQueue(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue`); err != nil {
		return storageErr("clear queue", err)
	}
	slog.WarnContext(ctx, "Sync queue cleared")
	return nil
}

// QueueLen returns the number of pending outbox entries.
func (r *SQLiteRepository) QueueLen(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, storageErr("count queue", err)
	}
	return n, nil
}

// Acknowledge applies the remote store's confirmation of entry: the entry is
// removed and, for create and update, the expense is marked confirmed. The
// expense only becomes synced once no later entries for it remain.
//
// remoteID is the id the remote store answered with. When it differs from the
// local id it is recorded so later updates and deletes address the right
// remote record. An empty remoteID leaves the mapping alone.
func (r *SQLiteRepository) Acknowledge(ctx context.Context, entry core.QueueEntry, remoteID string) (AckResult, error) {
	var res AckResult
	err := r.withTx(ctx, "acknowledge", func(tx *sql.Tx) error {
		res = AckResult{}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, entry.ID); err != nil {
			return storageErr("acknowledge", err)
		}
		if entry.Action == core.ActionDelete {
			return dropRemoteID(ctx, tx, entry.ExpenseID)
		}
		if remoteID != "" {
			if err := setRemoteID(ctx, tx, entry.ExpenseID, remoteID); err != nil {
				return err
			}
		}

		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM expenses WHERE id = ?`, entry.ExpenseID).Scan(&exists)
		if err != nil {
			return storageErr("acknowledge", err)
		}
		if exists == 0 {
			var deletes int
			err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM sync_queue WHERE expense_id = ? AND action = 'delete'`,
				entry.ExpenseID).Scan(&deletes)
			if err != nil {
				return storageErr("acknowledge", err)
			}
			if deletes > 0 {
				return nil
			}
			res.Compensated = true
			return r.enqueue(ctx, tx, core.ActionDelete, entry.Payload)
		}

		pending, err := pendingFor(ctx, tx, entry.ExpenseID)
		if err != nil {
			return err
		}
		res.Synced = pending == 0
		_, err = tx.ExecContext(ctx,
			`UPDATE expenses SET remote_confirmed = 1, synced = ? WHERE id = ?`,
			boolToInt(res.Synced), entry.ExpenseID)
		if err != nil {
			return storageErr("acknowledge", err)
		}
		return nil
	})
	if err != nil {
		return AckResult{}, err
	}
	if res.Compensated {
		slog.InfoContext(ctx, "Enqueued delete for expense removed during sync",
			"expense_id", entry.ExpenseID)
	}
	return res, nil
}
