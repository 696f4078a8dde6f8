package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"expensync/internal/core"

	"github.com/shopspring/decimal"
)

const expenseColumns = `id, title, amount, category, date, to_be_paid_by, paid_amount,
	remaining_balance, payment_status, tags, is_fixed, remark, synced, remote_confirmed,
	created_timestamp, snapshot_month`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(s rowScanner) (core.Expense, error) {
	var (
		e                                    core.Expense
		amount, paid, remaining, date, party string
		status, created, month               string
		isFixed, synced, confirmed           int
	)
	err := s.Scan(&e.ID, &e.Title, &amount, &e.Category, &date, &party, &paid,
		&remaining, &status, &e.Tags, &isFixed, &e.Remark, &synced, &confirmed,
		&created, &month)
	if err != nil {
		return core.Expense{}, err
	}
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.Expense{}, fmt.Errorf("expense %s amount: %w", e.ID, err)
	}
	if e.PaidAmount, err = decimal.NewFromString(paid); err != nil {
		return core.Expense{}, fmt.Errorf("expense %s paid_amount: %w", e.ID, err)
	}
	if e.Date, err = core.ParseDate(date); err != nil {
		return core.Expense{}, fmt.Errorf("expense %s date: %w", e.ID, err)
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return core.Expense{}, fmt.Errorf("expense %s created_timestamp: %w", e.ID, err)
	}
	e.ToBePaidBy = core.Party(party)
	e.SnapshotMonth = core.Month(month)
	e.IsFixed = isFixed == 1
	e.Synced = synced == 1
	e.RemoteConfirmed = confirmed == 1
	// Derived fields are never trusted from disk.
	e.Recompute()
	return e, nil
}

func getExpense(ctx context.Context, q querier, id string) (core.Expense, error) {
	row := q.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("expense %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Expense{}, storageErr("get expense", err)
	}
	return e, nil
}

func upsertExpense(ctx context.Context, q querier, e core.Expense) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO expenses (`+expenseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			amount = excluded.amount,
			category = excluded.category,
			date = excluded.date,
			to_be_paid_by = excluded.to_be_paid_by,
			paid_amount = excluded.paid_amount,
			remaining_balance = excluded.remaining_balance,
			payment_status = excluded.payment_status,
			tags = excluded.tags,
			is_fixed = excluded.is_fixed,
			remark = excluded.remark,
			synced = excluded.synced,
			remote_confirmed = excluded.remote_confirmed,
			created_timestamp = excluded.created_timestamp,
			snapshot_month = excluded.snapshot_month`,
		e.ID, e.Title, e.Amount.String(), e.Category, e.Date.String(), string(e.ToBePaidBy),
		e.PaidAmount.String(), e.RemainingBalance.String(), string(e.PaymentStatus), e.Tags,
		boolToInt(e.IsFixed), e.Remark, boolToInt(e.Synced), boolToInt(e.RemoteConfirmed),
		formatTime(e.CreatedAt), string(e.SnapshotMonth))
	if err != nil {
		return storageErr("write expense", err)
	}
	return nil
}

// CreateExpense stores a new unsynced expense and enqueues its create entry.
func (r *SQLiteRepository) CreateExpense(ctx context.Context, in core.ExpenseInput) (core.Expense, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = r.newID()
	}
	e, err := core.NewExpense(in, id, r.now())
	if err != nil {
		return core.Expense{}, err
	}

	err = r.withTx(ctx, "create expense", func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM expenses WHERE id = ?`, id).Scan(&exists)
		if err != nil {
			return storageErr("create expense", err)
		}
		if exists > 0 {
			return &core.ValidationError{Field: "id", Reason: "already exists"}
		}
		if err := upsertExpense(ctx, tx, e); err != nil {
			return err
		}
		return r.enqueue(ctx, tx, core.ActionCreate, e)
	})
	if err != nil {
		return core.Expense{}, err
	}

	slog.InfoContext(ctx, "Expense saved locally",
		"id", e.ID,
		"title", e.Title,
		"amount", e.Amount.String(),
		"snapshot_month", e.SnapshotMonth)

	return e, nil
}

// UpdateExpense merges patch onto the stored record and enqueues an update
// carrying the merged record.
func (r *SQLiteRepository) UpdateExpense(ctx context.Context, id string, patch core.ExpensePatch) (core.Expense, error) {
	var updated core.Expense
	err := r.withTx(ctx, "update expense", func(tx *sql.Tx) error {
		current, err := getExpense(ctx, tx, id)
		if err != nil {
			return err
		}
		merged, err := patch.Apply(current)
		if err != nil {
			return err
		}
		merged.Synced = false
		if err := upsertExpense(ctx, tx, merged); err != nil {
			return err
		}
		updated = merged
		return r.enqueue(ctx, tx, core.ActionUpdate, merged)
	})
	if err != nil {
		return core.Expense{}, err
	}

	slog.InfoContext(ctx, "Expense updated locally",
		"id", updated.ID,
		"payment_status", updated.PaymentStatus,
		"remaining_balance", updated.RemainingBalance.String())

	return updated, nil
}

// DeleteExpense removes the record. A delete entry is enqueued only when the
// remote store has seen the record; otherwise its pending entries are dropped.
func (r *SQLiteRepository) DeleteExpense(ctx context.Context, id string) (core.Expense, error) {
	var removed core.Expense
	var enqueued bool
	err := r.withTx(ctx, "delete expense", func(tx *sql.Tx) error {
		current, err := getExpense(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id); err != nil {
			return storageErr("delete expense", err)
		}
		removed = current
		if current.Synced || current.RemoteConfirmed {
			enqueued = true
			return r.enqueue(ctx, tx, core.ActionDelete, current)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE expense_id = ?`, id); err != nil {
			return storageErr("drop pending entries", err)
		}
		return nil
	})
	if err != nil {
		return core.Expense{}, err
	}

	slog.InfoContext(ctx, "Expense deleted locally", "id", id, "delete_enqueued", enqueued)
	return removed, nil
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, id string) (core.Expense, error) {
	return getExpense(ctx, r.db, id)
}

// ListExpenses returns the expenses matching f, newest first.
func (r *SQLiteRepository) ListExpenses(ctx context.Context, f core.Filter) ([]core.Expense, error) {
	f, err := f.Normalize()
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	switch {
	case f.Month != "" && f.Year != "":
		where = append(where, "snapshot_month = ?")
		args = append(args, f.Year+"-"+f.Month)
	case f.Year != "":
		where = append(where, "substr(snapshot_month, 1, 5) = ?")
		args = append(args, f.Year+"-")
	case f.Month != "":
		where = append(where, "substr(snapshot_month, -3) = ?")
		args = append(args, "-"+f.Month)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.PaymentStatus != "" {
		where = append(where, "payment_status = ?")
		args = append(args, string(f.PaymentStatus))
	}
	if f.ToBePaidBy != "" {
		where = append(where, "to_be_paid_by = ?")
		args = append(args, string(f.ToBePaidBy))
	}
	if f.IsFixed != nil {
		where = append(where, "is_fixed = ?")
		args = append(args, boolToInt(*f.IsFixed))
	}
	// SQLite's lower() only folds ASCII, so tags are matched in Go below.

	query := `SELECT ` + expenseColumns + ` FROM expenses`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_timestamp DESC, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list expenses", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, storageErr("list expenses", err)
		}
		if f.Tag != "" && !f.Match(e) {
			continue
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list expenses", err)
	}
	return out, nil
}

// MarkSynced flags the record as confirmed by the remote store. It is a no-op
// for unknown ids and idempotent.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE expenses SET synced = 1, remote_confirmed = 1 WHERE id = ?`, id)
	if err != nil {
		return storageErr("mark synced", err)
	}
	return nil
}

// BulkReplace upserts records from a trusted remote listing as synced. The
// outbox is not touched and records with pending outbox entries are skipped,
// so unsent local edits are never overwritten. Records the remote knows by
// its own id land on their local row.
func (r *SQLiteRepository) BulkReplace(ctx context.Context, records []core.Expense) (int, error) {
	applied := 0
	err := r.withTx(ctx, "bulk replace", func(tx *sql.Tx) error {
		applied = 0
		for _, e := range records {
			if strings.TrimSpace(e.ID) == "" {
				continue
			}
			local, ok, err := localIDFor(ctx, tx, e.ID)
			if err != nil {
				return err
			}
			if ok {
				e.ID = local
			}
			pending, err := pendingFor(ctx, tx, e.ID)
			if err != nil {
				return err
			}
			if pending > 0 {
				continue
			}
			if e.CreatedAt.IsZero() {
				e.CreatedAt = r.now()
			}
			if e.SnapshotMonth == "" {
				e.SnapshotMonth = core.MonthOf(e.CreatedAt)
			}
			if e.Category == "" {
				e.Category = core.DefaultCategory
			}
			if e.ToBePaidBy == "" {
				e.ToBePaidBy = core.Me
			}
			e.Recompute()
			if err := e.Validate(); err != nil {
				slog.WarnContext(ctx, "Skipping invalid remote record", "id", e.ID, "error", err)
				continue
			}
			e.Synced = true
			e.RemoteConfirmed = true
			if err := upsertExpense(ctx, tx, e); err != nil {
				return err
			}
			applied++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}
