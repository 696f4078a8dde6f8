package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"expensync/internal/core"

	"github.com/shopspring/decimal"
)

const snapshotColumns = `month, total_expense, total_paid, total_unpaid, category_breakdown, created_at, is_locked`

func scanSnapshot(s rowScanner) (core.Snapshot, error) {
	var (
		snap                     core.Snapshot
		month, total, paid, owed string
		breakdown, created       string
		locked                   int
	)
	if err := s.Scan(&month, &total, &paid, &owed, &breakdown, &created, &locked); err != nil {
		return core.Snapshot{}, err
	}
	snap.Month = core.Month(month)
	snap.IsLocked = locked == 1
	var err error
	if snap.TotalExpense, err = decimal.NewFromString(total); err != nil {
		return core.Snapshot{}, err
	}
	if snap.TotalPaid, err = decimal.NewFromString(paid); err != nil {
		return core.Snapshot{}, err
	}
	if snap.TotalUnpaid, err = decimal.NewFromString(owed); err != nil {
		return core.Snapshot{}, err
	}
	if err := json.Unmarshal([]byte(breakdown), &snap.CategoryBreakdown); err != nil {
		return core.Snapshot{}, err
	}
	if snap.CreatedAt, err = parseTime(created); err != nil {
		return core.Snapshot{}, err
	}
	return snap, nil
}

// CreateSnapshot persists snap. It fails with core.ErrSnapshotExists when the
// month already has one.
func (r *SQLiteRepository) CreateSnapshot(ctx context.Context, snap core.Snapshot) error {
	if err := snap.Month.Validate(); err != nil || snap.Month == "" {
		return &core.ValidationError{Field: "month", Reason: "expected YYYY-MM"}
	}
	breakdown, err := json.Marshal(snap.CategoryBreakdown)
	if err != nil {
		return storageErr("encode category breakdown", err)
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = r.now()
	}

	err = r.withTx(ctx, "create snapshot", func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots WHERE month = ?`, string(snap.Month)).Scan(&n); err != nil {
			return storageErr("create snapshot", err)
		}
		if n > 0 {
			return fmt.Errorf("snapshot %s: %w", snap.Month, core.ErrSnapshotExists)
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO snapshots (`+snapshotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(snap.Month), snap.TotalExpense.String(), snap.TotalPaid.String(), snap.TotalUnpaid.String(),
			string(breakdown), formatTime(snap.CreatedAt), boolToInt(snap.IsLocked))
		if err != nil {
			return storageErr("create snapshot", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Monthly snapshot created",
		"month", snap.Month,
		"total_expense", snap.TotalExpense.String(),
		"locked", snap.IsLocked)
	return nil
}

func (r *SQLiteRepository) GetSnapshot(ctx context.Context, month core.Month) (core.Snapshot, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE month = ?`, string(month))
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Snapshot{}, fmt.Errorf("snapshot %s: %w", month, core.ErrNotFound)
	}
	if err != nil {
		return core.Snapshot{}, storageErr("get snapshot", err)
	}
	return snap, nil
}

// ListSnapshots returns all snapshots, most recent month first.
func (r *SQLiteRepository) ListSnapshots(ctx context.Context) ([]core.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots ORDER BY month DESC`)
	if err != nil {
		return nil, storageErr("list snapshots", err)
	}
	defer rows.Close()

	var out []core.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, storageErr("list snapshots", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list snapshots", err)
	}
	return out, nil
}

// LockedMonths returns the set of months with a locked snapshot.
func (r *SQLiteRepository) LockedMonths(ctx context.Context) (map[core.Month]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT month FROM snapshots WHERE is_locked = 1`)
	if err != nil {
		return nil, storageErr("list locked months", err)
	}
	defer rows.Close()

	out := make(map[core.Month]bool)
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, storageErr("list locked months", err)
		}
		out[core.Month(m)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list locked months", err)
	}
	return out, nil
}
