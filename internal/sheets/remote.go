package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"expensync/internal/cache"
	"expensync/internal/core"
	"expensync/internal/log"
	"expensync/internal/remote"
)

const (
	rowCacheSize = 10000
	rowCacheTTL  = 10 * time.Minute
)

// Remote stores expenses as rows of a single sheet and serves them through
// the remote.Client contract. Rows are never removed, only cleared, so a
// row number stays valid for the lifetime of the expense.
type Remote struct {
	values Values
	sheet  string
	rows   *cache.LRUCache[int]
	logger *log.Logger

	// Serializes writes; the next free row is computed from a read.
	mu sync.Mutex
}

var _ remote.Client = (*Remote)(nil)

func NewRemote(values Values, sheet string) *Remote {
	return &Remote{
		values: values,
		sheet:  quoteSheet(sheet),
		rows:   cache.NewLRUCache[int](rowCacheSize, rowCacheTTL),
		logger: log.Default(log.ComponentSheets),
	}
}

// RowCache exposes the id to row index so it can be registered for sweeping.
func (r *Remote) RowCache() *cache.LRUCache[int] {
	return r.rows
}

// quoteSheet quotes a sheet name for A1 notation when it is not a plain word.
func quoteSheet(name string) string {
	for _, c := range name {
		if !(c == '_' || c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z') {
			return "'" + strings.ReplaceAll(name, "'", "''") + "'"
		}
	}
	return name
}

func (r *Remote) rowRange(n int) string {
	return fmt.Sprintf("%s!%s%d:%s%d", r.sheet, firstCol, n, lastCol, n)
}

func (r *Remote) columnRange(col string) string {
	return fmt.Sprintf("%s!%s:%s", r.sheet, col, col)
}

func (r *Remote) dataRange() string {
	return fmt.Sprintf("%s!%s2:%s", r.sheet, firstCol, lastCol)
}

// EnsureHeader writes the header row when the sheet is empty.
func (r *Remote) EnsureHeader(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	first, err := r.values.Get(ctx, r.rowRange(1))
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if len(first) > 0 && len(first[0]) > 0 {
		return nil
	}
	if err := r.values.Update(ctx, r.rowRange(1), [][]any{header}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// findRow returns the row holding id, or 0 when there is none.
func (r *Remote) findRow(ctx context.Context, id string) (int, error) {
	if n, ok := r.rows.Get(id); ok {
		return n, nil
	}
	ids, err := r.values.Get(ctx, r.columnRange(idCol))
	if err != nil {
		return 0, fmt.Errorf("read id column: %w", err)
	}
	found := 0
	for i, cells := range ids {
		if len(cells) == 0 {
			continue
		}
		cell := strings.TrimSpace(fmt.Sprint(cells[0]))
		if cell == "" || i == 0 {
			continue
		}
		r.rows.Set(cell, i+1)
		if cell == id {
			found = i + 1
		}
	}
	return found, nil
}

func notFound() error {
	return &remote.Error{Status: http.StatusNotFound, Message: "Expense not found"}
}

func (r *Remote) Create(ctx context.Context, e core.Expense) (core.Expense, error) {
	e.Recompute()
	if err := e.Validate(); err != nil {
		return core.Expense{}, &remote.Error{Status: http.StatusUnprocessableEntity, Message: err.Error()}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.findRow(ctx, e.ID)
	if err != nil {
		return core.Expense{}, err
	}
	if existing > 0 {
		return core.Expense{}, &remote.Error{Status: http.StatusConflict, Message: "Expense already exists"}
	}

	// Next free row follows the last non-empty cell of column A.
	col, err := r.values.Get(ctx, r.columnRange(firstCol))
	if err != nil {
		return core.Expense{}, fmt.Errorf("read sheet dimensions: %w", err)
	}
	next := len(col) + 1
	if next < 2 {
		next = 2
	}

	if err := r.values.Update(ctx, r.rowRange(next), [][]any{encodeRow(next-1, e)}); err != nil {
		return core.Expense{}, fmt.Errorf("write row %d: %w", next, err)
	}
	r.rows.Set(e.ID, next)

	r.logger.InfoContext(ctx, "Expense row written", log.FieldExpenseID, e.ID, "row", next)
	e.Synced = true
	return e, nil
}

// locate finds the row holding id and returns it with its cells. A cached
// row number is verified against the id column and refreshed when rows have
// moved, e.g. after a manual insert.
func (r *Remote) locate(ctx context.Context, id string) (int, []any, error) {
	for attempt := 0; attempt < 2; attempt++ {
		n, err := r.findRow(ctx, id)
		if err != nil || n == 0 {
			return 0, nil, err
		}
		current, err := r.values.Get(ctx, r.rowRange(n))
		if err != nil {
			return 0, nil, fmt.Errorf("read row %d: %w", n, err)
		}
		var row []any
		if len(current) > 0 {
			row = current[0]
		}
		if cellStrings(row)[colID] == id {
			return n, row, nil
		}
		r.rows.Delete(id)
	}
	return 0, nil, nil
}

func (r *Remote) Update(ctx context.Context, id string, e core.Expense) (core.Expense, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, row, err := r.locate(ctx, id)
	if err != nil {
		return core.Expense{}, err
	}
	if n == 0 {
		return core.Expense{}, notFound()
	}

	serial := n - 1
	if old, s, err := decodeRow(row); err == nil {
		serial = s
		e.CreatedAt = old.CreatedAt
		e.SnapshotMonth = old.SnapshotMonth
	}

	e.ID = id
	e.Recompute()
	if err := e.Validate(); err != nil {
		return core.Expense{}, &remote.Error{Status: http.StatusUnprocessableEntity, Message: err.Error()}
	}
	if err := r.values.Update(ctx, r.rowRange(n), [][]any{encodeRow(serial, e)}); err != nil {
		return core.Expense{}, fmt.Errorf("write row %d: %w", n, err)
	}
	e.Synced = true
	return e, nil
}

func (r *Remote) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, _, err := r.locate(ctx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound()
	}
	if err := r.values.Clear(ctx, r.rowRange(n)); err != nil {
		return fmt.Errorf("clear row %d: %w", n, err)
	}
	r.rows.Delete(id)

	r.logger.InfoContext(ctx, "Expense row cleared", log.FieldExpenseID, id, "row", n)
	return nil
}

// List returns the rows matching f, newest first. Rows that cannot be parsed
// are skipped.
func (r *Remote) List(ctx context.Context, f core.Filter) ([]core.Expense, error) {
	f, err := f.Normalize()
	if err != nil {
		return nil, &remote.Error{Status: http.StatusBadRequest, Message: err.Error()}
	}

	rows, err := r.values.Get(ctx, r.dataRange())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.dataRange(), err)
	}

	var out []core.Expense
	for i, row := range rows {
		e, _, err := decodeRow(row)
		if errors.Is(err, errBlankRow) {
			continue
		}
		if err != nil {
			r.logger.WarnContext(ctx, "Skipping unreadable row", "row", i+2, log.FieldError, err)
			continue
		}
		r.rows.Set(e.ID, i+2)
		if f.Match(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ForceReconcile rebuilds the row index and rewrites rows whose derived
// columns no longer match their amounts, e.g. after a manual edit.
func (r *Remote) ForceReconcile(ctx context.Context) (remote.ReconcileResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rows.Purge()
	rows, err := r.values.Get(ctx, r.dataRange())
	if err != nil {
		return remote.ReconcileResult{}, fmt.Errorf("read %s: %w", r.dataRange(), err)
	}

	var res remote.ReconcileResult
	for i, row := range rows {
		e, serial, err := decodeRow(row)
		if err != nil {
			continue
		}
		n := i + 2
		r.rows.Set(e.ID, n)
		if !stale(row, e) {
			continue
		}
		res.TotalUnsynced++
		if err := r.values.Update(ctx, r.rowRange(n), [][]any{encodeRow(serial, e)}); err != nil {
			r.logger.WarnContext(ctx, "Failed to rewrite row", "row", n, log.FieldError, err)
			continue
		}
		res.SyncedCount++
	}

	r.logger.InfoContext(ctx, "Sheet reconciled",
		"rows", len(rows),
		"rewritten", res.SyncedCount,
		"stale", res.TotalUnsynced)
	return res, nil
}
