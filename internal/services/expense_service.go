package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"expensync/internal/analytics"
	"expensync/internal/core"
	"expensync/internal/log"

	"github.com/shopspring/decimal"
)

// ExpenseStore is the local store as seen by the facade.
type ExpenseStore interface {
	CreateExpense(ctx context.Context, in core.ExpenseInput) (core.Expense, error)
	UpdateExpense(ctx context.Context, id string, patch core.ExpensePatch) (core.Expense, error)
	DeleteExpense(ctx context.Context, id string) (core.Expense, error)
	GetExpense(ctx context.Context, id string) (core.Expense, error)
	ListExpenses(ctx context.Context, f core.Filter) ([]core.Expense, error)

	CreateSnapshot(ctx context.Context, snap core.Snapshot) error
	GetSnapshot(ctx context.Context, month core.Month) (core.Snapshot, error)
	ListSnapshots(ctx context.Context) ([]core.Snapshot, error)
	LockedMonths(ctx context.Context) (map[core.Month]bool, error)

	Close() error
}

// Flusher is the sync engine as seen by the facade.
type Flusher interface {
	Kick()
	Sync(ctx context.Context) (SyncResult, error)
}

// ExpenseService is the read/write surface for expenses. Every mutation
// lands in the local store first; the sync engine is then asked to flush.
type ExpenseService struct {
	store   ExpenseStore
	flusher Flusher
	logger  *log.Logger
	now     func() time.Time
}

func NewExpenseService(store ExpenseStore, flusher Flusher) *ExpenseService {
	return &ExpenseService{
		store:   store,
		flusher: flusher,
		logger:  log.Default(log.ComponentExpense),
		now:     time.Now,
	}
}

func (s *ExpenseService) kick() {
	if s.flusher != nil {
		s.flusher.Kick()
	}
}

// Add stores a new expense.
func (s *ExpenseService) Add(ctx context.Context, in core.ExpenseInput) (core.Expense, error) {
	e, err := s.store.CreateExpense(ctx, in)
	if err != nil {
		return core.Expense{}, fmt.Errorf("add expense: %w", err)
	}
	s.kick()
	return e, nil
}

// Edit merges patch onto the expense with the given id.
func (s *ExpenseService) Edit(ctx context.Context, id string, patch core.ExpensePatch) (core.Expense, error) {
	e, err := s.store.UpdateExpense(ctx, id, patch)
	if err != nil {
		return core.Expense{}, fmt.Errorf("edit expense %s: %w", id, err)
	}
	s.kick()
	return e, nil
}

func (s *ExpenseService) Delete(ctx context.Context, id string) error {
	if _, err := s.store.DeleteExpense(ctx, id); err != nil {
		return fmt.Errorf("delete expense %s: %w", id, err)
	}
	s.kick()
	return nil
}

// MarkPaid sets the paid amount to the full amount.
func (s *ExpenseService) MarkPaid(ctx context.Context, id string) (core.Expense, error) {
	current, err := s.store.GetExpense(ctx, id)
	if err != nil {
		return core.Expense{}, fmt.Errorf("mark paid %s: %w", id, err)
	}
	amount := current.Amount
	return s.Edit(ctx, id, core.ExpensePatch{PaidAmount: &amount})
}

// MarkUnpaid resets the paid amount to zero.
func (s *ExpenseService) MarkUnpaid(ctx context.Context, id string) (core.Expense, error) {
	zero := decimal.Zero
	return s.Edit(ctx, id, core.ExpensePatch{PaidAmount: &zero})
}

// SettleAllByParty marks every not fully paid expense owed by party as paid
// and returns how many changed. Expenses in locked months are left alone.
func (s *ExpenseService) SettleAllByParty(ctx context.Context, party core.Party) (int, error) {
	targets, err := s.byParty(ctx, party)
	if err != nil {
		return 0, fmt.Errorf("settle %s: %w", party, err)
	}

	count := 0
	for _, e := range targets {
		if e.PaymentStatus == core.Paid {
			continue
		}
		amount := e.Amount
		if _, err := s.store.UpdateExpense(ctx, e.ID, core.ExpensePatch{PaidAmount: &amount}); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			return count, fmt.Errorf("settle %s: %w", party, err)
		}
		count++
	}
	if count > 0 {
		s.kick()
	}

	s.logger.InfoContext(ctx, "Settled expenses", "party", party, "updated_count", count)
	return count, nil
}

// DeleteAllByParty deletes every expense owed by party and returns how many
// were removed. Expenses in locked months are left alone.
func (s *ExpenseService) DeleteAllByParty(ctx context.Context, party core.Party) (int, error) {
	targets, err := s.byParty(ctx, party)
	if err != nil {
		return 0, fmt.Errorf("delete all %s: %w", party, err)
	}

	count := 0
	for _, e := range targets {
		if _, err := s.store.DeleteExpense(ctx, e.ID); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			return count, fmt.Errorf("delete all %s: %w", party, err)
		}
		count++
	}
	if count > 0 {
		s.kick()
	}

	s.logger.InfoContext(ctx, "Deleted expenses", "party", party, "deleted_count", count)
	return count, nil
}

func (s *ExpenseService) byParty(ctx context.Context, party core.Party) ([]core.Expense, error) {
	if !party.Valid() {
		return nil, &core.ValidationError{Field: "to_be_paid_by", Reason: "unknown party " + string(party)}
	}
	expenses, err := s.store.ListExpenses(ctx, core.Filter{ToBePaidBy: party})
	if err != nil {
		return nil, err
	}
	locked, err := s.store.LockedMonths(ctx)
	if err != nil {
		return nil, err
	}
	if len(locked) == 0 {
		return expenses, nil
	}
	out := expenses[:0]
	for _, e := range expenses {
		if !locked[e.SnapshotMonth] {
			out = append(out, e)
		}
	}
	return out, nil
}

// List returns the expenses matching f, newest first.
func (s *ExpenseService) List(ctx context.Context, f core.Filter) ([]core.Expense, error) {
	return s.store.ListExpenses(ctx, f)
}

func (s *ExpenseService) Get(ctx context.Context, id string) (core.Expense, error) {
	return s.store.GetExpense(ctx, id)
}

// Tags returns the distinct tags in use.
func (s *ExpenseService) Tags(ctx context.Context) ([]string, error) {
	all, err := s.store.ListExpenses(ctx, core.Filter{})
	if err != nil {
		return nil, err
	}
	return analytics.Tags(all), nil
}

// Categories returns the built-in categories followed by any others in use,
// sorted.
func (s *ExpenseService) Categories(ctx context.Context) ([]string, error) {
	all, err := s.store.ListExpenses(ctx, core.Filter{})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(core.DefaultCategories))
	out := append([]string(nil), core.DefaultCategories...)
	for _, c := range out {
		seen[c] = true
	}
	var extra []string
	for _, e := range all {
		if !seen[e.Category] {
			seen[e.Category] = true
			extra = append(extra, e.Category)
		}
	}
	sort.Strings(extra)
	return append(out, extra...), nil
}

func (s *ExpenseService) Summary(ctx context.Context) (analytics.Summary, error) {
	all, err := s.store.ListExpenses(ctx, core.Filter{})
	if err != nil {
		return analytics.Summary{}, err
	}
	return analytics.Summarize(all, s.now()), nil
}

func (s *ExpenseService) Settlement(ctx context.Context) (analytics.Settlement, error) {
	all, err := s.store.ListExpenses(ctx, core.Filter{})
	if err != nil {
		return analytics.Settlement{}, err
	}
	return analytics.Settle(all), nil
}

func (s *ExpenseService) CategoryBreakdown(ctx context.Context, f core.Filter) (map[string]analytics.CategoryTotals, error) {
	expenses, err := s.store.ListExpenses(ctx, f)
	if err != nil {
		return nil, err
	}
	return analytics.ByCategory(expenses), nil
}

// MonthlyTrend returns totals for the last n months that have expenses.
func (s *ExpenseService) MonthlyTrend(ctx context.Context, n int) ([]analytics.MonthTotals, error) {
	all, err := s.store.ListExpenses(ctx, core.Filter{})
	if err != nil {
		return nil, err
	}
	return analytics.MonthlyTrend(all, n), nil
}

func (s *ExpenseService) FixedVsVariable(ctx context.Context, f core.Filter) (analytics.FixedVsVariable, error) {
	expenses, err := s.store.ListExpenses(ctx, f)
	if err != nil {
		return analytics.FixedVsVariable{}, err
	}
	return analytics.SplitFixed(expenses), nil
}

// CreateSnapshot flushes pending changes and then records a locked summary of
// month. It needs the remote store to be reachable.
func (s *ExpenseService) CreateSnapshot(ctx context.Context, month core.Month) (core.Snapshot, error) {
	if err := month.Validate(); err != nil || month == "" {
		return core.Snapshot{}, &core.ValidationError{Field: "month", Reason: "expected YYYY-MM"}
	}
	if s.flusher == nil {
		return core.Snapshot{}, core.ErrOffline
	}

	res, err := s.flusher.Sync(ctx)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("flush before snapshot: %w", err)
	}
	if res.Reason == ReasonOffline {
		return core.Snapshot{}, core.ErrOffline
	}

	expenses, err := s.store.ListExpenses(ctx, core.ForMonth(month))
	if err != nil {
		return core.Snapshot{}, err
	}
	if len(expenses) == 0 {
		return core.Snapshot{}, fmt.Errorf("snapshot %s: %w", month, core.ErrNoExpenses)
	}

	snap := analytics.SnapshotOf(month, expenses, s.now())
	if err := s.store.CreateSnapshot(ctx, snap); err != nil {
		return core.Snapshot{}, fmt.Errorf("snapshot %s: %w", month, err)
	}

	s.logger.InfoContext(ctx, "Snapshot created",
		log.FieldSnapshotMonth, month,
		"total_expense", snap.TotalExpense.String())
	return snap, nil
}

func (s *ExpenseService) Snapshots(ctx context.Context) ([]core.Snapshot, error) {
	return s.store.ListSnapshots(ctx)
}

func (s *ExpenseService) Snapshot(ctx context.Context, month core.Month) (core.Snapshot, error) {
	return s.store.GetSnapshot(ctx, month)
}

// Close closes the local store
func (s *ExpenseService) Close() error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close expense service: %w", err)
	}
	return nil
}
