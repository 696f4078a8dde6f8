package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"expensync/internal/core"
	"expensync/internal/remote"

	"github.com/shopspring/decimal"
)

func expense(id string, month core.Month) core.Expense {
	return core.Expense{
		ID:            id,
		Title:         "t-" + id,
		Amount:        decimal.NewFromInt(10),
		Category:      "Food",
		Date:          core.NewDate(2024, 3, 1),
		ToBePaidBy:    core.Me,
		CreatedAt:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		SnapshotMonth: month,
	}
}

func TestStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.Create(ctx, expense("a", "2024-03")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create(ctx, expense("a", "2024-03")); !remote.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	upd := expense("a", "2024-03")
	upd.PaidAmount = decimal.NewFromInt(10)
	got, err := s.Update(ctx, "a", upd)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.PaymentStatus != core.Paid {
		t.Fatalf("expected paid, got %s", got.PaymentStatus)
	}
	if _, err := s.Update(ctx, "missing", upd); !remote.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "a"); !remote.IsNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestStoreFailureInjection(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")

	s.FailNext("a", boom)
	if _, err := s.Create(ctx, expense("a", "2024-03")); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if _, err := s.Create(ctx, expense("a", "2024-03")); err != nil {
		t.Fatalf("failure should apply once, got %v", err)
	}

	s.FailAll(boom)
	if err := s.Health(ctx); err == nil {
		t.Fatalf("expected unhealthy")
	}
	if _, err := s.List(ctx, core.Filter{}); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	s.FailAll(nil)

	if n := len(s.Calls()); n != 3 {
		t.Fatalf("expected 3 calls, got %d", n)
	}
}

func TestStoreListAndReconcile(t *testing.T) {
	ctx := context.Background()
	s := New(expense("seed", "2024-02"))
	if _, err := s.Create(ctx, expense("b", "2024-03")); err != nil {
		t.Fatal(err)
	}

	got, err := s.List(ctx, core.Filter{Year: "2024", Month: "3"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("unexpected listing %+v", got)
	}

	res, err := s.ForceReconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.SyncedCount != 1 {
		t.Fatalf("expected one changed record, got %d", res.SyncedCount)
	}
	if res, _ = s.ForceReconcile(ctx); res.SyncedCount != 0 {
		t.Fatalf("expected nothing left to reconcile, got %d", res.SyncedCount)
	}
}
