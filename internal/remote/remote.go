// Package remote defines the contract of the authoritative remote expense store.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"expensync/internal/core"
)

// Client is the remote store. Every failure is either an *Error or a transport error.
type Client interface {
	Create(ctx context.Context, e core.Expense) (core.Expense, error)
	Update(ctx context.Context, id string, e core.Expense) (core.Expense, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, f core.Filter) ([]core.Expense, error)
	ForceReconcile(ctx context.Context) (ReconcileResult, error)
}

// HealthChecker is implemented by clients that expose a reachability check.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ReconcileResult is returned by a forced reconcile against the secondary store.
type ReconcileResult struct {
	SyncedCount   int `json:"synced_count"`
	TotalUnsynced int `json:"total_unsynced"`
}

// Error is a non-success response from the remote store.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote status %d", e.Status)
	}
	return fmt.Sprintf("remote status %d: %s", e.Status, e.Message)
}

// StatusOf returns the remote status carried by err, or 0.
func StatusOf(err error) int {
	var re *Error
	if errors.As(err, &re) {
		return re.Status
	}
	return 0
}

// IsNotFound reports whether the remote store has no such record.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// IsConflict reports whether the remote store already has the record.
func IsConflict(err error) bool {
	return StatusOf(err) == http.StatusConflict
}
