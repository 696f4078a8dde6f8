// Package memory is an in-process remote store used for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"expensync/internal/core"
	"expensync/internal/remote"
)

// Call records one request received by the store.
type Call struct {
	Op string
	ID string
}

type Store struct {
	mu       sync.Mutex
	items    map[string]core.Expense
	dirty    map[string]struct{}
	calls    []Call
	failNext map[string]error
	failAll  error
	onCall   func(Call)
}

var (
	_ remote.Client        = (*Store)(nil)
	_ remote.HealthChecker = (*Store)(nil)
)

func New(seed ...core.Expense) *Store {
	s := &Store{
		items:    make(map[string]core.Expense),
		dirty:    make(map[string]struct{}),
		failNext: make(map[string]error),
	}
	for _, e := range seed {
		e.Recompute()
		s.items[e.ID] = e
	}
	return s
}

// FailNext makes the next call concerning id fail with err.
func (s *Store) FailNext(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[id] = err
}

// FailAll makes every call fail with err until cleared with nil.
func (s *Store) FailAll(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = err
}

// OnCall installs a hook invoked, without the lock held, before each call is served.
func (s *Store) OnCall(fn func(Call)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCall = fn
}

// Calls returns the calls received so far.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Get returns the stored record for id.
func (s *Store) Get(id string) (core.Expense, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[id]
	return e, ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// begin records the call and returns any injected failure.
func (s *Store) begin(op, id string) error {
	c := Call{Op: op, ID: id}
	s.mu.Lock()
	s.calls = append(s.calls, c)
	hook := s.onCall
	s.mu.Unlock()

	if hook != nil {
		hook(c)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return s.failAll
	}
	if err, ok := s.failNext[id]; ok {
		delete(s.failNext, id)
		return err
	}
	return nil
}

func (s *Store) Create(_ context.Context, e core.Expense) (core.Expense, error) {
	if err := s.begin("create", e.ID); err != nil {
		return core.Expense{}, err
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, &remote.Error{Status: http.StatusUnprocessableEntity, Message: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[e.ID]; ok {
		return core.Expense{}, &remote.Error{Status: http.StatusConflict, Message: "Expense already exists"}
	}
	e.Recompute()
	e.Synced = true
	s.items[e.ID] = e
	s.dirty[e.ID] = struct{}{}
	return e, nil
}

func (s *Store) Update(_ context.Context, id string, e core.Expense) (core.Expense, error) {
	if err := s.begin("update", id); err != nil {
		return core.Expense{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[id]
	if !ok {
		return core.Expense{}, &remote.Error{Status: http.StatusNotFound, Message: "Expense not found"}
	}
	e.ID = id
	e.CreatedAt = current.CreatedAt
	e.SnapshotMonth = current.SnapshotMonth
	e.Recompute()
	if err := e.Validate(); err != nil {
		return core.Expense{}, &remote.Error{Status: http.StatusUnprocessableEntity, Message: err.Error()}
	}
	e.Synced = true
	s.items[id] = e
	s.dirty[id] = struct{}{}
	return e, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	if err := s.begin("delete", id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return &remote.Error{Status: http.StatusNotFound, Message: "Expense not found"}
	}
	delete(s.items, id)
	delete(s.dirty, id)
	return nil
}

func (s *Store) List(_ context.Context, f core.Filter) ([]core.Expense, error) {
	if err := s.begin("list", ""); err != nil {
		return nil, err
	}
	f, err := f.Normalize()
	if err != nil {
		return nil, &remote.Error{Status: http.StatusBadRequest, Message: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Expense, 0, len(s.items))
	for _, e := range s.items {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ForceReconcile reports how many records changed since the previous reconcile.
func (s *Store) ForceReconcile(_ context.Context) (remote.ReconcileResult, error) {
	if err := s.begin("reconcile", ""); err != nil {
		return remote.ReconcileResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.dirty)
	s.dirty = make(map[string]struct{})
	return remote.ReconcileResult{SyncedCount: n, TotalUnsynced: n}, nil
}

func (s *Store) Health(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return fmt.Errorf("memory remote unavailable: %w", s.failAll)
	}
	return nil
}
