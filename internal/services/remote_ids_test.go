package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"expensync/internal/core"
	"expensync/internal/remote/httpapi"
	"expensync/internal/state"
	"expensync/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assigningServer is a remote expense API that ignores client ids and hands
// out its own, answering 404 for ids it never issued.
type assigningServer struct {
	mu   sync.Mutex
	rows map[string]map[string]any
}

func newAssigningServer(t *testing.T) (*assigningServer, *httptest.Server) {
	t.Helper()
	s := &assigningServer{rows: make(map[string]map[string]any)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/expenses", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		body["id"] = uuid.NewString()
		s.mu.Lock()
		s.rows[body["id"].(string)] = body
		s.mu.Unlock()
		writeJSON(w, http.StatusCreated, body)
	})
	mux.HandleFunc("PUT /api/expenses/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.rows[id]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Expense not found"})
			return
		}
		body["id"] = id
		s.rows[id] = body
		writeJSON(w, http.StatusOK, body)
	})
	mux.HandleFunc("DELETE /api/expenses/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.rows[id]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Expense not found"})
			return
		}
		delete(s.rows, id)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/expenses", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		out := make([]map[string]any, 0, len(s.rows))
		for _, row := range s.rows {
			out = append(out, row)
		}
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, out)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *assigningServer) titles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, row := range s.rows {
		out = append(out, row["title"].(string))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newAssigningEnv(t *testing.T) (*storage.SQLiteRepository, *assigningServer, *SyncEngine) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	server, srv := newAssigningServer(t)
	client := httpapi.NewClient(srv.URL, nil, 5*time.Second)
	engine := NewSyncEngine(repo, client, state.New(true, time.Time{}), nil, nil, DefaultSyncEngineConfig())
	return repo, server, engine
}

func TestSync_EditsReachServerAssignedRecord(t *testing.T) {
	ctx := context.Background()
	repo, server, engine := newAssigningEnv(t)

	e, err := repo.CreateExpense(ctx, core.ExpenseInput{Title: "Groceries", Amount: money("40")})
	require.NoError(t, err)
	_, err = engine.Sync(ctx)
	require.NoError(t, err)

	for _, title := range []string{"Groceries 1", "Groceries 2", "Groceries 3"} {
		_, err := repo.UpdateExpense(ctx, e.ID, core.ExpensePatch{Title: ptr(title)})
		require.NoError(t, err)
		res, err := engine.Sync(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, res.Synced)
		require.Zero(t, res.Failed)
	}

	assert.Equal(t, []string{"Groceries 3"}, server.titles())

	stored, err := repo.GetExpense(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, stored.Synced)

	_, err = repo.DeleteExpense(ctx, e.ID)
	require.NoError(t, err)
	res, err := engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Empty(t, server.titles())
}

func TestSync_UpdatesQueuedBeforeCreateUseServerID(t *testing.T) {
	ctx := context.Background()
	repo, server, engine := newAssigningEnv(t)

	// Create and edits all wait in the outbox for one pass.
	e, err := repo.CreateExpense(ctx, core.ExpenseInput{Title: "Rent", Amount: money("800")})
	require.NoError(t, err)
	_, err = repo.UpdateExpense(ctx, e.ID, core.ExpensePatch{Title: ptr("Rent March")})
	require.NoError(t, err)
	_, err = repo.UpdateExpense(ctx, e.ID, core.ExpensePatch{PaidAmount: ptr(money("800"))})
	require.NoError(t, err)

	res, err := engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Synced)
	assert.Equal(t, []string{"Rent March"}, server.titles())
}

func TestPull_MapsServerIDsToLocalRows(t *testing.T) {
	ctx := context.Background()
	repo, _, engine := newAssigningEnv(t)

	e, err := repo.CreateExpense(ctx, core.ExpenseInput{Title: "Phone", Amount: money("15")})
	require.NoError(t, err)
	_, err = engine.Sync(ctx)
	require.NoError(t, err)

	n, err := engine.Pull(ctx, core.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := repo.ListExpenses(ctx, core.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, e.ID, all[0].ID)
}
