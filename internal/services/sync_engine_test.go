package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"expensync/internal/amqp"
	"expensync/internal/core"
	"expensync/internal/network"
	"expensync/internal/remote"
	"expensync/internal/remote/memory"
	"expensync/internal/state"
	"expensync/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUnavailable = &remote.Error{Status: 503, Message: "service unavailable"}

type recordingNotifier struct {
	mu      sync.Mutex
	events  []*amqp.SyncEvent
	changes []*amqp.RemoteChangeMessage
}

func (n *recordingNotifier) PublishSyncEvent(_ context.Context, ev *amqp.SyncEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) PublishRemoteChange(_ context.Context, msg *amqp.RemoteChangeMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, msg)
	return nil
}

type syncEnv struct {
	repo     *storage.SQLiteRepository
	remote   *memory.Store
	state    *state.State
	monitor  *network.Monitor
	notifier *recordingNotifier
	engine   *SyncEngine
}

func newSyncEnv(t *testing.T, seed ...core.Expense) *syncEnv {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	st := state.New(true, time.Time{})
	mon := network.NewMonitor(st, nil, time.Hour)
	rs := memory.New(seed...)
	n := &recordingNotifier{}
	cfg := DefaultSyncEngineConfig()
	cfg.CallTimeout = 5 * time.Second

	return &syncEnv{
		repo:     repo,
		remote:   rs,
		state:    st,
		monitor:  mon,
		notifier: n,
		engine:   NewSyncEngine(repo, rs, st, mon, n, cfg),
	}
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (env *syncEnv) add(t *testing.T, title, amount string) core.Expense {
	t.Helper()
	e, err := env.repo.CreateExpense(context.Background(), core.ExpenseInput{Title: title, Amount: money(amount)})
	require.NoError(t, err)
	return e
}

func (env *syncEnv) queueLen(t *testing.T) int {
	t.Helper()
	n, err := env.repo.QueueLen(context.Background())
	require.NoError(t, err)
	return n
}

func TestSync_OfflineIsNoop(t *testing.T) {
	env := newSyncEnv(t)
	env.add(t, "Coffee", "3")
	env.state.SetOnline(false)

	res, err := env.engine.Sync(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, ReasonOffline, res.Reason)
	assert.Empty(t, env.remote.Calls())
	assert.Equal(t, 1, env.queueLen(t))
	assert.True(t, env.state.LastSync().IsZero())
}

func TestSync_DrainsQueueAndMarksSynced(t *testing.T) {
	ctx := context.Background()
	env := newSyncEnv(t)
	a := env.add(t, "Groceries", "100")
	b := env.add(t, "Rent", "800")

	res, err := env.engine.Sync(ctx)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 0, env.queueLen(t))
	assert.Equal(t, 2, env.remote.Len())

	for _, id := range []string{a.ID, b.ID} {
		got, err := env.repo.GetExpense(ctx, id)
		require.NoError(t, err)
		assert.True(t, got.Synced, "expense %s should be synced", id)
	}

	assert.False(t, env.state.LastSync().IsZero())
	persisted, err := env.repo.LastSyncTime(ctx)
	require.NoError(t, err)
	assert.False(t, persisted.IsZero())
	assert.False(t, env.state.Syncing())

	assert.Len(t, env.notifier.events, 2)
	assert.Equal(t, a.ID, env.notifier.events[0].ExpenseID)
}

func TestSync_FailedEntryDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	env := newSyncEnv(t)
	a := env.add(t, "Fails first", "10")
	b := env.add(t, "Goes through", "20")
	env.remote.FailNext(a.ID, errUnavailable)

	res, err := env.engine.Sync(ctx)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, env.queueLen(t))

	_, ok := env.remote.Get(b.ID)
	assert.True(t, ok)
	local, err := env.repo.GetExpense(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, local.Synced)

	// retried on the next pass
	res, err = env.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 0, env.queueLen(t))
	_, ok = env.remote.Get(a.ID)
	assert.True(t, ok)
}

func TestSync_LaterEntriesOfFailedExpenseAreDeferred(t *testing.T) {
	ctx := context.Background()
	env := newSyncEnv(t)
	a := env.add(t, "Dinner", "40")
	_, err := env.repo.UpdateExpense(ctx, a.ID, core.ExpensePatch{PaidAmount: ptr(money("40"))})
	require.NoError(t, err)
	env.remote.FailNext(a.ID, errUnavailable)

	res, err := env.engine.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Deferred)
	assert.Equal(t, 2, env.queueLen(t))
	assert.Equal(t, []memory.Call{{Op: "create", ID: a.ID}}, env.remote.Calls())

	res, err = env.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)

	got, ok := env.remote.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, core.Paid, got.PaymentStatus)
}

func TestSync_ReplaysInEnqueueOrder(t *testing.T) {
	ctx := context.Background()
	env := newSyncEnv(t)
	a := env.add(t, "First", "1")
	_, err := env.repo.UpdateExpense(ctx, a.ID, core.ExpensePatch{Title: ptr("First, renamed")})
	require.NoError(t, err)
	b := env.add(t, "Second", "2")

	_, err = env.engine.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, []memory.Call{
		{Op: "create", ID: a.ID},
		{Op: "update", ID: a.ID},
		{Op: "create", ID: b.ID},
	}, env.remote.Calls())
	got, _ := env.remote.Get(a.ID)
	assert.Equal(t, "First, renamed", got.Title)
}

func TestSync_SingleFlight(t *testing.T) {
	ctx := context.Background()
	env := newSyncEnv(t)
	env.add(t, "Slow", "5")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	env.remote.OnCall(func(memory.Call) {
		once.Do(func() {
			close(entered)
			<-release
		})
	})

	done := make(chan SyncResult, 1)
	go func() {
		res, _ := env.engine.Sync(ctx)
		done <- res
	}()

	<-entered
	assert.True(t, env.state.Syncing())

	res, err := env.engine.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, res.InProgress())
	forced, err := env.engine.ForceSync(ctx)
	require.NoError(t, err)
	assert.True(t, forced.InProgress())

	close(release)
	first := <-done
	assert.True(t, first.Success)
	assert.Equal(t, 1, first.Synced)
	assert.Len(t, env.remote.Calls(), 1)
	assert.False(t, env.state.Syncing())
}

func TestSync_UpdateFallsBackToCreate(t *testing.T) {
	ctx := context.Background()
	env := newSyncEnv(t)
	a := env.add(t, "Gym", "30")
	_, err := env.engine.Sync(ctx)
	require.NoError(t, err)

	// gone remotely, e.g. removed by another device
	require.NoError(t, env.remote.Delete(ctx, a.ID))

	_, err = env.repo.UpdateExpense(ctx, a.ID, core.ExpensePatch{Remark: ptr("annual")})
	require.NoError(t, err)

	res, err := env.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)

	got, ok := env.remote.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, "annual", got.Remark)
}

func TestSync_DuplicateCreateAndMissingDeleteCountAsDelivered(t *testing.T) {
	ctx := context.Background()
	existing := core.Expense{
		ID:         "shared-1",
		Title:      "Already there",
		Amount:     money("9"),
		Category:   core.DefaultCategory,
		ToBePaidBy: core.Me,
		Date:       core.DateOf(time.Now()),
		CreatedAt:  time.Now().UTC(),
	}
	env := newSyncEnv(t, existing)

	_, err := env.repo.CreateExpense(ctx, core.ExpenseInput{ID: "shared-1", Title: "Already there", Amount: money("9")})
	require.NoError(t, err)
	res, err := env.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)

	require.NoError(t, env.remote.Delete(ctx, "shared-1"))
	_, err = env.repo.DeleteExpense(ctx, "shared-1")
	require.NoError(t, err)
	require.Equal(t, 1, env.queueLen(t))

	res, err = env.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 0, env.queueLen(t))
}

func TestSync_DeleteDuringFlightIsCompensated(t *testing.T) {
	ctx := context.Background()
	env := newSyncEnv(t)
	a := env.add(t, "Short lived", "12")

	var once sync.Once
	env.remote.OnCall(func(c memory.Call) {
		if c.Op != "create" {
			return
		}
		once.Do(func() {
			_, err := env.repo.DeleteExpense(ctx, a.ID)
			assert.NoError(t, err)
		})
	})

	res, err := env.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 1, env.queueLen(t), "a delete should be queued for the record the remote now holds")

	_, err = env.engine.Sync(ctx)
	require.NoError(t, err)
	_, ok := env.remote.Get(a.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, env.queueLen(t))
}

func TestForceSync(t *testing.T) {
	ctx := context.Background()
	env := newSyncEnv(t)
	env.add(t, "Books", "25")

	res, err := env.engine.ForceSync(ctx)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Synced)
	require.NotNil(t, res.Reconciled)
	assert.Equal(t, 1, res.Reconciled.SyncedCount)
	require.Len(t, env.notifier.changes, 1)
	assert.Equal(t, env.engine.Origin(), env.notifier.changes[0].Origin)
	assert.NotEmpty(t, env.engine.Origin())
	assert.False(t, env.state.LastSync().IsZero())
}

func TestForceSync_ReconcileFailureKeepsDrain(t *testing.T) {
	ctx := context.Background()
	env := newSyncEnv(t)
	a := env.add(t, "Books", "25")
	// reconcile carries no expense id
	env.remote.FailNext("", errUnavailable)

	res, err := env.engine.ForceSync(ctx)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Message)
	assert.Equal(t, 1, res.Synced)
	assert.Nil(t, res.Reconciled)
	assert.Equal(t, 0, env.queueLen(t))
	_, ok := env.remote.Get(a.ID)
	assert.True(t, ok)
	assert.Empty(t, env.notifier.changes)
}

func TestForceSync_Offline(t *testing.T) {
	env := newSyncEnv(t)
	env.state.SetOnline(false)

	res, err := env.engine.ForceSync(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonOffline, res.Reason)
}

func TestPull(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)
	env := newSyncEnv(t,
		core.Expense{ID: "r-1", Title: "From phone", Amount: money("15"), Category: "Food", ToBePaidBy: core.Mom, Date: core.NewDate(2024, 3, 2), CreatedAt: created, SnapshotMonth: "2024-03"},
		core.Expense{ID: "r-2", Title: "Remote title", Amount: money("7"), Category: "Food", ToBePaidBy: core.Me, Date: core.NewDate(2024, 3, 2), CreatedAt: created, SnapshotMonth: "2024-03"},
	)
	_, err := env.repo.CreateExpense(ctx, core.ExpenseInput{ID: "r-2", Title: "Local title", Amount: money("7")})
	require.NoError(t, err)

	n, err := env.engine.Pull(ctx, core.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := env.repo.GetExpense(ctx, "r-1")
	require.NoError(t, err)
	assert.True(t, got.Synced)
	assert.Equal(t, core.Mom, got.ToBePaidBy)

	local, err := env.repo.GetExpense(ctx, "r-2")
	require.NoError(t, err)
	assert.Equal(t, "Local title", local.Title)
	assert.Equal(t, 1, env.queueLen(t))

	env.state.SetOnline(false)
	_, err = env.engine.Pull(ctx, core.Filter{})
	assert.ErrorIs(t, err, core.ErrOffline)
}

func TestPull_TransportError(t *testing.T) {
	env := newSyncEnv(t)
	env.remote.FailAll(errors.New("connection refused"))

	_, err := env.engine.Pull(context.Background(), core.Filter{})
	var terr *core.TransportError
	assert.ErrorAs(t, err, &terr)
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	env := newSyncEnv(t)
	a := env.add(t, "One", "1")
	env.add(t, "Two", "2")
	_, err := env.repo.UpdateExpense(ctx, a.ID, core.ExpensePatch{Title: ptr("One again")})
	require.NoError(t, err)

	st, err := env.engine.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.IsOnline)
	assert.False(t, st.IsSyncing)
	assert.Nil(t, st.LastSyncTime)
	assert.Equal(t, 3, st.UnsyncedCount)

	_, err = env.engine.Sync(ctx)
	require.NoError(t, err)
	st, err = env.engine.Status(ctx)
	require.NoError(t, err)
	assert.NotNil(t, st.LastSyncTime)
	assert.Equal(t, 0, st.UnsyncedCount)
}

func TestEngineLoop_SyncsOnKickAndReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := newSyncEnv(t)
	env.monitor.Set(false)

	require.NoError(t, env.engine.Start(ctx))
	assert.True(t, env.engine.IsRunning())
	assert.Error(t, env.engine.Start(ctx))

	env.add(t, "Queued offline", "4")
	env.engine.Kick()
	// the kick is a no-op while offline
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, env.queueLen(t))

	env.monitor.Set(true)
	assert.Eventually(t, func() bool {
		return env.queueLen(t) == 0
	}, 2*time.Second, 10*time.Millisecond)

	env.add(t, "Queued online", "6")
	env.engine.Kick()
	assert.Eventually(t, func() bool {
		return env.remote.Len() == 2
	}, 2*time.Second, 10*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, env.engine.Stop(stopCtx))
	assert.False(t, env.engine.IsRunning())
}

func TestEngineLoop_RestartAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := newSyncEnv(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, env.engine.Start(ctx))
		env.add(t, fmt.Sprintf("Round %d", i), "1")
		env.engine.Kick()
		assert.Eventually(t, func() bool {
			return env.queueLen(t) == 0
		}, 2*time.Second, 10*time.Millisecond)

		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		require.NoError(t, env.engine.Stop(stopCtx))
		stopCancel()
	}
	assert.Equal(t, 3, env.remote.Len())
}

func ptr[T any](v T) *T {
	return &v
}
