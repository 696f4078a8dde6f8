package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"expensync/internal/amqp"
	"expensync/internal/core"
	"expensync/internal/log"
	"expensync/internal/network"
	"expensync/internal/remote"
	"expensync/internal/state"
	"expensync/internal/storage"

	"github.com/google/uuid"
)

const (
	ReasonOffline    = "offline"
	ReasonInProgress = "in_progress"
)

// SyncEngineConfig holds configuration for the sync engine
type SyncEngineConfig struct {
	// Interval is how often a pass runs while online (default: 5m)
	Interval time.Duration

	// CallTimeout bounds each remote call so a hung request cannot hold the
	// single-flight guard forever (default: 30s)
	CallTimeout time.Duration

	// Origin tags the remote change notifications this engine publishes
	// (default: a random id per process)
	Origin string
}

// DefaultSyncEngineConfig returns sensible defaults
func DefaultSyncEngineConfig() SyncEngineConfig {
	return SyncEngineConfig{
		Interval:    5 * time.Minute,
		CallTimeout: 30 * time.Second,
	}
}

// SyncStore is the part of the local store the engine works through.
type SyncStore interface {
	ListQueue(ctx context.Context) ([]core.QueueEntry, error)
	Acknowledge(ctx context.Context, entry core.QueueEntry, remoteID string) (storage.AckResult, error)
	RemoteID(ctx context.Context, expenseID string) (string, error)
	QueueLen(ctx context.Context) (int, error)
	BulkReplace(ctx context.Context, records []core.Expense) (int, error)
	SetLastSyncTime(ctx context.Context, t time.Time) error
}

// Notifier receives sync events. Failures are logged and never affect a pass.
type Notifier interface {
	PublishSyncEvent(ctx context.Context, ev *amqp.SyncEvent) error
	PublishRemoteChange(ctx context.Context, msg *amqp.RemoteChangeMessage) error
}

// Connectivity is the subscription side of the network monitor.
type Connectivity interface {
	Subscribe(fn func(network.Transition)) (cancel func())
}

// SyncResult reports the outcome of a pass.
type SyncResult struct {
	Success    bool                    `json:"success"`
	Reason     string                  `json:"reason,omitempty"`
	Synced     int                     `json:"synced"`
	Failed     int                     `json:"failed"`
	Deferred   int                     `json:"deferred"`
	Reconciled *remote.ReconcileResult `json:"reconciled,omitempty"`
	Message    string                  `json:"message,omitempty"`
}

// InProgress reports whether the call was a no-op because another pass was running.
func (r SyncResult) InProgress() bool {
	return r.Reason == ReasonInProgress
}

// SyncStatus is the display state of the engine.
type SyncStatus struct {
	IsOnline      bool       `json:"is_online"`
	IsSyncing     bool       `json:"is_syncing"`
	LastSyncTime  *time.Time `json:"last_sync_time"`
	UnsyncedCount int        `json:"unsynced_count"`
}

// SyncEngine drains the outbox against the remote store.
type SyncEngine struct {
	store    SyncStore
	remote   remote.Client
	state    *state.State
	conn     Connectivity
	notifier Notifier
	config   SyncEngineConfig
	logger   *log.Logger
	now      func() time.Time

	kick chan struct{}

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSyncEngine creates a new sync engine. conn and notifier may be nil.
func NewSyncEngine(
	store SyncStore,
	client remote.Client,
	st *state.State,
	conn Connectivity,
	notifier Notifier,
	config SyncEngineConfig,
) *SyncEngine {
	if config.Interval <= 0 {
		config.Interval = DefaultSyncEngineConfig().Interval
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultSyncEngineConfig().CallTimeout
	}
	if config.Origin == "" {
		config.Origin = uuid.NewString()
	}
	return &SyncEngine{
		store:    store,
		remote:   client,
		state:    st,
		conn:     conn,
		notifier: notifier,
		config:   config,
		logger:   log.Default(log.ComponentSync),
		now:      time.Now,
		kick:     make(chan struct{}, 1),
	}
}

// Origin returns the tag carried by the change notifications this engine publishes.
func (e *SyncEngine) Origin() string {
	return e.config.Origin
}

// Kick requests a pass from the run loop without blocking. Requests made
// while a pass is pending collapse into one.
func (e *SyncEngine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Sync runs one pass over the outbox. It is a no-op when offline or when
// another pass is in flight.
func (e *SyncEngine) Sync(ctx context.Context) (SyncResult, error) {
	if !e.state.Online() {
		return SyncResult{Reason: ReasonOffline}, nil
	}
	if !e.state.TryBeginSync() {
		return SyncResult{Reason: ReasonInProgress}, nil
	}

	res, err := e.drain(ctx)
	e.finish(ctx, err == nil)
	return res, err
}

// ForceSync drains the outbox and then asks the remote store to reconcile
// with its secondary backing store. A reconcile failure is reported in the
// result; the drain is kept.
func (e *SyncEngine) ForceSync(ctx context.Context) (SyncResult, error) {
	if !e.state.Online() {
		return SyncResult{Reason: ReasonOffline, Message: "offline"}, nil
	}
	if !e.state.TryBeginSync() {
		return SyncResult{Reason: ReasonInProgress}, nil
	}

	res, err := e.drain(ctx)
	if err != nil {
		e.finish(ctx, false)
		return res, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
	rec, err := e.remote.ForceReconcile(callCtx)
	cancel()
	if err != nil {
		terr := &core.TransportError{Op: "reconcile", Err: err}
		e.logger.WarnContext(ctx, "Forced reconcile failed", log.FieldError, terr)
		res.Success = false
		res.Message = terr.Error()
	} else {
		res.Reconciled = &rec
		e.logger.InfoContext(ctx, "Forced reconcile completed",
			"synced_count", rec.SyncedCount,
			"total_unsynced", rec.TotalUnsynced)
		e.announceChange(ctx, "", "force_sync")
	}

	e.finish(ctx, true)
	return res, nil
}

// Pull refreshes the local store from the remote listing for f. Records with
// pending outbox entries keep their local version.
func (e *SyncEngine) Pull(ctx context.Context, f core.Filter) (int, error) {
	if !e.state.Online() {
		return 0, core.ErrOffline
	}
	callCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
	records, err := e.remote.List(callCtx, f)
	cancel()
	if err != nil {
		return 0, &core.TransportError{Op: "list", Err: err}
	}

	n, err := e.store.BulkReplace(ctx, records)
	if err != nil {
		return 0, err
	}
	e.logger.InfoContext(ctx, "Pulled remote expenses", "received", len(records), "applied", n)
	return n, nil
}

// Status returns the display state of the engine.
func (e *SyncEngine) Status(ctx context.Context) (SyncStatus, error) {
	snap := e.state.Snapshot()
	n, err := e.store.QueueLen(ctx)
	if err != nil {
		return SyncStatus{}, err
	}
	st := SyncStatus{
		IsOnline:      snap.Online,
		IsSyncing:     snap.Syncing,
		UnsyncedCount: n,
	}
	if !snap.LastSync.IsZero() {
		last := snap.LastSync
		st.LastSyncTime = &last
	}
	return st, nil
}

// drain must only be called while holding the single-flight guard.
func (e *SyncEngine) drain(ctx context.Context) (SyncResult, error) {
	entries, err := e.store.ListQueue(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to read sync queue", log.FieldError, err)
		return SyncResult{}, fmt.Errorf("read sync queue: %w", err)
	}

	var res SyncResult
	// Once an entry fails, later entries of the same expense wait for the
	// next pass so the remote never sees them out of order.
	blocked := make(map[string]bool)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if blocked[entry.ExpenseID] {
			res.Deferred++
			continue
		}

		remoteID, err := e.dispatch(ctx, entry)
		if err != nil {
			res.Failed++
			blocked[entry.ExpenseID] = true
			fields := log.NewFields().
				WithQueueEntry(entry.ID, entry.ExpenseID, string(entry.Action)).
				WithError(err)
			e.logger.WarnContext(ctx, "Sync entry failed, will retry", fields.ToSlice()...)
			continue
		}

		if _, err := e.store.Acknowledge(ctx, entry, remoteID); err != nil {
			// Delivered but not recorded; the entry replays next pass and
			// the remote treats the repeat as already applied.
			res.Failed++
			blocked[entry.ExpenseID] = true
			e.logger.ErrorContext(ctx, "Failed to acknowledge sync entry",
				log.FieldEntryID, entry.ID, log.FieldError, err)
			continue
		}

		res.Synced++
		e.notify(ctx, entry)
	}

	res.Success = true
	if len(entries) > 0 {
		e.logger.InfoContext(ctx, "Sync pass completed",
			log.NewFields().WithSyncCounts(res.Synced, res.Failed).ToSlice()...)
	}
	return res, nil
}

// dispatch sends entry to the remote store and returns the id the remote
// now holds the record under, or "" when it did not say.
func (e *SyncEngine) dispatch(ctx context.Context, entry core.QueueEntry) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
	defer cancel()

	var (
		stored   core.Expense
		remoteID string
		err      error
	)
	switch entry.Action {
	case core.ActionCreate:
		stored, err = e.remote.Create(ctx, entry.Payload)
		if remote.IsConflict(err) {
			return "", nil
		}
		remoteID = stored.ID
	case core.ActionUpdate:
		if remoteID, err = e.store.RemoteID(ctx, entry.ExpenseID); err != nil {
			return "", err
		}
		payload := entry.Payload
		payload.ID = remoteID
		_, err = e.remote.Update(ctx, remoteID, payload)
		if remote.IsNotFound(err) {
			stored, err = e.remote.Create(ctx, entry.Payload)
			remoteID = stored.ID
		}
	case core.ActionDelete:
		if remoteID, err = e.store.RemoteID(ctx, entry.ExpenseID); err != nil {
			return "", err
		}
		err = e.remote.Delete(ctx, remoteID)
		if remote.IsNotFound(err) {
			err = nil
		}
	default:
		return "", fmt.Errorf("%w: %q", core.ErrUnknownAction, entry.Action)
	}
	if err != nil {
		return "", &core.TransportError{Op: string(entry.Action), Err: err}
	}
	return remoteID, nil
}

func (e *SyncEngine) finish(ctx context.Context, completed bool) {
	at := e.now()
	if completed {
		if err := e.store.SetLastSyncTime(ctx, at); err != nil {
			e.logger.ErrorContext(ctx, "Failed to persist last sync time", log.FieldError, err)
		}
	}
	e.state.EndSync(at, completed)
}

func (e *SyncEngine) notify(ctx context.Context, entry core.QueueEntry) {
	if e.notifier == nil {
		return
	}
	ev := amqp.NewSyncEvent(entry.ID, entry.ExpenseID, string(entry.Action))
	if err := e.notifier.PublishSyncEvent(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish sync event",
			log.FieldExpenseID, entry.ExpenseID, log.FieldError, err)
	}
}

func (e *SyncEngine) announceChange(ctx context.Context, month, source string) {
	if e.notifier == nil {
		return
	}
	msg := &amqp.RemoteChangeMessage{Month: month, Source: source, Origin: e.config.Origin, Timestamp: e.now()}
	if err := e.notifier.PublishRemoteChange(ctx, msg); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish remote change", log.FieldError, err)
	}
}

// Start begins the trigger loop. Returns an error if already running.
func (e *SyncEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("sync engine is already running")
	}
	e.running = true
	stopCh, doneCh := make(chan struct{}), make(chan struct{})
	e.stopCh, e.doneCh = stopCh, doneCh
	e.mu.Unlock()

	go e.runLoop(ctx, stopCh, doneCh)

	e.logger.InfoContext(ctx, "Sync engine started", "interval", e.config.Interval)
	return nil
}

// Stop signals the loop and waits for the current pass to finish.
func (e *SyncEngine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	stopCh, doneCh := e.stopCh, e.doneCh
	e.running = false
	e.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		e.logger.InfoContext(ctx, "Sync engine stopped gracefully")
		return nil
	case <-ctx.Done():
		e.logger.WarnContext(ctx, "Sync engine stop timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the trigger loop is running
func (e *SyncEngine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *SyncEngine) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	if e.conn != nil {
		cancel := e.conn.Subscribe(func(t network.Transition) {
			if t.Online {
				e.Kick()
			}
		})
		defer cancel()
	}

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	// Flush whatever is pending from a previous run
	e.pass(ctx, "startup")

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-e.kick:
			e.pass(ctx, "kick")
		case <-ticker.C:
			if e.state.Online() {
				e.pass(ctx, "interval")
			}
		}
	}
}

func (e *SyncEngine) pass(ctx context.Context, trigger string) {
	res, err := e.Sync(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "Sync pass failed", "trigger", trigger, log.FieldError, err)
		return
	}
	if res.Reason != "" {
		e.logger.DebugContext(ctx, "Sync pass skipped", "trigger", trigger, "reason", res.Reason)
	}
}
