package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"expensync/internal/amqp"
	"expensync/internal/core"
	"expensync/internal/log"
)

// Puller refreshes the local store from the remote store.
type Puller interface {
	Pull(ctx context.Context, f core.Filter) (int, error)
}

// ChangeConsumer delivers remote change notifications.
type ChangeConsumer interface {
	ConsumeRemoteChanges(ctx context.Context, handler func(context.Context, *amqp.RemoteChangeMessage) error) error
}

// Reconnector is implemented by consumers that can re-establish a lost
// broker connection.
type Reconnector interface {
	Reconnect() error
}

const (
	minRetryDelay = time.Second
	maxRetryDelay = 30 * time.Second
)

// ChangeListener pulls remote records into the local store whenever another
// client announces a change.
type ChangeListener struct {
	puller Puller
	origin string
	logger *log.Logger

	minDelay time.Duration
	maxDelay time.Duration
}

// NewChangeListener creates a listener. Notifications tagged with origin were
// published by this process and are skipped.
func NewChangeListener(puller Puller, origin string) *ChangeListener {
	return &ChangeListener{
		puller:   puller,
		origin:   origin,
		logger:   log.Default(log.ComponentWorker),
		minDelay: minRetryDelay,
		maxDelay: maxRetryDelay,
	}
}

// HandleRemoteChange pulls the month named by msg, or everything when it is
// empty. Notifications received while offline are dropped; the records are
// picked up by the next pull.
func (l *ChangeListener) HandleRemoteChange(ctx context.Context, msg *amqp.RemoteChangeMessage) error {
	if l.origin != "" && msg.Origin == l.origin {
		l.logger.DebugContext(ctx, "Skipping own remote change", "source", msg.Source)
		return nil
	}

	var f core.Filter
	if msg.Month != "" {
		m, err := core.ParseMonth(msg.Month)
		if err != nil {
			l.logger.WarnContext(ctx, "Ignoring remote change with bad month",
				"month", msg.Month, log.FieldError, err)
			return nil
		}
		f = core.ForMonth(m)
	}

	n, err := l.puller.Pull(ctx, f)
	if errors.Is(err, core.ErrOffline) {
		l.logger.InfoContext(ctx, "Offline, skipping remote change", "month", msg.Month, "source", msg.Source)
		return nil
	}
	if err != nil {
		return fmt.Errorf("pull remote changes: %w", err)
	}

	l.logger.InfoContext(ctx, "Applied remote change",
		"month", msg.Month,
		"source", msg.Source,
		"applied", n)
	return nil
}

// Run consumes notifications until ctx is cancelled. A lost consumer is
// logged and restarted with exponential backoff, reconnecting first when the
// consumer supports it.
func (l *ChangeListener) Run(ctx context.Context, consumer ChangeConsumer) {
	delay := l.minDelay
	for {
		started := time.Now()
		err := consumer.ConsumeRemoteChanges(ctx, l.HandleRemoteChange)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("consumer stopped")
		}
		if time.Since(started) > l.maxDelay {
			delay = l.minDelay
		}
		l.logger.WarnContext(ctx, "Remote change consumer lost, retrying",
			log.FieldError, err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, l.maxDelay)

		if r, ok := consumer.(Reconnector); ok {
			if err := r.Reconnect(); err != nil {
				l.logger.WarnContext(ctx, "Broker reconnect failed", log.FieldError, err)
			}
		}
	}
}
