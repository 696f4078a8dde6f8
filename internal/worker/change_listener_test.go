package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"expensync/internal/amqp"
	"expensync/internal/core"
)

type fakePuller struct {
	filters []core.Filter
	err     error
}

func (p *fakePuller) Pull(_ context.Context, f core.Filter) (int, error) {
	p.filters = append(p.filters, f)
	return len(p.filters), p.err
}

type fakeConsumer struct {
	msgs   []*amqp.RemoteChangeMessage
	errs   []error
	err    error
	onDone func()
}

func (c *fakeConsumer) ConsumeRemoteChanges(ctx context.Context, handler func(context.Context, *amqp.RemoteChangeMessage) error) error {
	for _, m := range c.msgs {
		c.errs = append(c.errs, handler(ctx, m))
	}
	if c.onDone != nil {
		c.onDone()
	}
	return c.err
}

func TestHandleRemoteChange(t *testing.T) {
	tests := []struct {
		name       string
		msg        *amqp.RemoteChangeMessage
		pullErr    error
		wantPulls  int
		wantFilter core.Filter
		wantErr    bool
	}{
		{
			name:       "month",
			msg:        &amqp.RemoteChangeMessage{Month: "2024-03", Source: "sheet"},
			wantPulls:  1,
			wantFilter: core.Filter{Year: "2024", Month: "03"},
		},
		{
			name:      "everything",
			msg:       &amqp.RemoteChangeMessage{},
			wantPulls: 1,
		},
		{
			name:      "own announcement is skipped",
			msg:       &amqp.RemoteChangeMessage{Source: "force_sync", Origin: "node-a"},
			wantPulls: 0,
		},
		{
			name:      "other origin is pulled",
			msg:       &amqp.RemoteChangeMessage{Source: "force_sync", Origin: "node-b"},
			wantPulls: 1,
		},
		{
			name:      "bad month is dropped",
			msg:       &amqp.RemoteChangeMessage{Month: "March"},
			wantPulls: 0,
		},
		{
			name:       "offline is not retried",
			msg:        &amqp.RemoteChangeMessage{Month: "2024-03"},
			pullErr:    core.ErrOffline,
			wantPulls:  1,
			wantFilter: core.Filter{Year: "2024", Month: "03"},
		},
		{
			name:      "transport failure requeues",
			msg:       &amqp.RemoteChangeMessage{},
			pullErr:   &core.TransportError{Op: "list", Err: errors.New("timeout")},
			wantPulls: 1,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePuller{err: tt.pullErr}
			l := NewChangeListener(p, "node-a")

			err := l.HandleRemoteChange(context.Background(), tt.msg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("HandleRemoteChange() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(p.filters) != tt.wantPulls {
				t.Fatalf("expected %d pulls, got %d", tt.wantPulls, len(p.filters))
			}
			if tt.wantPulls > 0 && p.filters[0] != tt.wantFilter {
				t.Fatalf("expected filter %+v, got %+v", tt.wantFilter, p.filters[0])
			}
		})
	}
}

func TestChangeListenerRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &fakePuller{}
	c := &fakeConsumer{
		msgs:   []*amqp.RemoteChangeMessage{{Month: "2024-01"}, {Month: "2024-02"}},
		onDone: cancel,
	}

	NewChangeListener(p, "").Run(ctx, c)

	if len(p.filters) != 2 {
		t.Fatalf("expected 2 pulls, got %d", len(p.filters))
	}
	for _, err := range c.errs {
		if err != nil {
			t.Fatalf("unexpected handler error: %v", err)
		}
	}
}

// flakyConsumer loses its channel on the first call and delivers on the next.
type flakyConsumer struct {
	mu         sync.Mutex
	calls      int
	reconnects int
	cancel     context.CancelFunc
}

func (c *flakyConsumer) ConsumeRemoteChanges(ctx context.Context, handler func(context.Context, *amqp.RemoteChangeMessage) error) error {
	c.mu.Lock()
	c.calls++
	call := c.calls
	c.mu.Unlock()

	if call == 1 {
		return errors.New("message channel closed")
	}
	_ = handler(ctx, &amqp.RemoteChangeMessage{Month: "2024-05"})
	c.cancel()
	<-ctx.Done()
	return nil
}

func (c *flakyConsumer) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects++
	return nil
}

func TestChangeListenerRun_ReconnectsAfterLostChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &fakePuller{}
	c := &flakyConsumer{cancel: cancel}

	l := NewChangeListener(p, "")
	l.minDelay = time.Millisecond
	l.maxDelay = 5 * time.Millisecond

	done := make(chan struct{})
	go func() {
		l.Run(ctx, c)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls != 2 {
		t.Fatalf("expected 2 consume calls, got %d", c.calls)
	}
	if c.reconnects != 1 {
		t.Fatalf("expected 1 reconnect, got %d", c.reconnects)
	}
	if len(p.filters) != 1 {
		t.Fatalf("expected 1 pull after reconnect, got %d", len(p.filters))
	}
}

func TestChangeListenerRun_StopsWhenCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	failing := &fakeConsumer{err: errors.New("boom")}

	l := NewChangeListener(&fakePuller{}, "")
	l.minDelay = time.Hour

	done := make(chan struct{})
	go func() {
		l.Run(ctx, failing)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept waiting after cancel")
	}
}
