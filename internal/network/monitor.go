// Package network tracks connectivity to the remote store and notifies
// subscribers on online/offline transitions.
package network

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"expensync/internal/log"
	"expensync/internal/state"
)

// Transition is emitted once per change of connectivity.
type Transition struct {
	Online bool
	At     time.Time
}

// Probe reports whether the remote store is reachable.
type Probe interface {
	Check(ctx context.Context) error
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Check(ctx context.Context) error { return f(ctx) }

type Monitor struct {
	state    *state.State
	probe    Probe
	interval time.Duration
	logger   *log.Logger

	// notifyMu orders transitions: the state swap and the fan-out of one
	// signal finish before the next signal is applied.
	notifyMu sync.Mutex

	mu     sync.Mutex
	subs   map[int]func(Transition)
	nextID int
}

func NewMonitor(st *state.State, probe Probe, interval time.Duration) *Monitor {
	return &Monitor{
		state:    st,
		probe:    probe,
		interval: interval,
		logger:   log.Default(log.ComponentNetwork),
		subs:     make(map[int]func(Transition)),
	}
}

func (m *Monitor) Online() bool {
	return m.state.Online()
}

// Subscribe registers fn for transitions. Callbacks run synchronously on the
// goroutine that observed the change, must not block and must not call Set.
func (m *Monitor) Subscribe(fn func(Transition)) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Set records a connectivity signal. Subscribers are notified only when the
// state actually changes.
func (m *Monitor) Set(online bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	if !m.state.SetOnline(online) {
		return
	}
	t := Transition{Online: online, At: time.Now()}
	m.logger.Info("Connectivity changed", log.FieldOnline, online)

	m.mu.Lock()
	subs := make([]func(Transition), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(t)
	}
}

// Run probes connectivity immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if m.probe == nil {
		<-ctx.Done()
		return nil
	}

	m.check(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	err := m.probe.Check(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.logger.DebugContext(ctx, "Connectivity probe failed", log.FieldError, err)
	}
	m.Set(err == nil)
}

// HTTPProbe checks a health endpoint. Any 2xx response means online.
type HTTPProbe struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

func (p HTTPProbe) Check(ctx context.Context) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("creating probe request: %w", err)
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probing %s: %w", p.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probing %s: unexpected status %d", p.URL, resp.StatusCode)
	}
	return nil
}
