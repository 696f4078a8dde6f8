// Package state holds the process-wide connectivity and sync status shared by
// the network monitor and the sync engine.
package state

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is created once at startup and injected into its consumers.
type State struct {
	online  atomic.Bool
	syncing atomic.Bool

	mu       sync.RWMutex
	lastSync time.Time
}

// Snapshot is a point-in-time copy for display.
type Snapshot struct {
	Online   bool
	Syncing  bool
	LastSync time.Time
}

func New(online bool, lastSync time.Time) *State {
	s := &State{lastSync: lastSync}
	s.online.Store(online)
	return s
}

func (s *State) Online() bool {
	return s.online.Load()
}

// SetOnline stores the flag and reports whether it changed.
func (s *State) SetOnline(online bool) bool {
	return s.online.Swap(online) != online
}

func (s *State) Syncing() bool {
	return s.syncing.Load()
}

// TryBeginSync enters the syncing state. It returns false when a pass is
// already in flight.
func (s *State) TryBeginSync() bool {
	return s.syncing.CompareAndSwap(false, true)
}

// EndSync leaves the syncing state, recording at as the last completed pass
// when completed is true.
func (s *State) EndSync(at time.Time, completed bool) {
	if completed {
		s.mu.Lock()
		s.lastSync = at
		s.mu.Unlock()
	}
	s.syncing.Store(false)
}

func (s *State) LastSync() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync
}

func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Online:   s.Online(),
		Syncing:  s.Syncing(),
		LastSync: s.LastSync(),
	}
}
