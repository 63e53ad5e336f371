// Package schedule owns the authoritative schedule: machines, their
// committed timelines and the unassigned backlog.
//
// All mutations go through Store.Update, which applies the change to a copy
// of the state under the write lock and publishes it only if the change
// succeeds, so readers never observe a partial update.
package schedule

import (
	"fmt"
	"sync"

	"github.com/djlord-it/printfleet/internal/domain"
)

type Store struct {
	mu    sync.RWMutex
	state *State
}

func New() *Store {
	return &Store{state: NewState()}
}

// View runs fn against the current state under the read lock.
// fn must not modify the state or retain references to it.
func (s *Store) View(fn func(st *State)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.state)
}

// Update runs fn against a copy of the state under the write lock. The copy
// replaces the current state only if fn returns nil. Timelines fn does not
// write are shared with the current state rather than copied.
func (s *Store) Update(fn func(st *State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.committed == nil {
		s.state.indexCommitted()
	}
	next := s.state.writableCopy()
	if err := fn(next); err != nil {
		return err
	}
	s.state = next
	return nil
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() *State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Revision
}

// Restore replaces the state wholesale, e.g. from a persisted checkpoint.
func (s *Store) Restore(st *State) error {
	if st.Timelines == nil {
		st.Timelines = make(map[string][]domain.ScheduledJob)
	}
	if err := st.CheckInvariants(); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st.Clone()
	return nil
}
