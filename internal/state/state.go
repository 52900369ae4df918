// Package state holds the observable sync state that UI layers subscribe to.
package state

import (
	"sync"
	"time"

	"github.com/hyperengineering/vitalsync/internal/types"
)

// Store is the single process-wide sync state holder. It is mutated only
// through BeginPending, MarkSuccess and MarkError.
type Store struct {
	mu    sync.Mutex
	state types.SyncState
	now   func() time.Time

	deliverMu sync.Mutex
	subMu     sync.Mutex
	subs      map[int]func(types.SyncState)
	nextSub   int
}

// NewStore creates a Store in the idle state.
func NewStore() *Store {
	return &Store{
		state: types.SyncState{Status: types.StatusIdle},
		now:   func() time.Time { return time.Now().UTC() },
		subs:  make(map[int]func(types.SyncState)),
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() types.SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending reports whether a flush is in flight.
func (s *Store) Pending() bool {
	return s.Snapshot().Status == types.StatusPending
}

// BeginPending moves to pending for source. It returns false, leaving the
// state untouched, when a flush is already pending; callers treat that as
// a lock they failed to acquire.
func (s *Store) BeginPending(source types.SyncSource) bool {
	return s.apply(func(st *types.SyncState) bool {
		if st.Status == types.StatusPending {
			return false
		}
		st.Status = types.StatusPending
		st.Source = source
		return true
	})
}

// MarkSuccess records a completed flush.
func (s *Store) MarkSuccess(summary types.FlushSummary) {
	s.apply(func(st *types.SyncState) bool {
		st.Status = types.StatusSuccess
		st.LastSummary = &summary
		st.LastError = ""
		return true
	})
}

// MarkError records a failed flush. summary may be nil when the flush
// failed before producing results.
func (s *Store) MarkError(err error, summary *types.FlushSummary) {
	s.apply(func(st *types.SyncState) bool {
		st.Status = types.StatusError
		if summary != nil {
			st.LastSummary = summary
		}
		if err != nil {
			st.LastError = err.Error()
		}
		return true
	})
}

// apply runs mutate under the state lock and, when it reports a change,
// delivers the new state. The delivery lock is taken before the state lock
// is released, so subscribers see changes in the order they were made.
func (s *Store) apply(mutate func(*types.SyncState) bool) bool {
	s.mu.Lock()
	if !mutate(&s.state) {
		s.mu.Unlock()
		return false
	}
	s.state.UpdatedAt = s.now()
	next := s.state
	s.deliverMu.Lock()
	s.mu.Unlock()

	defer s.deliverMu.Unlock()
	s.notify(next)
	return true
}

// Subscribe registers fn for every state change and returns a function
// that removes it. fn is called outside the state lock, one change at a
// time, and must not mutate the Store.
func (s *Store) Subscribe(fn func(types.SyncState)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(st types.SyncState) {
	s.subMu.Lock()
	fns := make([]func(types.SyncState), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}
