// Package tracking follows each pending crossing event through its upload
// lifecycle so delays between transitions can be measured.
package tracking

import (
	"sync"
	"time"

	apperrors "github.com/fencewise/geosync/internal/pkg/errors"
)

// State is the lifecycle position of a tracked event.
type State string

const (
	StateRecorded    State = "recorded"
	StateUploadStart State = "upload_start"
	StateUploadError State = "upload_error"
)

// Entry is the tracked position of a single event.
type Entry struct {
	State State
	At    time.Time // time of the last transition
}

// Store tracks pending events in memory. Terminal transitions (a successful
// upload, or a failure that crossed the sanity threshold) evict the entry;
// everything else updates it in place. Tracking state is rebuilt naturally as
// events flow, so it is deliberately not persisted.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// TrackRecorded marks an event as freshly recorded.
func (s *Store) TrackRecorded(recordID string, at time.Time) {
	s.transition(recordID, StateRecorded, at)
}

// TrackUploadStart marks an event as entering an upload attempt.
func (s *Store) TrackUploadStart(recordID string, at time.Time) {
	s.transition(recordID, StateUploadStart, at)
}

// TrackUploadSuccess evicts the event: its lifecycle is complete.
func (s *Store) TrackUploadSuccess(recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, recordID)
}

// TrackUploadFailed marks a failed attempt. A sanity-threshold failure is
// terminal and evicts the entry; any other failure leaves it tracked for the
// next attempt.
func (s *Store) TrackUploadFailed(recordID string, err error, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if apperrors.IsSanityThreshold(err) {
		delete(s.entries, recordID)
		return
	}
	s.entries[recordID] = Entry{State: StateUploadError, At: at}
}

func (s *Store) transition(recordID string, state State, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[recordID] = Entry{State: state, At: at}
}

// Lookup returns the tracked entry for an event, ok reporting whether it is
// still tracked.
func (s *Store) Lookup(recordID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[recordID]
	return entry, ok
}

// Delay returns the time elapsed between the event's last transition and
// against. Untracked events report no delay.
func (s *Store) Delay(recordID string, against time.Time) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[recordID]
	if !ok {
		return 0, false
	}
	return against.Sub(entry.At), true
}

// Len returns the number of tracked events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
