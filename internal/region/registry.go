package region

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/fencewise/geosync/internal/pkg/logger"
	"github.com/fencewise/geosync/internal/storage"
)

const keyPrefix = "region_events/"

// EventsRegistry is the durable, append-only queue of crossing events
// awaiting upload. Records are keyed by RecordID, so duplicate crossings of
// the same region coexist and removal of one never disturbs another.
type EventsRegistry struct {
	kv  storage.KV
	log *logger.Logger

	mu     sync.RWMutex
	events map[string]Event
}

// NewEventsRegistry creates a registry and loads the persisted queue.
// Corrupt entries are skipped, never fatal.
func NewEventsRegistry(kv storage.KV, log *logger.Logger) *EventsRegistry {
	r := &EventsRegistry{
		kv:     kv,
		log:    log.WithComponent("region-events"),
		events: make(map[string]Event),
	}
	r.load()
	return r
}

func (r *EventsRegistry) load() {
	entries, err := r.kv.List(context.Background(), keyPrefix)
	if err != nil {
		r.log.Warn("Loading region events failed, starting empty", "error", err)
		return
	}

	for key, data := range entries {
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			r.log.Warn("Skipping corrupt region event record", "key", key, "error", err)
			continue
		}
		r.events[ev.RecordID] = ev
	}
}

// Add appends an event to the queue. Adding never overwrites an existing
// record; a duplicate record id is rejected.
func (r *EventsRegistry) Add(ev Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid region event: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.events[ev.RecordID]; exists {
		return fmt.Errorf("region event %s already recorded", ev.RecordID)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling region event %s: %w", ev.RecordID, err)
	}
	if err := r.kv.Set(context.Background(), keyPrefix+ev.RecordID, data); err != nil {
		return fmt.Errorf("saving region event %s: %w", ev.RecordID, err)
	}
	r.events[ev.RecordID] = ev
	return nil
}

// Events returns the pending queue ordered by occurrence time, record id
// breaking ties for determinism.
func (r *EventsRegistry) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Event, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].RecordID < out[j].RecordID
	})
	return out
}

// Count returns the number of pending events.
func (r *EventsRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

// Remove deletes the given records from the queue. Unknown ids are ignored,
// so removals over disjoint sets commute.
func (r *EventsRegistry) Remove(recordIDs ...string) error {
	if len(recordIDs) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, len(recordIDs))
	for i, id := range recordIDs {
		keys[i] = keyPrefix + id
	}
	if err := r.kv.Delete(context.Background(), keys...); err != nil {
		return fmt.Errorf("removing region events: %w", err)
	}
	for _, id := range recordIDs {
		delete(r.events, id)
	}
	return nil
}

// RemoveAll clears the queue.
func (r *EventsRegistry) RemoveAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.events))
	for id := range r.events {
		keys = append(keys, keyPrefix+id)
	}
	if err := r.kv.Delete(context.Background(), keys...); err != nil {
		return fmt.Errorf("clearing region events: %w", err)
	}
	r.events = make(map[string]Event)
	return nil
}
