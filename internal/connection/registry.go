package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fencewise/geosync/internal/pkg/logger"
	"github.com/fencewise/geosync/internal/pubsub"
	"github.com/fencewise/geosync/internal/storage"
)

const keyPrefix = "connections/"

// ChangeKind tags registry change notifications.
type ChangeKind string

const (
	// ChangeUpdated fires when an upsert changed the monitorable-region set.
	ChangeUpdated ChangeKind = "updated"
	// ChangeRemovedAll fires when the registry was cleared.
	ChangeRemovedAll ChangeKind = "removed_all"
)

// ChangeEvent describes a registry change.
type ChangeEvent struct {
	Kind         ChangeKind
	ConnectionID string
}

// Registry is the durable set of known connections. The in-memory map is
// authoritative for reads; every mutation is written through to the backing
// store before returning, so reads observe writes and an abrupt termination
// never loses an acknowledged update.
type Registry struct {
	kv      storage.KV
	changes *pubsub.Publisher[ChangeEvent]
	log     *logger.Logger

	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewRegistry creates a registry and loads the persisted set. Storage misses
// and corrupt entries degrade to an empty or partial set, never an error.
func NewRegistry(kv storage.KV, changes *pubsub.Publisher[ChangeEvent], log *logger.Logger) *Registry {
	r := &Registry{
		kv:      kv,
		changes: changes,
		log:     log.WithComponent("connections"),
		conns:   make(map[string]*Connection),
	}
	r.load()
	return r
}

func (r *Registry) load() {
	entries, err := r.kv.List(context.Background(), keyPrefix)
	if err != nil {
		r.log.Warn("Loading connections failed, starting empty", "error", err)
		return
	}

	for key, data := range entries {
		var conn Connection
		if err := json.Unmarshal(data, &conn); err != nil {
			r.log.Warn("Skipping corrupt connection record", "key", key, "error", err)
			continue
		}
		r.conns[conn.ID] = &conn
	}
}

// Update upserts a connection by id (last write wins). When notify is set and
// the upsert changed the monitorable-region set, a ChangeUpdated notification
// fires; an identical repeat update stays silent.
//
// A record updated to disabled is dropped entirely once its geofencing
// capability flag no longer references it.
func (r *Registry) Update(conn *Connection, notify bool) error {
	if err := conn.Validate(); err != nil {
		return fmt.Errorf("invalid connection: %w", err)
	}

	r.mu.Lock()

	before := r.monitorableSetLocked()

	if conn.Status != StatusEnabled && !conn.GeofencesEnabled {
		// Nothing references the record anymore.
		if err := r.kv.Delete(context.Background(), keyPrefix+conn.ID); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("deleting connection %s: %w", conn.ID, err)
		}
		delete(r.conns, conn.ID)
	} else {
		stored := conn.clone()
		data, err := json.Marshal(stored)
		if err != nil {
			r.mu.Unlock()
			return fmt.Errorf("marshaling connection %s: %w", conn.ID, err)
		}
		if err := r.kv.Set(context.Background(), keyPrefix+conn.ID, data); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("saving connection %s: %w", conn.ID, err)
		}
		r.conns[conn.ID] = stored
	}

	after := r.monitorableSetLocked()
	changed := !regionSetsEqual(before, after)
	r.mu.Unlock()

	if notify && changed {
		r.changes.Publish(ChangeEvent{Kind: ChangeUpdated, ConnectionID: conn.ID})
	}
	return nil
}

// Get retrieves a connection by id, or nil when unknown.
func (r *Registry) Get(id string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[id]
	if !ok {
		return nil
	}
	return conn.clone()
}

// Connections returns the externally visible set: enabled connections with at
// least one active location trigger, ordered by id for determinism.
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Connection
	for _, conn := range r.conns {
		if conn.Visible() {
			out = append(out, conn.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of externally visible connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, conn := range r.conns {
		if conn.Visible() {
			n++
		}
	}
	return n
}

// RemoveAll clears every record, emitting a ChangeRemovedAll notification
// when notify is set.
func (r *Registry) RemoveAll(notify bool) error {
	r.mu.Lock()

	keys := make([]string, 0, len(r.conns))
	for id := range r.conns {
		keys = append(keys, keyPrefix+id)
	}
	if err := r.kv.Delete(context.Background(), keys...); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("clearing connections: %w", err)
	}
	r.conns = make(map[string]*Connection)
	r.mu.Unlock()

	if notify {
		r.changes.Publish(ChangeEvent{Kind: ChangeRemovedAll})
	}
	return nil
}

// SetGeofencesEnabled flips the per-connection geofencing capability bit
// without touching trigger membership. Dropping the flag on a connection that
// is no longer enabled prunes the record, completing disablement cleanup.
func (r *Registry) SetGeofencesEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return nil // absence is a valid state
	}

	conn.GeofencesEnabled = enabled

	if !enabled && conn.Status != StatusEnabled {
		if err := r.kv.Delete(context.Background(), keyPrefix+id); err != nil {
			return fmt.Errorf("pruning connection %s: %w", id, err)
		}
		delete(r.conns, id)
		return nil
	}

	data, err := json.Marshal(conn)
	if err != nil {
		return fmt.Errorf("marshaling connection %s: %w", id, err)
	}
	if err := r.kv.Set(context.Background(), keyPrefix+id, data); err != nil {
		return fmt.Errorf("saving connection %s: %w", id, err)
	}
	return nil
}

// MonitorableRegions returns the deduped regions of every visible connection
// with geofencing enabled, ordered by region id.
func (r *Registry) MonitorableRegions() []Region {
	r.mu.RLock()
	set := r.monitorableSetLocked()
	r.mu.RUnlock()

	out := make([]Region, 0, len(set))
	for _, region := range set {
		out = append(out, region)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) monitorableSetLocked() map[string]Region {
	set := make(map[string]Region)
	for _, conn := range r.conns {
		if !conn.Visible() || !conn.GeofencesEnabled {
			continue
		}
		for _, region := range conn.ActiveRegions() {
			set[region.ID] = region
		}
	}
	return set
}

func regionSetsEqual(a, b map[string]Region) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}

// String describes the registry for logs.
func (r *Registry) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return fmt.Sprintf("connections[%s]", strings.Join(ids, ","))
}
