package monitor

import (
	"sync"
	"time"

	"github.com/fencewise/geosync/internal/connection"
	"github.com/fencewise/geosync/internal/pkg/logger"
	"github.com/fencewise/geosync/internal/pubsub"
)

// Crossing is a boundary transition of a monitored region.
type Crossing struct {
	Region connection.Region
	At     time.Time
}

// RegionsMonitor maps an unbounded candidate set onto the provider's bounded
// slots, keeping the regions nearest the last known position monitored. It
// recomputes the selection whenever the candidate set or the position
// changes, and re-applies it when a revoked permission comes back.
type RegionsMonitor struct {
	provider Provider
	capacity int
	log      *logger.Logger

	entered *pubsub.Publisher[Crossing]
	exited  *pubsub.Publisher[Crossing]
	started *pubsub.Publisher[connection.Region]

	mu         sync.Mutex
	candidates map[string]connection.Region
	monitored  map[string]connection.Region
	lastKnown  *Coordinate
	subscribed bool
	token      pubsub.Token
}

// NewRegionsMonitor creates a monitor over the given provider. capacity is
// the number of slots the platform grants.
func NewRegionsMonitor(provider Provider, capacity int, exec pubsub.Executor, log *logger.Logger) *RegionsMonitor {
	return &RegionsMonitor{
		provider:   provider,
		capacity:   capacity,
		log:        log.WithComponent("monitor"),
		entered:    pubsub.NewPublisher[Crossing](exec),
		exited:     pubsub.NewPublisher[Crossing](exec),
		started:    pubsub.NewPublisher[connection.Region](exec),
		candidates: make(map[string]connection.Region),
		monitored:  make(map[string]connection.Region),
	}
}

// Entered publishes entry crossings of monitored regions.
func (m *RegionsMonitor) Entered() *pubsub.Publisher[Crossing] { return m.entered }

// Exited publishes exit crossings of monitored regions.
func (m *RegionsMonitor) Exited() *pubsub.Publisher[Crossing] { return m.exited }

// MonitoringStarted publishes regions as they claim a slot.
func (m *RegionsMonitor) MonitoringStarted() *pubsub.Publisher[connection.Region] { return m.started }

// Start subscribes to the provider's signal stream. Idempotent.
func (m *RegionsMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribed {
		return
	}
	m.token = m.provider.Events().Subscribe(m.handleProviderEvent)
	m.subscribed = true
}

// Stop unsubscribes and frees every slot. Idempotent.
func (m *RegionsMonitor) Stop() {
	m.mu.Lock()
	if m.subscribed {
		m.provider.Events().Unsubscribe(m.token)
		m.subscribed = false
	}
	m.stopAllLocked()
	m.mu.Unlock()
}

// UpdateRegions replaces the candidate set and reselects the monitored
// subset.
func (m *RegionsMonitor) UpdateRegions(regions []connection.Region) {
	m.mu.Lock()
	m.candidates = make(map[string]connection.Region, len(regions))
	for _, region := range regions {
		m.candidates[region.ID] = region
	}
	started := m.reselectLocked()
	m.mu.Unlock()

	m.announce(started)
}

// Monitored returns the currently occupied slots, for diagnostics.
func (m *RegionsMonitor) Monitored() []connection.Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]connection.Region, 0, len(m.monitored))
	for _, region := range m.monitored {
		out = append(out, region)
	}
	return out
}

func (m *RegionsMonitor) handleProviderEvent(ev ProviderEvent) {
	switch ev.Kind {
	case EventLocationUpdate, EventVisit:
		m.mu.Lock()
		m.lastKnown = ev.Coordinate
		started := m.reselectLocked()
		m.mu.Unlock()
		m.announce(started)

	case EventRegionEntered:
		if region, ok := m.lookupMonitored(ev.RegionID); ok {
			m.entered.Publish(Crossing{Region: region, At: ev.At})
		}

	case EventRegionExited:
		if region, ok := m.lookupMonitored(ev.RegionID); ok {
			m.exited.Publish(Crossing{Region: region, At: ev.At})
		}

	case EventAuthorizationChange:
		m.handleAuthorization(ev.Authorization)
	}
}

func (m *RegionsMonitor) lookupMonitored(regionID string) (connection.Region, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	region, ok := m.monitored[regionID]
	return region, ok
}

// handleAuthorization clears the slots silently on revocation and re-applies
// the selection when permission comes back. Revocation is not a user action
// on the candidate set, so no notification fires.
func (m *RegionsMonitor) handleAuthorization(auth Authorization) {
	m.mu.Lock()
	if auth != AuthorizationGranted {
		m.monitored = make(map[string]connection.Region)
		m.mu.Unlock()
		m.log.Info("Location permission revoked, monitoring cleared")
		return
	}
	started := m.reselectLocked()
	m.mu.Unlock()

	m.log.Info("Location permission granted, monitoring restored", "regions", len(started))
	m.announce(started)
}

// reselectLocked recomputes the nearest-capacity selection against the full
// candidate set and diffs it against the occupied slots. Returns the regions
// that newly claimed a slot.
func (m *RegionsMonitor) reselectLocked() []connection.Region {
	if m.provider.Authorization() != AuthorizationGranted {
		return nil
	}

	if m.lastKnown == nil {
		// No movement signal yet: seed the anchor from the platform's
		// cached position.
		if coord, ok := m.provider.LastKnown(); ok {
			m.lastKnown = &coord
		}
	}

	candidates := make([]connection.Region, 0, len(m.candidates))
	for _, region := range m.candidates {
		candidates = append(candidates, region)
	}
	selected := nearest(candidates, m.lastKnown, m.capacity)

	want := make(map[string]connection.Region, len(selected))
	for _, region := range selected {
		want[region.ID] = region
	}

	for id := range m.monitored {
		if _, keep := want[id]; keep {
			continue
		}
		if err := m.provider.StopMonitoring(id); err != nil {
			m.log.Warn("Stopping region monitoring failed", "region", id, "error", err)
		}
		delete(m.monitored, id)
	}

	var started []connection.Region
	for id, region := range want {
		if _, already := m.monitored[id]; already {
			continue
		}
		if err := m.provider.StartMonitoring(region); err != nil {
			m.log.Warn("Starting region monitoring failed", "region", id, "error", err)
			continue
		}
		m.monitored[id] = region
		started = append(started, region)
	}
	return started
}

func (m *RegionsMonitor) stopAllLocked() {
	for id := range m.monitored {
		if err := m.provider.StopMonitoring(id); err != nil {
			m.log.Warn("Stopping region monitoring failed", "region", id, "error", err)
		}
	}
	m.monitored = make(map[string]connection.Region)
}

func (m *RegionsMonitor) announce(started []connection.Region) {
	for _, region := range started {
		m.started.Publish(region)
	}
}
