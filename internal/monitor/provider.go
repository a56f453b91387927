// Package monitor keeps the device's limited geofence slots pointed at the
// regions nearest to the last known position.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/fencewise/geosync/internal/connection"
	"github.com/fencewise/geosync/internal/pubsub"
)

// Coordinate is a WGS84 position.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Authorization is the location permission state reported by the platform.
type Authorization string

const (
	AuthorizationUnknown Authorization = "unknown"
	AuthorizationGranted Authorization = "granted"
	AuthorizationDenied  Authorization = "denied"
)

// ProviderEventKind tags provider signals.
type ProviderEventKind string

const (
	EventLocationUpdate      ProviderEventKind = "location_update"
	EventVisit               ProviderEventKind = "visit"
	EventRegionEntered       ProviderEventKind = "region_entered"
	EventRegionExited        ProviderEventKind = "region_exited"
	EventAuthorizationChange ProviderEventKind = "authorization_change"
)

// ProviderEvent is a signal from the platform location services.
type ProviderEvent struct {
	Kind          ProviderEventKind
	Coordinate    *Coordinate   // set for location updates and visits
	RegionID      string        // set for region crossings
	Authorization Authorization // set for authorization changes
	At            time.Time
}

// Provider abstracts the platform location services: a bounded set of
// hardware geofence slots plus a stream of position and crossing signals.
type Provider interface {
	// Events is the provider's signal stream.
	Events() *pubsub.Publisher[ProviderEvent]
	// StartMonitoring occupies a slot with the given region.
	StartMonitoring(region connection.Region) error
	// StopMonitoring frees the slot for the given region id.
	StopMonitoring(regionID string) error
	// Authorization reports the current permission state.
	Authorization() Authorization
	// LastKnown reports the platform's cached position, if it has one.
	LastKnown() (Coordinate, bool)
}

// SimulatedProvider is an in-process Provider for local runs and tests. Its
// slots are unbounded; callers inject signals with Move, Visit, Cross and
// SetAuthorization.
type SimulatedProvider struct {
	events *pubsub.Publisher[ProviderEvent]

	mu         sync.Mutex
	monitored  map[string]connection.Region
	authorized Authorization
	lastKnown  *Coordinate
}

// NewSimulatedProvider creates a provider with permission granted.
func NewSimulatedProvider(exec pubsub.Executor) *SimulatedProvider {
	return &SimulatedProvider{
		events:     pubsub.NewPublisher[ProviderEvent](exec),
		monitored:  make(map[string]connection.Region),
		authorized: AuthorizationGranted,
	}
}

// Events implements Provider.
func (p *SimulatedProvider) Events() *pubsub.Publisher[ProviderEvent] {
	return p.events
}

// StartMonitoring implements Provider.
func (p *SimulatedProvider) StartMonitoring(region connection.Region) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.authorized != AuthorizationGranted {
		return fmt.Errorf("location permission %s", p.authorized)
	}
	p.monitored[region.ID] = region
	return nil
}

// StopMonitoring implements Provider.
func (p *SimulatedProvider) StopMonitoring(regionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.monitored, regionID)
	return nil
}

// Authorization implements Provider.
func (p *SimulatedProvider) Authorization() Authorization {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authorized
}

// LastKnown implements Provider. The simulated platform remembers the most
// recent Move or Visit coordinate.
func (p *SimulatedProvider) LastKnown() (Coordinate, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastKnown == nil {
		return Coordinate{}, false
	}
	return *p.lastKnown, true
}

// Monitored returns the ids of the occupied slots.
func (p *SimulatedProvider) Monitored() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.monitored))
	for id := range p.monitored {
		ids = append(ids, id)
	}
	return ids
}

// Move injects a location update.
func (p *SimulatedProvider) Move(coord Coordinate) {
	p.mu.Lock()
	p.lastKnown = &coord
	p.mu.Unlock()
	p.events.Publish(ProviderEvent{Kind: EventLocationUpdate, Coordinate: &coord, At: time.Now()})
}

// Visit injects a visit signal.
func (p *SimulatedProvider) Visit(coord Coordinate) {
	p.mu.Lock()
	p.lastKnown = &coord
	p.mu.Unlock()
	p.events.Publish(ProviderEvent{Kind: EventVisit, Coordinate: &coord, At: time.Now()})
}

// Cross injects a crossing for a monitored region. Crossings for unmonitored
// regions are dropped, matching platform behavior.
func (p *SimulatedProvider) Cross(kind ProviderEventKind, regionID string, at time.Time) {
	p.mu.Lock()
	_, monitored := p.monitored[regionID]
	p.mu.Unlock()
	if !monitored {
		return
	}
	p.events.Publish(ProviderEvent{Kind: kind, RegionID: regionID, At: at})
}

// SetAuthorization flips the permission state and announces the change.
func (p *SimulatedProvider) SetAuthorization(auth Authorization) {
	p.mu.Lock()
	p.authorized = auth
	if auth != AuthorizationGranted {
		p.monitored = make(map[string]connection.Region)
	}
	p.mu.Unlock()
	p.events.Publish(ProviderEvent{Kind: EventAuthorizationChange, Authorization: auth, At: time.Now()})
}
