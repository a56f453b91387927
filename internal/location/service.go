// Package location owns the geofence synchronization flow: it turns monitor
// crossings into durable queue entries and drains the queue toward the
// backing service on each synchronization pass.
package location

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fencewise/geosync/internal/config"
	"github.com/fencewise/geosync/internal/connection"
	"github.com/fencewise/geosync/internal/credentials"
	"github.com/fencewise/geosync/internal/monitor"
	apperrors "github.com/fencewise/geosync/internal/pkg/errors"
	"github.com/fencewise/geosync/internal/pkg/logger"
	"github.com/fencewise/geosync/internal/pubsub"
	"github.com/fencewise/geosync/internal/region"
	"github.com/fencewise/geosync/internal/scheduler"
	"github.com/fencewise/geosync/internal/tracking"
	"github.com/fencewise/geosync/internal/transport"
)

// State is the service lifecycle position.
type State string

const (
	StateUnknown State = "unknown"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// RequestSyncFunc asks the scheduler for a pass.
type RequestSyncFunc func(source scheduler.TriggerSource)

// Service is the geofence synchronization engine. It implements
// scheduler.Synchronizable.
type Service struct {
	conns       *connection.Registry
	connChanges *pubsub.Publisher[connection.ChangeEvent]
	events      *region.EventsRegistry
	monitor     *monitor.RegionsMonitor
	transport   transport.Transport
	reporter    *tracking.Reporter
	creds       credentials.Provider
	cfg         config.SyncConfig
	log         *logger.Logger
	requestSync RequestSyncFunc

	mu     sync.Mutex
	state  State
	tokens []func()
	passMu sync.Mutex // serializes synchronization passes
}

// Deps bundles the service's collaborators.
type Deps struct {
	Connections       *connection.Registry
	ConnectionChanges *pubsub.Publisher[connection.ChangeEvent]
	Events            *region.EventsRegistry
	Monitor           *monitor.RegionsMonitor
	Transport         transport.Transport
	Reporter          *tracking.Reporter
	Credentials       credentials.Provider
	RequestSync       RequestSyncFunc
}

// NewService creates the service in the unknown state.
func NewService(deps Deps, cfg config.SyncConfig, log *logger.Logger) *Service {
	requestSync := deps.RequestSync
	if requestSync == nil {
		requestSync = func(scheduler.TriggerSource) {}
	}
	return &Service{
		conns:       deps.Connections,
		connChanges: deps.ConnectionChanges,
		events:      deps.Events,
		monitor:     deps.Monitor,
		transport:   deps.Transport,
		reporter:    deps.Reporter,
		creds:       deps.Credentials,
		cfg:         cfg,
		log:         log.WithComponent("location"),
		requestSync: requestSync,
		state:       StateUnknown,
	}
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start wires the service into its signal sources and begins monitoring.
// Idempotent.
func (s *Service) Start() {
	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateRunning

	enteredTok := s.monitor.Entered().Subscribe(func(c monitor.Crossing) {
		s.recordCrossing(region.KindEntry, c)
	})
	exitedTok := s.monitor.Exited().Subscribe(func(c monitor.Crossing) {
		s.recordCrossing(region.KindExit, c)
	})
	connsTok := s.connChanges.Subscribe(s.handleConnectionChange)

	s.tokens = []func(){
		func() { s.monitor.Entered().Unsubscribe(enteredTok) },
		func() { s.monitor.Exited().Unsubscribe(exitedTok) },
		func() { s.connChanges.Unsubscribe(connsTok) },
	}
	s.mu.Unlock()

	s.monitor.Start()
	s.UpdateRegions()
	s.log.Info("Location service started")
}

// Reset detaches from signal sources, frees the monitor slots and discards
// the pending queue. Used on sign-out, where retained crossings would leak
// another account's movements. Idempotent.
func (s *Service) Reset() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	for _, unsubscribe := range s.tokens {
		unsubscribe()
	}
	s.tokens = nil
	s.mu.Unlock()

	s.monitor.Stop()
	s.discardPending("reset")
	s.log.Info("Location service reset")
}

func (s *Service) recordCrossing(kind region.Kind, c monitor.Crossing) {
	ev := region.NewEvent(kind, c.Region.ID, c.At)
	if err := s.events.Add(ev); err != nil {
		s.log.Error("Recording crossing failed", "region", c.Region.ID, "error", err)
		return
	}
	s.reporter.EventRecorded(ev)
	s.requestSync(scheduler.SourceRegionCrossing)
}

func (s *Service) handleConnectionChange(ev connection.ChangeEvent) {
	s.UpdateRegions()
	switch ev.Kind {
	case connection.ChangeRemovedAll:
		s.requestSync(scheduler.SourceConnectionDisabled)
	default:
		s.requestSync(scheduler.SourceConnectionUpdated)
	}
}

// UpdateRegions pushes the registry's monitorable regions into the monitor.
func (s *Service) UpdateRegions() {
	s.monitor.UpdateRegions(s.conns.MonitorableRegions())
}

// Name implements scheduler.Synchronizable.
func (s *Service) Name() string { return "location" }

// ShouldParticipate implements scheduler.Synchronizable: passes run only
// with an authenticated session and at least one visible connection. An
// unauthenticated session also discards the pending queue, since its events
// can never be attributed upstream.
func (s *Service) ShouldParticipate(scheduler.TriggerSource) bool {
	if !s.creds.IsAuthenticated() {
		s.discardPending("unauthenticated")
		return false
	}
	return s.conns.Count() > 0
}

// PerformSynchronization implements scheduler.Synchronizable: it drains the
// pending queue in batches. Below the sanity threshold a failed pass leaves
// the queue for the next trigger; at or above it the pass retries in place
// and discards what it still cannot upload.
func (s *Service) PerformSynchronization(ctx context.Context) (bool, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	snapshot := s.events.Events()
	if len(snapshot) == 0 {
		return false, nil
	}

	pending := len(snapshot)
	overloaded := pending >= s.cfg.SanityThreshold
	attempts := 1
	if overloaded {
		attempts = s.cfg.MaxUploadAttempts
		s.log.Warn("Pending queue over sanity threshold", "pending", pending, "threshold", s.cfg.SanityThreshold)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		remaining := s.events.Events()
		if len(remaining) == 0 {
			return true, nil
		}
		if err := s.uploadAll(ctx, remaining); err != nil {
			lastErr = err
			s.log.Warn("Upload attempt failed", "attempt", attempt, "remaining", s.events.Count(), "error", err)
			continue
		}
		return true, nil
	}

	if !overloaded {
		// The queue stays for the next pass.
		return false, lastErr
	}

	// Retries are exhausted with the queue overloaded: discard what is left
	// rather than grow without bound.
	leftover := s.events.Events()
	thresholdErr := apperrors.SanityThresholdError(pending)
	recordIDs := make([]string, len(leftover))
	for i, ev := range leftover {
		recordIDs[i] = ev.RecordID
		s.reporter.UploadFailed(ev, thresholdErr)
	}
	if err := s.events.Remove(recordIDs...); err != nil {
		s.log.Error("Discarding overloaded queue failed", "error", err)
	}
	s.log.Warn("Discarded pending crossings over sanity threshold", "discarded", len(leftover))
	return false, thresholdErr
}

// uploadAll drains the given snapshot in batches, a bounded worker pool
// running the requests. Each successful batch is removed from the queue
// immediately, so a later failure never resurrects uploaded events.
func (s *Service) uploadAll(ctx context.Context, snapshot []region.Event) error {
	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(snapshot)
	}

	g, ctx := errgroup.WithContext(ctx)
	if s.cfg.UploadWorkers > 0 {
		g.SetLimit(s.cfg.UploadWorkers)
	}

	for start := 0; start < len(snapshot); start += batchSize {
		end := start + batchSize
		if end > len(snapshot) {
			end = len(snapshot)
		}
		batch := snapshot[start:end]

		g.Go(func() error {
			for _, ev := range batch {
				s.reporter.UploadStarted(ev)
			}
			if err := s.transport.UploadEvents(ctx, batch); err != nil {
				for _, ev := range batch {
					s.reporter.UploadFailed(ev, err)
				}
				return err
			}

			recordIDs := make([]string, len(batch))
			for i, ev := range batch {
				recordIDs[i] = ev.RecordID
				s.reporter.UploadSucceeded(ev)
			}
			return s.events.Remove(recordIDs...)
		})
	}

	return g.Wait()
}

// discardPending drops the queue and its tracking without reporting upload
// failures.
func (s *Service) discardPending(reason string) {
	snapshot := s.events.Events()
	if len(snapshot) == 0 {
		return
	}
	recordIDs := make([]string, len(snapshot))
	for i, ev := range snapshot {
		recordIDs[i] = ev.RecordID
	}
	s.reporter.Forget(recordIDs...)
	if err := s.events.Remove(recordIDs...); err != nil {
		s.log.Error("Discarding pending crossings failed", "reason", reason, "error", err)
		return
	}
	s.log.Info("Discarded pending crossings", "reason", reason, "count", len(recordIDs))
}
