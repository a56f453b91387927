package location

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fencewise/geosync/internal/config"
	"github.com/fencewise/geosync/internal/connection"
	"github.com/fencewise/geosync/internal/credentials"
	"github.com/fencewise/geosync/internal/monitor"
	apperrors "github.com/fencewise/geosync/internal/pkg/errors"
	"github.com/fencewise/geosync/internal/pkg/logger"
	"github.com/fencewise/geosync/internal/pubsub"
	"github.com/fencewise/geosync/internal/region"
	"github.com/fencewise/geosync/internal/report"
	"github.com/fencewise/geosync/internal/scheduler"
	"github.com/fencewise/geosync/internal/storage"
	"github.com/fencewise/geosync/internal/tracking"
)

// fakeTransport records uploads and fails while err is set. failLimit > 0
// clears err after that many failed calls.
type fakeTransport struct {
	mu        sync.Mutex
	err       error
	failLimit int
	failures  int
	batches   [][]region.Event
}

func (f *fakeTransport) UploadEvents(ctx context.Context, events []region.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		err := f.err
		f.failures++
		if f.failLimit > 0 && f.failures >= f.failLimit {
			f.err = nil
		}
		return err
	}
	batch := make([]region.Event, len(events))
	copy(batch, events)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeTransport) setError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeTransport) uploaded() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, batch := range f.batches {
		n += len(batch)
	}
	return n
}

type harness struct {
	service   *Service
	conns     *connection.Registry
	events    *region.EventsRegistry
	provider  *monitor.SimulatedProvider
	transport *fakeTransport
	creds     *credentials.StaticProvider
	sink      *report.MemorySink
	store     *tracking.Store

	mu       sync.Mutex
	requests []scheduler.TriggerSource
}

func (h *harness) requested() []scheduler.TriggerSource {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]scheduler.TriggerSource, len(h.requests))
	copy(out, h.requests)
	return out
}

func newHarness(t *testing.T, cfg config.SyncConfig) *harness {
	t.Helper()

	h := &harness{
		provider:  monitor.NewSimulatedProvider(pubsub.CallerExecutor{}),
		transport: &fakeTransport{},
		creds:     credentials.NewStaticProvider(true),
		sink:      report.NewMemorySink(),
		store:     tracking.NewStore(),
	}

	changes := pubsub.NewPublisher[connection.ChangeEvent](pubsub.CallerExecutor{})
	h.conns = connection.NewRegistry(storage.NewMemoryKV(), changes, logger.Discard())
	h.events = region.NewEventsRegistry(storage.NewMemoryKV(), logger.Discard())
	mon := monitor.NewRegionsMonitor(h.provider, 20, pubsub.CallerExecutor{}, logger.Discard())

	h.service = NewService(Deps{
		Connections:       h.conns,
		ConnectionChanges: changes,
		Events:            h.events,
		Monitor:           mon,
		Transport:         h.transport,
		Reporter:          tracking.NewReporter(h.store, h.sink),
		Credentials:       h.creds,
		RequestSync: func(source scheduler.TriggerSource) {
			h.mu.Lock()
			h.requests = append(h.requests, source)
			h.mu.Unlock()
		},
	}, cfg, logger.Discard())
	t.Cleanup(h.service.Reset)
	return h
}

func defaultSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		SanityThreshold:   20,
		MaxUploadAttempts: 3,
		BatchSize:         10,
		UploadWorkers:     2,
	}
}

func seedConnection(t *testing.T, h *harness, id string, subIDs ...string) {
	t.Helper()
	conn := connection.NewConnection(id, "conn "+id)
	conn.Status = connection.StatusEnabled
	for _, subID := range subIDs {
		conn.ActiveTriggers = append(conn.ActiveTriggers, connection.Trigger{
			Type:           connection.TriggerLocation,
			SubscriptionID: subID,
			Region:         &connection.Region{ID: subID, Latitude: 52.52, Longitude: 13.40, Radius: 100},
		})
	}
	if err := h.conns.Update(conn, true); err != nil {
		t.Fatalf("seeding connection: %v", err)
	}
}

func queueEvents(t *testing.T, h *harness, n int) {
	t.Helper()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		ev := region.NewEvent(region.KindEntry, "sub-1", base.Add(time.Duration(i)*time.Second))
		if err := h.events.Add(ev); err != nil {
			t.Fatalf("queueing event: %v", err)
		}
		h.store.TrackRecorded(ev.RecordID, ev.OccurredAt)
	}
}

func TestServiceRecordsCrossings(t *testing.T) {
	h := newHarness(t, defaultSyncConfig())
	seedConnection(t, h, "c1", "sub-1")
	h.service.Start()

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	h.provider.Cross(monitor.EventRegionEntered, "sub-1", at)
	h.provider.Cross(monitor.EventRegionExited, "sub-1", at.Add(time.Minute))

	events := h.events.Events()
	if len(events) != 2 {
		t.Fatalf("queued %d events, want 2", len(events))
	}
	if events[0].Kind != region.KindEntry || events[1].Kind != region.KindExit {
		t.Fatalf("kinds = [%s %s], want [entry exit]", events[0].Kind, events[1].Kind)
	}
	if events[0].SubscriptionID != "sub-1" {
		t.Fatalf("subscription = %s, want sub-1", events[0].SubscriptionID)
	}

	// Each crossing asked for a pass.
	var crossings int
	for _, source := range h.requested() {
		if source == scheduler.SourceRegionCrossing {
			crossings++
		}
	}
	if crossings != 2 {
		t.Fatalf("requested %d crossing passes, want 2", crossings)
	}
}

func TestServiceStartIdempotent(t *testing.T) {
	h := newHarness(t, defaultSyncConfig())
	seedConnection(t, h, "c1", "sub-1")

	h.service.Start()
	h.service.Start()

	at := time.Now()
	h.provider.Cross(monitor.EventRegionEntered, "sub-1", at)
	if got := h.events.Count(); got != 1 {
		t.Fatalf("queued %d events after double start, want 1", got)
	}
	if h.service.State() != StateRunning {
		t.Fatalf("State() = %s, want running", h.service.State())
	}
}

func TestServiceResetDiscardsQueue(t *testing.T) {
	h := newHarness(t, defaultSyncConfig())
	seedConnection(t, h, "c1", "sub-1")
	h.service.Start()
	queueEvents(t, h, 3)

	h.service.Reset()
	h.service.Reset() // idempotent

	if got := h.events.Count(); got != 0 {
		t.Fatalf("queue holds %d events after reset, want 0", got)
	}
	if got := h.store.Len(); got != 0 {
		t.Fatalf("tracking holds %d entries after reset, want 0", got)
	}
	if h.service.State() != StateStopped {
		t.Fatalf("State() = %s, want stopped", h.service.State())
	}

	// Crossings after reset are ignored.
	h.provider.Cross(monitor.EventRegionEntered, "sub-1", time.Now())
	if got := h.events.Count(); got != 0 {
		t.Fatalf("queue holds %d events after post-reset crossing, want 0", got)
	}
}

func TestServiceParticipationGate(t *testing.T) {
	h := newHarness(t, defaultSyncConfig())

	// No visible connections: no participation.
	if h.service.ShouldParticipate(scheduler.SourceManual) {
		t.Fatal("should not participate without visible connections")
	}

	seedConnection(t, h, "c1", "sub-1")
	if !h.service.ShouldParticipate(scheduler.SourceManual) {
		t.Fatal("should participate with session and visible connection")
	}

	// Sign-out drops participation and flushes the unattributable queue.
	queueEvents(t, h, 2)
	h.creds.SetAuthenticated(false)
	if h.service.ShouldParticipate(scheduler.SourceManual) {
		t.Fatal("should not participate without a session")
	}
	if got := h.events.Count(); got != 0 {
		t.Fatalf("queue holds %d events after sign-out, want 0", got)
	}
}

func TestServiceSynchronizationSuccess(t *testing.T) {
	h := newHarness(t, defaultSyncConfig())
	queueEvents(t, h, 5)

	uploaded, err := h.service.PerformSynchronization(context.Background())
	if err != nil {
		t.Fatalf("PerformSynchronization() error = %v", err)
	}
	if !uploaded {
		t.Fatal("PerformSynchronization() = false, want true")
	}
	if got := h.events.Count(); got != 0 {
		t.Fatalf("queue holds %d events, want 0", got)
	}
	if got := h.transport.uploaded(); got != 5 {
		t.Fatalf("transport received %d events, want 5", got)
	}
	if got := h.store.Len(); got != 0 {
		t.Fatalf("tracking holds %d entries, want 0", got)
	}

	var successes int
	for _, rec := range h.sink.Records() {
		if rec.Stage == report.StageUploadSuccess {
			successes++
		}
	}
	if successes != 5 {
		t.Fatalf("reported %d successes, want 5", successes)
	}
}

func TestServiceEmptyQueueIsNoop(t *testing.T) {
	h := newHarness(t, defaultSyncConfig())

	uploaded, err := h.service.PerformSynchronization(context.Background())
	if err != nil {
		t.Fatalf("PerformSynchronization() error = %v", err)
	}
	if uploaded {
		t.Fatal("empty queue should report nothing uploaded")
	}
	if got := h.transport.uploaded(); got != 0 {
		t.Fatalf("transport received %d events, want 0", got)
	}
}

func TestServiceFailureBelowThresholdRetainsQueue(t *testing.T) {
	h := newHarness(t, defaultSyncConfig())
	queueEvents(t, h, 5)
	h.transport.setError(apperrors.NetworkError("upload", nil))

	uploaded, err := h.service.PerformSynchronization(context.Background())
	if uploaded || err == nil {
		t.Fatalf("PerformSynchronization() = %v, %v; want false, error", uploaded, err)
	}
	if got := h.events.Count(); got != 5 {
		t.Fatalf("queue holds %d events, want 5 retained for the next pass", got)
	}
	// Tracking survives a retryable failure.
	if got := h.store.Len(); got != 5 {
		t.Fatalf("tracking holds %d entries, want 5", got)
	}
}

func TestServiceOverloadedQueueDiscards(t *testing.T) {
	h := newHarness(t, defaultSyncConfig()) // threshold 20, 3 attempts
	queueEvents(t, h, 25)
	h.transport.setError(apperrors.ServerError("boom"))

	uploaded, err := h.service.PerformSynchronization(context.Background())
	if uploaded {
		t.Fatal("PerformSynchronization() = true, want false")
	}
	if !apperrors.IsSanityThreshold(err) {
		t.Fatalf("error code = %s, want sanity threshold", apperrors.Code(err))
	}
	if got := h.events.Count(); got != 0 {
		t.Fatalf("queue holds %d events, want 0 after discard", got)
	}
	if got := h.store.Len(); got != 0 {
		t.Fatalf("tracking holds %d entries, want 0 after discard", got)
	}
}

func TestServiceOverloadedAtExactThreshold(t *testing.T) {
	h := newHarness(t, defaultSyncConfig()) // threshold 20
	queueEvents(t, h, 20)
	h.transport.setError(apperrors.ServerError("boom"))

	// Pending equal to the threshold already counts as overloaded: the pass
	// retries in place and discards, it does not hand the transport error back.
	uploaded, err := h.service.PerformSynchronization(context.Background())
	if uploaded {
		t.Fatal("PerformSynchronization() = true, want false")
	}
	if !apperrors.IsSanityThreshold(err) {
		t.Fatalf("error code = %s, want sanity threshold at pending == threshold", apperrors.Code(err))
	}
	if got := h.events.Count(); got != 0 {
		t.Fatalf("queue holds %d events, want 0 after discard", got)
	}
	if got := h.store.Len(); got != 0 {
		t.Fatalf("tracking holds %d entries, want 0 after discard", got)
	}
}

func TestServiceOverloadedQueueRecoversMidRetry(t *testing.T) {
	h := newHarness(t, defaultSyncConfig())
	queueEvents(t, h, 25)

	// The first request fails, the overloaded pass retries in place, and the
	// retry drains the queue instead of discarding it.
	h.transport.mu.Lock()
	h.transport.err = apperrors.NetworkError("flaky", nil)
	h.transport.failLimit = 1
	h.transport.mu.Unlock()

	uploaded, err := h.service.PerformSynchronization(context.Background())
	if !uploaded || err != nil {
		t.Fatalf("PerformSynchronization() = %v, %v; want recovery on retry", uploaded, err)
	}
	if got := h.events.Count(); got != 0 {
		t.Fatalf("queue holds %d events, want 0", got)
	}
}
