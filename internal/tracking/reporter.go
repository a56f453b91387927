package tracking

import (
	"time"

	"github.com/fencewise/geosync/internal/region"
	"github.com/fencewise/geosync/internal/report"
)

// Reporter observes crossing lifecycle transitions: it measures the delay
// since the previous transition, advances the store, then emits a record to
// the sink. The delay is computed before the store moves, so each record
// carries the gap between consecutive transitions, not since recording.
type Reporter struct {
	store *Store
	sink  report.Sink
	now   func() time.Time
}

// NewReporter creates a reporter over the given store and sink.
func NewReporter(store *Store, sink report.Sink) *Reporter {
	return &Reporter{store: store, sink: sink, now: time.Now}
}

// EventRecorded marks a crossing as durably queued. Its delay is the gap
// between the crossing itself and the queue write.
func (r *Reporter) EventRecorded(ev region.Event) {
	now := r.now()
	r.store.TrackRecorded(ev.RecordID, now)
	r.sink.Report(r.record(report.StageRecorded, ev, now.Sub(ev.OccurredAt), nil))
}

// UploadStarted marks a crossing as entering an upload attempt.
func (r *Reporter) UploadStarted(ev region.Event) {
	now := r.now()
	delay, _ := r.store.Delay(ev.RecordID, now)
	r.store.TrackUploadStart(ev.RecordID, now)
	r.sink.Report(r.record(report.StageUploadStart, ev, delay, nil))
}

// UploadSucceeded marks a crossing as uploaded and stops tracking it.
func (r *Reporter) UploadSucceeded(ev region.Event) {
	now := r.now()
	delay, _ := r.store.Delay(ev.RecordID, now)
	r.store.TrackUploadSuccess(ev.RecordID)
	r.sink.Report(r.record(report.StageUploadSuccess, ev, delay, nil))
}

// UploadFailed marks a failed attempt. Terminal failures stop tracking.
func (r *Reporter) UploadFailed(ev region.Event, err error) {
	now := r.now()
	delay, _ := r.store.Delay(ev.RecordID, now)
	r.store.TrackUploadFailed(ev.RecordID, err, now)
	r.sink.Report(r.record(report.StageUploadError, ev, delay, err))
}

// Forget drops tracking for events that will never upload, without emitting
// a record.
func (r *Reporter) Forget(recordIDs ...string) {
	for _, id := range recordIDs {
		r.store.TrackUploadSuccess(id)
	}
}

func (r *Reporter) record(stage report.Stage, ev region.Event, delay time.Duration, err error) report.Record {
	rec := report.Record{
		Stage:          stage,
		RecordID:       ev.RecordID,
		Kind:           string(ev.Kind),
		SubscriptionID: ev.SubscriptionID,
		Delay:          delay,
		At:             r.now(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}
