package report

import (
	"sync"

	"github.com/fencewise/geosync/internal/pkg/logger"
)

// LogSink writes lifecycle records to the structured log.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a sink backed by the given logger.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log.WithComponent("report")}
}

// Report implements Sink.
func (s *LogSink) Report(rec Record) {
	attrs := []any{
		"stage", string(rec.Stage),
		"record_id", rec.RecordID,
		"kind", rec.Kind,
		"subscription_id", rec.SubscriptionID,
		"delay", rec.Delay.String(),
	}
	if rec.Error != "" {
		attrs = append(attrs, "error", rec.Error)
		s.log.Warn("Crossing event transition", attrs...)
		return
	}
	s.log.Info("Crossing event transition", attrs...)
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }

// MemorySink retains records in memory, for tests and local inspection.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Report implements Sink.
func (s *MemorySink) Report(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

// Records returns a copy of everything reported so far.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Close implements Sink.
func (s *MemorySink) Close() error { return nil }
