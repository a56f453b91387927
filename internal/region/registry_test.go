package region

import (
	"testing"
	"time"

	"github.com/fencewise/geosync/internal/pkg/logger"
	"github.com/fencewise/geosync/internal/storage"
)

func newTestEventsRegistry(t *testing.T) (*EventsRegistry, storage.KV) {
	t.Helper()
	kv := storage.NewMemoryKV()
	return NewEventsRegistry(kv, logger.Discard()), kv
}

func TestEventsRegistryAppendOnly(t *testing.T) {
	reg, _ := newTestEventsRegistry(t)

	now := time.Now()
	ev := NewEvent(KindEntry, "sub-1", now)
	if err := reg.Add(ev); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := reg.Add(ev); err == nil {
		t.Fatal("Add() of the same record should fail")
	}
	if got := reg.Count(); got != 1 {
		t.Fatalf("Count() = %d, want 1", got)
	}
}

func TestEventsRegistryDuplicateCrossingsCoexist(t *testing.T) {
	reg, _ := newTestEventsRegistry(t)

	// The same region crossed twice produces two independent records.
	at := time.Now()
	first := NewEvent(KindEntry, "sub-1", at)
	second := NewEvent(KindEntry, "sub-1", at)
	if err := reg.Add(first); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := reg.Add(second); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if got := reg.Count(); got != 2 {
		t.Fatalf("Count() = %d, want 2", got)
	}

	// Removing one leaves the other intact.
	if err := reg.Remove(first.RecordID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	events := reg.Events()
	if len(events) != 1 || events[0].RecordID != second.RecordID {
		t.Fatalf("Events() = %v, want only %s", events, second.RecordID)
	}
}

func TestEventsRegistryOrdering(t *testing.T) {
	reg, _ := newTestEventsRegistry(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	late := NewEvent(KindExit, "sub-2", base.Add(time.Minute))
	early := NewEvent(KindEntry, "sub-1", base)
	if err := reg.Add(late); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := reg.Add(early); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	events := reg.Events()
	if len(events) != 2 {
		t.Fatalf("Events() = %d, want 2", len(events))
	}
	if events[0].RecordID != early.RecordID || events[1].RecordID != late.RecordID {
		t.Fatal("Events() not ordered by occurrence time")
	}
}

func TestEventsRegistryRemoveUnknownIsNoop(t *testing.T) {
	reg, _ := newTestEventsRegistry(t)

	ev := NewEvent(KindEntry, "sub-1", time.Now())
	if err := reg.Add(ev); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := reg.Remove("missing"); err != nil {
		t.Fatalf("Remove() of unknown id error = %v", err)
	}
	if got := reg.Count(); got != 1 {
		t.Fatalf("Count() = %d, want 1", got)
	}
}

func TestEventsRegistryPersistence(t *testing.T) {
	reg, kv := newTestEventsRegistry(t)

	ev := NewEvent(KindExit, "sub-1", time.Now())
	if err := reg.Add(ev); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	reloaded := NewEventsRegistry(kv, logger.Discard())
	events := reloaded.Events()
	if len(events) != 1 {
		t.Fatalf("reloaded Events() = %d, want 1", len(events))
	}
	if events[0].RecordID != ev.RecordID || events[0].Kind != KindExit {
		t.Fatalf("reloaded event = %+v, want %+v", events[0], ev)
	}

	if err := reloaded.RemoveAll(); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}
	if got := NewEventsRegistry(kv, logger.Discard()).Count(); got != 0 {
		t.Fatalf("Count() after RemoveAll reload = %d, want 0", got)
	}
}
