package storage

import (
	"context"
	"testing"

	"github.com/fencewise/geosync/internal/config"
	"github.com/fencewise/geosync/internal/pkg/logger"
)

func testBackends(t *testing.T) map[string]KV {
	t.Helper()

	fileKV, err := NewFileKV(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileKV() error = %v", err)
	}

	return map[string]KV{
		"memory": NewMemoryKV(),
		"file":   fileKV,
	}
}

func TestKV_SetGetDelete(t *testing.T) {
	ctx := context.Background()

	for name, kv := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			defer kv.Close()

			if err := kv.Set(ctx, "connections/abc", []byte(`{"id":"abc"}`)); err != nil {
				t.Fatalf("Set() error = %v", err)
			}

			got, ok, err := kv.Get(ctx, "connections/abc")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if !ok {
				t.Fatal("Get() ok = false, want true")
			}
			if string(got) != `{"id":"abc"}` {
				t.Errorf("Get() = %s, want stored value", got)
			}

			if err := kv.Delete(ctx, "connections/abc"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}

			_, ok, err = kv.Get(ctx, "connections/abc")
			if err != nil {
				t.Fatalf("Get() after delete error = %v", err)
			}
			if ok {
				t.Error("Get() after delete ok = true, want false")
			}
		})
	}
}

func TestKV_MissingKeyIsNotAnError(t *testing.T) {
	ctx := context.Background()

	for name, kv := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			defer kv.Close()

			_, ok, err := kv.Get(ctx, "connections/nope")
			if err != nil {
				t.Errorf("Get() missing key error = %v, want nil", err)
			}
			if ok {
				t.Error("Get() missing key ok = true, want false")
			}

			if err := kv.Delete(ctx, "connections/nope"); err != nil {
				t.Errorf("Delete() missing key error = %v, want nil", err)
			}
		})
	}
}

func TestKV_ListByPrefix(t *testing.T) {
	ctx := context.Background()

	for name, kv := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			defer kv.Close()

			kv.Set(ctx, "connections/a", []byte("1"))
			kv.Set(ctx, "connections/b", []byte("2"))
			kv.Set(ctx, "region_events/x", []byte("3"))

			got, err := kv.List(ctx, "connections/")
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("List() returned %d entries, want 2", len(got))
			}
			if string(got["connections/a"]) != "1" || string(got["connections/b"]) != "2" {
				t.Errorf("List() = %v, wrong values", got)
			}

			empty, err := kv.List(ctx, "nothing/")
			if err != nil {
				t.Fatalf("List() empty prefix error = %v", err)
			}
			if len(empty) != 0 {
				t.Errorf("List() empty prefix returned %d entries, want 0", len(empty))
			}
		})
	}
}

func TestKV_Overwrite(t *testing.T) {
	ctx := context.Background()

	for name, kv := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			defer kv.Close()

			kv.Set(ctx, "k", []byte("v1"))
			kv.Set(ctx, "k", []byte("v2"))

			got, _, err := kv.Get(ctx, "k")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if string(got) != "v2" {
				t.Errorf("Get() = %s, want v2 (last write wins)", got)
			}
		})
	}
}

func TestFileKV_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := NewFileKV(dir)
	if err != nil {
		t.Fatalf("NewFileKV() error = %v", err)
	}
	if err := first.Set(ctx, "region_events/e1", []byte("payload")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	first.Close()

	second, err := NewFileKV(dir)
	if err != nil {
		t.Fatalf("NewFileKV() reopen error = %v", err)
	}
	defer second.Close()

	got, ok, err := second.Get(ctx, "region_events/e1")
	if err != nil || !ok {
		t.Fatalf("Get() after reopen = %v, %v, %v", got, ok, err)
	}
	if string(got) != "payload" {
		t.Errorf("Get() after reopen = %s, want payload", got)
	}
}

func TestNewKV_DegradesToMemory(t *testing.T) {
	// Redis at an unroutable URL must not fail construction: the factory
	// degrades to in-memory operation.
	kv := NewKV(config.StorageConfig{
		Type:     "redis",
		RedisURL: "redis://127.0.0.1:1/0",
	}, logger.Discard())
	defer kv.Close()

	if _, ok := kv.(*MemoryKV); !ok {
		t.Errorf("NewKV() with unusable redis = %T, want *MemoryKV", kv)
	}
}

func TestNewKV_UnknownTypeDegradesToMemory(t *testing.T) {
	kv := NewKV(config.StorageConfig{Type: "bogus"}, logger.Discard())
	defer kv.Close()

	if _, ok := kv.(*MemoryKV); !ok {
		t.Errorf("NewKV() with unknown type = %T, want *MemoryKV", kv)
	}
}
