package storage

import (
	"fmt"
	"strings"

	"github.com/fencewise/geosync/internal/config"
	"github.com/fencewise/geosync/internal/pkg/logger"
)

// NewKV creates a KV instance based on the configuration.
//
// An unusable durable backend degrades to in-memory operation for the process
// lifetime instead of failing: the engine is a background subsystem the host
// does not directly observe, so availability wins over durability.
func NewKV(cfg config.StorageConfig, log *logger.Logger) KV {
	kv, err := newKV(cfg)
	if err != nil {
		log.Warn("Durable store unavailable, degrading to in-memory storage",
			"type", cfg.Type, "error", err)
		return NewMemoryKV()
	}
	return kv
}

func newKV(cfg config.StorageConfig) (KV, error) {
	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		return NewMemoryKV(), nil

	case "file":
		return NewFileKV(cfg.Path)

	case "redis":
		return NewRedisKV(cfg.RedisURL)

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
