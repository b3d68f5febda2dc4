package state

import (
	"fmt"

	"admission-guard/internal/config"
	"admission-guard/internal/storage"
)

// NewStore builds the state store selected by the storage configuration.
func NewStore(cfg *config.Config) (Store, error) {
	switch cfg.Storage.Engine {
	case "badger":
		engine, err := storage.NewBadgerEngine(storage.Config{
			DataPath:   cfg.Storage.DataPath,
			InMemory:   cfg.Storage.InMemory,
			SyncWrites: cfg.Storage.SyncWrites,
			ValueLogGC: cfg.Storage.ValueLogGC,
			GCInterval: cfg.Storage.GCInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create badger engine: %w", err)
		}
		return NewBadgerStore(engine, cfg.Guard.MaxTrackedClients)
	case "redis":
		return NewRedisStore(RedisOptions{
			Address:    cfg.Storage.Redis.Address,
			Password:   cfg.Storage.Redis.Password,
			Database:   cfg.Storage.Redis.Database,
			KeyPrefix:  cfg.Storage.Redis.KeyPrefix,
			Timeout:    cfg.Storage.Redis.Timeout,
			MaxTracked: cfg.Guard.MaxTrackedClients,
		})
	case "memory":
		return NewMemoryStore(cfg.Guard.MaxTrackedClients), nil
	default:
		return nil, fmt.Errorf("unknown storage engine: %s", cfg.Storage.Engine)
	}
}
