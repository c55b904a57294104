// Handles caching of HTTP responses
package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/0xkiire/coredumped/internal/config"
)

// ErrNotConfigured is returned when a backend is used before it was opened
var ErrNotConfigured = errors.New("cache backend is not configured")

// lruDuration bounds how long the in-memory front cache keeps an entry when the backend never expires
const lruDuration = 24 * time.Hour

// New builds the backend selected by the configuration, fronted by an LRU when memory_entries > 0
func New(cfg *config.Config) (GenericCache, error) {
	ttl, err := cfg.GetCacheTTL()
	if err != nil {
		return nil, fmt.Errorf("invalid cache TTL: %w", err)
	}

	var backend GenericCache
	switch cfg.Cache.Backend {
	case "disk":
		backend = NewGenericDisk(cfg.Cache.Folder, ttl)
	case "memory":
		// already in memory, no front cache needed
		return NewMemory(ttl), nil
	case "sqlite":
		backend = NewSQLite(cfg.Cache.SQLitePath, ttl)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		backend = NewRedis(client, cfg.Cache.Redis.Prefix, ttl)
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Cache.Backend)
	}

	if cfg.Cache.MemoryEntries > 0 {
		duration := ttl
		if duration <= 0 {
			duration = lruDuration
		}
		backend = NewLRU(cfg.Cache.Backend, backend, cfg.Cache.MemoryEntries, duration)
	}

	return backend, nil
}
