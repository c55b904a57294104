package cache

import (
	"context"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache implements GenericCache in process memory. Entries do not
// survive a restart, which is mostly useful for tests and ephemeral setups.
type MemoryCache struct {
	store *gocache.Cache
}

// NewMemory creates an in-memory cache. A zero ttl keeps entries forever.
func NewMemory(ttl time.Duration) *MemoryCache {
	expiration := gocache.NoExpiration
	var cleanup time.Duration
	if ttl > 0 {
		expiration = ttl
		cleanup = ttl
	}
	return &MemoryCache{store: gocache.New(expiration, cleanup)}
}

func (m *MemoryCache) Init(ctx context.Context) error {
	return nil
}

func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := m.store.Get(key)
	if !ok {
		return nil, nil
	}
	data := v.([]byte)
	return append([]byte(nil), data...), nil
}

func (m *MemoryCache) Set(ctx context.Context, key string, value []byte) error {
	m.store.SetDefault(key, append([]byte(nil), value...))
	return nil
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.store.Delete(key)
	return nil
}

func (m *MemoryCache) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for key := range m.store.Items() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryCache) Close() error {
	m.store.Flush()
	return nil
}
