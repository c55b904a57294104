package cache

import (
	"context"
	"time"

	"github.com/karlseguin/ccache/v2"

	"github.com/0xkiire/coredumped/internal/metrics"
)

// getsPerPromote is the number of reads after which an item is moved to the
// front of the LRU list
const getsPerPromote = 64

// itemsToPruneDiv prunes 1/16 of the items when the cache is full
const itemsToPruneDiv = 16

// LRU is a write-through in-memory front for a slower GenericCache.
// The backend stays the source of truth; the LRU only saves reads.
type LRU struct {
	op       string
	duration time.Duration
	cache    *ccache.Cache
	backend  GenericCache
}

// NewLRU wraps backend with an LRU of at most maxEntries items
func NewLRU(op string, backend GenericCache, maxEntries int64, duration time.Duration) *LRU {
	prune := uint32(maxEntries) / itemsToPruneDiv
	if prune == 0 {
		prune = 1
	}

	configuration := ccache.Configure()
	configuration.MaxSize(maxEntries)
	configuration.ItemsToPrune(prune)
	configuration.GetsPerPromote(getsPerPromote)
	configuration.OnDelete(func(*ccache.Item) {
		metrics.LRUCachedEntries.WithLabelValues(op).Dec()
	})

	return &LRU{
		op:       op,
		duration: duration,
		cache:    ccache.New(configuration),
		backend:  backend,
	}
}

func (l *LRU) Init(ctx context.Context) error {
	return l.backend.Init(ctx)
}

func (l *LRU) Get(ctx context.Context, key string) ([]byte, error) {
	item := l.cache.Get(key)
	if item != nil && !item.Expired() {
		metrics.LRURequests.WithLabelValues(l.op, "hit").Inc()
		return append([]byte(nil), item.Value().([]byte)...), nil
	}

	data, err := l.backend.Get(ctx, key)
	if err != nil {
		metrics.LRURequests.WithLabelValues(l.op, "error").Inc()
		return nil, err
	}

	metrics.LRURequests.WithLabelValues(l.op, "miss").Inc()
	if data != nil {
		l.remember(key, data)
	}
	return data, nil
}

func (l *LRU) Set(ctx context.Context, key string, value []byte) error {
	if err := l.backend.Set(ctx, key, value); err != nil {
		// the backend may or may not hold the new value now
		l.cache.Delete(key)
		return err
	}
	l.remember(key, value)
	return nil
}

func (l *LRU) Delete(ctx context.Context, key string) error {
	l.cache.Delete(key)
	return l.backend.Delete(ctx, key)
}

func (l *LRU) Keys(ctx context.Context, prefix string) ([]string, error) {
	return l.backend.Keys(ctx, prefix)
}

func (l *LRU) Close() error {
	l.cache.Stop()
	return l.backend.Close()
}

func (l *LRU) remember(key string, value []byte) {
	metrics.LRUCachedEntries.WithLabelValues(l.op).Inc()
	l.cache.Set(key, append([]byte(nil), value...), l.duration)
}
