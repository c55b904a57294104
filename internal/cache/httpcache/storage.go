package httpcache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/0xkiire/coredumped/internal/cache"
)

const markerName = "_store"

func markerKey(name string) string {
	return name + "/" + markerName
}

// Storage is the set of named response stores sharing one backend
type Storage struct {
	cache cache.GenericCache
}

// New creates a storage over backend
func New(backend cache.GenericCache) *Storage {
	return &Storage{
		cache: backend,
	}
}

// Open returns the store called name, creating it if absent
func (s *Storage) Open(ctx context.Context, name string) (*Store, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid store name: %q", name)
	}

	// rewriting the marker on every open keeps it alive under a backend TTL
	opened := []byte(time.Now().UTC().Format(time.RFC3339))
	if err := s.cache.Set(ctx, markerKey(name), opened); err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", name, err)
	}

	return &Store{name: name, cache: s.cache}, nil
}

// Has reports whether a store called name exists
func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	marker, err := s.cache.Get(ctx, markerKey(name))
	if err != nil {
		return false, err
	}
	return marker != nil, nil
}

// Names lists the existing stores in lexical order. A store exists while
// it holds any key, so entries left behind by a half-dropped store keep it
// listed until a later Drop finishes.
func (s *Storage) Names(ctx context.Context) ([]string, error) {
	keys, err := s.cache.Keys(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}

	seen := map[string]bool{}
	for _, key := range keys {
		if name, _, ok := strings.Cut(key, "/"); ok && name != "" {
			seen[name] = true
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Drop deletes the store called name with all of its entries.
// Every key is attempted; failures are aggregated.
func (s *Storage) Drop(ctx context.Context, name string) error {
	keys, err := s.cache.Keys(ctx, name+"/")
	if err != nil {
		return fmt.Errorf("failed to list store %s: %w", name, err)
	}

	var result *multierror.Error
	for _, key := range keys {
		// the marker goes last so a half-dropped store is still listed
		if key == markerKey(name) {
			continue
		}
		if err := s.cache.Delete(ctx, key); err != nil {
			result = multierror.Append(result, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	if result.ErrorOrNil() != nil {
		return result
	}

	if err := s.cache.Delete(ctx, markerKey(name)); err != nil {
		return fmt.Errorf("delete %s: %w", markerKey(name), err)
	}
	return nil
}
