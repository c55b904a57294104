package httpcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/0xkiire/coredumped/internal/cache"
)

// Store is one named generation of cached responses, keyed by request
// method and URL. Keys of every store live under "<name>/" in the backend.
type Store struct {
	name  string
	cache cache.GenericCache
}

// Name returns the version tag the store belongs to
func (d *Store) Name() string {
	return d.name
}

// GenerateKey builds the storage key for a request:
// <name>/<host>/<path>/METHOD[_q<queryhash>].bin
func (d *Store) GenerateKey(request *http.Request) (string, error) {
	if request.URL == nil {
		return "", fmt.Errorf("request has no URL")
	}

	host := request.URL.Host
	if host == "" {
		host = request.Host
	}
	host = strings.TrimSuffix(strings.TrimSuffix(host, ":80"), ":443")
	if host == "" {
		return "", fmt.Errorf("request URL has no host: %s", request.URL)
	}

	pathParts := []string{d.name, host}

	// path.Clean keeps ".." segments from climbing out of the namespace
	cleaned := strings.Trim(path.Clean("/"+request.URL.Path), "/")
	if cleaned != "" {
		pathParts = append(pathParts, cleaned)
	}

	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	filename := method
	if request.URL.RawQuery != "" {
		hash := sha256.Sum256([]byte(request.URL.RawQuery))
		filename += "_q" + hex.EncodeToString(hash[:])[:8]
	}
	filename += ".bin"

	pathParts = append(pathParts, filename)

	return strings.Join(pathParts, "/"), nil
}

// Match returns the snapshot stored for request, or nil, nil on a miss
func (d *Store) Match(ctx context.Context, request *http.Request) (*Snapshot, error) {
	requestKey, err := d.GenerateKey(request)
	if err != nil {
		return nil, fmt.Errorf("failed to generate cache key: %w", err)
	}

	data, err := d.cache.Get(ctx, requestKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}
	if data == nil {
		return nil, nil // Cache miss
	}

	snapshot, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}

	logrus.Debugf("Cache hit for %s %s in %s", request.Method, request.URL.String(), d.name)
	return snapshot, nil
}

// Put stores snapshot for request, replacing any previous entry
func (d *Store) Put(ctx context.Context, request *http.Request, snapshot *Snapshot) error {
	requestKey, err := d.GenerateKey(request)
	if err != nil {
		return fmt.Errorf("failed to generate cache key: %w", err)
	}

	data, err := Serialize(snapshot)
	if err != nil {
		return fmt.Errorf("failed to serialize response: %w", err)
	}

	if err := d.cache.Set(ctx, requestKey, data); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	return nil
}

// Delete removes the entry stored for request
func (d *Store) Delete(ctx context.Context, request *http.Request) error {
	requestKey, err := d.GenerateKey(request)
	if err != nil {
		return fmt.Errorf("failed to generate cache key: %w", err)
	}
	return d.cache.Delete(ctx, requestKey)
}

// Keys lists the entry keys of this store, without the marker
func (d *Store) Keys(ctx context.Context) ([]string, error) {
	keys, err := d.cache.Keys(ctx, d.name+"/")
	if err != nil {
		return nil, err
	}
	entries := keys[:0]
	for _, k := range keys {
		if k != markerKey(d.name) {
			entries = append(entries, k)
		}
	}
	return entries, nil
}
