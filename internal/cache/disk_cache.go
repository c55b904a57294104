package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const tempFilePrefix = ".tmp-"

// DiskCache implements GenericCache with one file per key under cacheDir
type DiskCache struct {
	cacheDir string
	ttl      time.Duration
}

// NewGenericDisk creates a new disk cache. A zero ttl keeps entries forever.
func NewGenericDisk(cacheDir string, ttl time.Duration) *DiskCache {
	return &DiskCache{
		cacheDir: cacheDir,
		ttl:      ttl,
	}
}

// pathFor maps a key to a file inside cacheDir, refusing keys that escape it
func (d *DiskCache) pathFor(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("cache key is required")
	}
	p := filepath.Join(d.cacheDir, filepath.FromSlash(key))
	rel, err := filepath.Rel(d.cacheDir, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("cache key escapes cache folder: %s", key)
	}
	return p, nil
}

// Get retrieves cached data if it exists and is not expired
func (d *DiskCache) Get(ctx context.Context, key string) ([]byte, error) {
	cachePath, err := d.pathFor(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(cachePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat cache file: %w", err)
	}

	if d.ttl > 0 && time.Since(info.ModTime()) > d.ttl {
		// Cache expired, remove it
		if err := os.Remove(cachePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logrus.Errorf("Failed to remove expired cache file %s: %v", cachePath, err)
		}
		return nil, nil
	}

	data, err := os.ReadFile(cachePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache file: %w", err)
	}

	return data, nil
}

// Set stores data in the cache. The file is replaced atomically so readers
// never observe a partial write.
func (d *DiskCache) Set(ctx context.Context, key string, data []byte) error {
	cachePath, err := d.pathFor(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(cachePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempFilePrefix+"*")
	if errors.Is(err, fs.ErrNotExist) {
		// a concurrent Delete pruned the directory
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create cache directory: %w", err)
		}
		tmp, err = os.CreateTemp(dir, tempFilePrefix+"*")
	}
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), cachePath); err != nil {
		return fmt.Errorf("replace cache file: %w", err)
	}

	logrus.Debugf("Cached data: %s", cachePath)
	return nil
}

// Delete removes the file stored for key, then every directory above it
// that became empty
func (d *DiskCache) Delete(ctx context.Context, key string) error {
	cachePath, err := d.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(cachePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove cache file: %w", err)
	}

	root := filepath.Clean(d.cacheDir)
	for dir := filepath.Dir(cachePath); dir != root && strings.HasPrefix(dir, root); dir = filepath.Dir(dir) {
		// fails on the first directory that still has entries
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

// Keys walks the cache folder and returns slash-separated keys starting with prefix
func (d *DiskCache) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(d.cacheDir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), tempFilePrefix) {
			return nil
		}
		rel, err := filepath.Rel(d.cacheDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list cache folder: %w", err)
	}
	return keys, nil
}

// Init ensures the cache directory exists
func (d *DiskCache) Init(ctx context.Context) error {
	return os.MkdirAll(d.cacheDir, 0755)
}

// Close is a no-op for the disk cache
func (d *DiskCache) Close() error {
	return nil
}
