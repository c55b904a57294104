package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/0xkiire/coredumped/internal/cache/migrations"
)

// SQLiteCache implements GenericCache in a single sqlite database file
type SQLiteCache struct {
	path  string
	ttl   time.Duration
	sqlDB *sql.DB
}

// NewSQLite creates a sqlite backed cache. The database is opened by Init.
func NewSQLite(path string, ttl time.Duration) *SQLiteCache {
	return &SQLiteCache{path: path, ttl: ttl}
}

// Init opens the database and creates the cache table
func (s *SQLiteCache) Init(ctx context.Context) error {
	if strings.TrimSpace(s.path) == "" {
		return fmt.Errorf("storage path is required")
	}
	if s.sqlDB != nil {
		return nil
	}

	dsn := filepath.Clean(s.path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := applySchema(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return err
	}

	s.sqlDB = sqlDB
	return nil
}

// Close releases the underlying SQLite connection.
func (s *SQLiteCache) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *SQLiteCache) Get(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.sqlDB == nil {
		return nil, ErrNotConfigured
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT payload, stored_at FROM cache_entries WHERE cache_key = ?`,
		key,
	)

	var payload []byte
	var storedAt int64
	if err := row.Scan(&payload, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cache entry: %w", err)
	}

	if s.ttl > 0 && time.Since(time.UnixMilli(storedAt)) > s.ttl {
		if err := s.Delete(ctx, key); err != nil {
			logrus.Errorf("Failed to remove expired cache entry %s: %v", key, err)
		}
		return nil, nil
	}

	return payload, nil
}

// Set upserts a payload by key
func (s *SQLiteCache) Set(ctx context.Context, key string, value []byte) error {
	if s == nil || s.sqlDB == nil {
		return ErrNotConfigured
	}
	if key == "" {
		return fmt.Errorf("cache key is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO cache_entries (cache_key, payload, stored_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET
		    payload = excluded.payload,
		    stored_at = excluded.stored_at`,
		key,
		value,
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteCache) Delete(ctx context.Context, key string) error {
	if s == nil || s.sqlDB == nil {
		return ErrNotConfigured
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteCache) Keys(ctx context.Context, prefix string) ([]string, error) {
	if s == nil || s.sqlDB == nil {
		return nil, ErrNotConfigured
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT cache_key FROM cache_entries WHERE instr(cache_key, ?) = 1 OR ? = '' ORDER BY cache_key`,
		prefix, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("list cache keys: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan cache key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache keys: %w", err)
	}
	return keys, nil
}

// applySchema executes the embedded schema files in name order. Every
// statement is idempotent, so it runs on each Init.
func applySchema(ctx context.Context, sqlDB *sql.DB, schemaFS fs.FS) error {
	files, err := fs.Glob(schemaFS, "*.sql")
	if err != nil {
		return fmt.Errorf("list schema files: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		stmt, err := fs.ReadFile(schemaFS, file)
		if err != nil {
			return fmt.Errorf("read schema %s: %w", file, err)
		}
		if _, err := sqlDB.ExecContext(ctx, string(stmt)); err != nil {
			return fmt.Errorf("apply schema %s: %w", file, err)
		}
	}
	return nil
}
