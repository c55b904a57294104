package cache

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteRequiresInit(t *testing.T) {
	cache := NewSQLite(filepath.Join(t.TempDir(), "cache.db"), 0)

	_, err := cache.Get(context.Background(), "k")
	require.ErrorIs(t, err, ErrNotConfigured)
	require.ErrorIs(t, cache.Set(context.Background(), "k", []byte("v")), ErrNotConfigured)
}

func TestSQLiteRequiresPath(t *testing.T) {
	cache := NewSQLite("  ", 0)
	require.Error(t, cache.Init(context.Background()))
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	first := NewSQLite(path, 0)
	require.NoError(t, first.Init(ctx))
	require.NoError(t, first.Set(ctx, "v1/example.com/GET.bin", []byte("root")))
	require.NoError(t, first.Close())

	// the schema is applied again without complaint
	second := NewSQLite(path, 0)
	require.NoError(t, second.Init(ctx))
	t.Cleanup(func() { _ = second.Close() })

	data, err := second.Get(ctx, "v1/example.com/GET.bin")
	require.NoError(t, err)
	assert.Equal(t, "root", string(data))
}

func TestSQLiteExpired(t *testing.T) {
	cache := NewSQLite(filepath.Join(t.TempDir(), "cache.db"), 50*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, cache.Init(ctx))
	t.Cleanup(func() { _ = cache.Close() })

	require.NoError(t, cache.Set(ctx, "k", []byte("v")))
	time.Sleep(100 * time.Millisecond)

	data, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, data)

	keys, err := cache.Keys(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys, "expired rows are removed on read")
}

func TestApplySchemaInNameOrder(t *testing.T) {
	ctx := context.Background()
	sqlDB, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	schemaFS := fstest.MapFS{
		"002_index.sql": {Data: []byte("CREATE INDEX IF NOT EXISTS a_x ON a (x);")},
		"001_table.sql": {Data: []byte("CREATE TABLE IF NOT EXISTS a (x INT);")},
		"README":        {Data: []byte("not sql")},
	}
	require.NoError(t, applySchema(ctx, sqlDB, schemaFS))
	require.NoError(t, applySchema(ctx, sqlDB, schemaFS), "schema files are idempotent")

	var indexes int
	require.NoError(t, sqlDB.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master WHERE type = 'index' AND name = 'a_x'`).Scan(&indexes))
	assert.Equal(t, 1, indexes)

	err = applySchema(ctx, sqlDB, fstest.MapFS{"001_bad.sql": {Data: []byte("CREATE TABLE")}})
	assert.ErrorContains(t, err, "001_bad.sql")
}
