package httpcache

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xkiire/coredumped/internal/cache"
)

func newTestStore(t *testing.T, backend cache.GenericCache) (*Storage, *Store) {
	t.Helper()
	require.NoError(t, backend.Init(context.Background()))

	storage := New(backend)
	store, err := storage.Open(context.Background(), "v1")
	require.NoError(t, err)
	return storage, store
}

func testResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestGenerateKey(t *testing.T) {
	store := &Store{name: "v1"}

	tests := []struct {
		name      string
		targetURL string
		method    string
		want      string
	}{
		{
			name:      "simple URL",
			targetURL: "https://example.com/api/users",
			method:    "GET",
			want:      "v1/example.com/api/users/GET.bin",
		},
		{
			name:      "URL with query params",
			targetURL: "https://api.github.com/users?page=1",
			method:    "GET",
			want:      "v1/api.github.com/users/GET_qc5c34f0f.bin",
		},
		{
			name:      "root path",
			targetURL: "https://example.com/",
			method:    "POST",
			want:      "v1/example.com/POST.bin",
		},
		{
			name:      "default port is dropped",
			targetURL: "http://example.com:80/blogs/index.json",
			method:    "GET",
			want:      "v1/example.com/blogs/index.json/GET.bin",
		},
		{
			name:      "dot segments stay inside the store",
			targetURL: "http://example.com/../../etc/passwd",
			method:    "GET",
			want:      "v1/example.com/etc/passwd/GET.bin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, tt.targetURL, nil)
			require.NoError(t, err)

			got, err := store.GenerateKey(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateKeyWithoutHost(t *testing.T) {
	store := &Store{name: "v1"}
	req, err := http.NewRequest("GET", "/relative", nil)
	require.NoError(t, err)

	_, err = store.GenerateKey(req)
	require.Error(t, err)
}

func TestStorePutAndMatch(t *testing.T) {
	_, store := newTestStore(t, cache.NewGenericDisk(t.TempDir(), time.Hour))
	ctx := context.Background()

	req, err := http.NewRequest("GET", "https://example.com/api/users", nil)
	require.NoError(t, err)

	snapshot, err := NewSnapshot(testResponse("test response data"))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, req, snapshot))

	cached, err := store.Match(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, cached, "Match() returned nil, want cached response")

	resp := cached.Response(req)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "test response data", string(body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Empty(t, resp.Header.Get(storedAtHeader))
	assert.Equal(t, req, resp.Request)
}

func TestStoreMatchMiss(t *testing.T) {
	_, store := newTestStore(t, cache.NewMemory(0))

	req, err := http.NewRequest("GET", "https://example.com/nothing", nil)
	require.NoError(t, err)

	cached, err := store.Match(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestStoreMatchExpired(t *testing.T) {
	_, store := newTestStore(t, cache.NewMemory(100*time.Millisecond))
	ctx := context.Background()

	req, err := http.NewRequest("GET", "https://example.com/api/test", nil)
	require.NoError(t, err)

	snapshot, err := NewSnapshot(testResponse("test data"))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, req, snapshot))

	time.Sleep(200 * time.Millisecond)

	cached, err := store.Match(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, cached, "Match() returned response for expired cache, want nil")
}

func TestStoreMatchCorrupt(t *testing.T) {
	backend := cache.NewMemory(0)
	_, store := newTestStore(t, backend)
	ctx := context.Background()

	req, err := http.NewRequest("GET", "https://example.com/broken", nil)
	require.NoError(t, err)
	key, err := store.GenerateKey(req)
	require.NoError(t, err)
	require.NoError(t, backend.Set(ctx, key, []byte("not a response")))

	_, err = store.Match(ctx, req)
	require.Error(t, err)
}

func TestStoreKeysAndDelete(t *testing.T) {
	_, store := newTestStore(t, cache.NewMemory(0))
	ctx := context.Background()

	for _, u := range []string{"https://example.com/", "https://example.com/app.js"} {
		req, err := http.NewRequest("GET", u, nil)
		require.NoError(t, err)
		snapshot, err := NewSnapshot(testResponse(u))
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, req, snapshot))
	}

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"v1/example.com/GET.bin", "v1/example.com/app.js/GET.bin"}, keys)

	req, err := http.NewRequest("GET", "https://example.com/app.js", nil)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, req))

	keys, err = store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1/example.com/GET.bin"}, keys)
}
