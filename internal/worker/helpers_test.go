package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xkiire/coredumped/internal/cache"
	"github.com/0xkiire/coredumped/internal/cache/httpcache"
	"github.com/0xkiire/coredumped/internal/config"
)

const testOrigin = "http://origin.test"

var errNetworkDown = errors.New("network is down")

// fakeNetwork stands in for the origin. Unknown paths answer 404.
type fakeNetwork struct {
	mu     sync.Mutex
	bodies map[string]string
	status map[string]int
	header map[string]http.Header
	fail   map[string]bool
	down   bool
	gate   chan struct{}
	calls  map[string]int
}

func newFakeNetwork(bodies map[string]string) *fakeNetwork {
	return &fakeNetwork{
		bodies: bodies,
		status: map[string]int{},
		header: map[string]http.Header{},
		fail:   map[string]bool{},
		calls:  map[string]int{},
	}
}

func (n *fakeNetwork) RoundTrip(req *http.Request) (*http.Response, error) {
	n.mu.Lock()
	path := req.URL.Path
	n.calls[path]++
	gate := n.gate
	n.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.down || n.fail[path] {
		return nil, errNetworkDown
	}

	body, ok := n.bodies[path]
	status := http.StatusOK
	if !ok {
		status = http.StatusNotFound
		body = "not found"
	}
	if s, ok := n.status[path]; ok {
		status = s
	}

	header := http.Header{"Content-Type": []string{"text/plain"}}
	for k, v := range n.header[path] {
		header[k] = v
	}

	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}, nil
}

func (n *fakeNetwork) set(path, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bodies[path] = body
}

func (n *fakeNetwork) setDown(down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down = down
}

func (n *fakeNetwork) setFail(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail[path] = true
}

func (n *fakeNetwork) hold() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gate = make(chan struct{})
}

func (n *fakeNetwork) release() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.gate != nil {
		close(n.gate)
		n.gate = nil
	}
}

func (n *fakeNetwork) callCount(path string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[path]
}

func blogNetwork() *fakeNetwork {
	return newFakeNetwork(map[string]string{
		"/":                   "<html>home</html>",
		"/index.html":         "<html>home</html>",
		"/styles.css":         "body{}",
		"/app.js":             "loadIndex()",
		"/rss.xml":            "<rss/>",
		"/blogs/index.json":   `[{"title":"first"}]`,
		"/blogs/some-post.md": "# some post",
	})
}

func testOptions(version string) Options {
	origin, _ := url.Parse(testOrigin)
	return Options{
		Version:            version,
		Origin:             origin,
		AppShell:           append([]string(nil), config.DefaultAppShell...),
		InstallConcurrency: 2,
		PurgeStaleVersions: true,
	}
}

func newTestWorker(t *testing.T, storage *httpcache.Storage, network http.RoundTripper, opts Options) *Worker {
	t.Helper()
	w, err := New(opts, storage, network, nil)
	require.NoError(t, err)
	t.Cleanup(w.Wait)
	return w
}

func newTestStorage() *httpcache.Storage {
	return httpcache.New(cache.NewMemory(0))
}

func get(t *testing.T, path string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, testOrigin+path, nil)
	require.NoError(t, err)
	return req
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

// storedBody returns the body stored for path in the store named version, or "" on a miss
func storedBody(t *testing.T, storage *httpcache.Storage, version, path string) string {
	t.Helper()
	store, err := storage.Open(context.Background(), version)
	require.NoError(t, err)
	snapshot, err := store.Match(context.Background(), get(t, path))
	require.NoError(t, err)
	if snapshot == nil {
		return ""
	}
	return string(snapshot.Body)
}

func seed(t *testing.T, storage *httpcache.Storage, version, path, body string) {
	t.Helper()
	store, err := storage.Open(context.Background(), version)
	require.NoError(t, err)
	snapshot := &httpcache.Snapshot{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       []byte(body),
	}
	require.NoError(t, store.Put(context.Background(), get(t, path), snapshot))
}

// brokenCache fails every operation, like a store over quota
type brokenCache struct{}

var errStoreBroken = errors.New("store unavailable")

func (brokenCache) Init(context.Context) error                  { return nil }
func (brokenCache) Get(context.Context, string) ([]byte, error) { return nil, errStoreBroken }
func (brokenCache) Set(context.Context, string, []byte) error   { return errStoreBroken }
func (brokenCache) Delete(context.Context, string) error        { return errStoreBroken }
func (brokenCache) Keys(context.Context, string) ([]string, error) {
	return nil, errStoreBroken
}
func (brokenCache) Close() error { return nil }

// failingWrites accepts reads and the store marker but fails entry writes
type failingWrites struct {
	cache.GenericCache
}

func (f failingWrites) Set(ctx context.Context, key string, value []byte) error {
	if strings.HasSuffix(key, ".bin") {
		return errStoreBroken
	}
	return f.GenericCache.Set(ctx, key, value)
}
