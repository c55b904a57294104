// Package tests runs the blog, its origin server and the offline cache
// proxy together.
package tests

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/0xkiire/coredumped/internal/blog"
	"github.com/0xkiire/coredumped/internal/cache"
	"github.com/0xkiire/coredumped/internal/cache/httpcache"
	"github.com/0xkiire/coredumped/internal/config"
	"github.com/0xkiire/coredumped/internal/httptransport"
	"github.com/0xkiire/coredumped/internal/metrics"
	"github.com/0xkiire/coredumped/internal/proxy"
	"github.com/0xkiire/coredumped/internal/site"
	"github.com/0xkiire/coredumped/internal/worker"
)

var errOffline = errors.New("network is offline")

// switchableNetwork fails every round trip while offline is set
type switchableNetwork struct {
	next    http.RoundTripper
	offline atomic.Bool
}

func (n *switchableNetwork) RoundTrip(req *http.Request) (*http.Response, error) {
	if n.offline.Load() {
		return nil, errOffline
	}
	return n.next.RoundTrip(req)
}

// stack is a built blog behind its origin server and the proxy
type stack struct {
	siteDir    string
	origin     *httptest.Server
	network    *switchableNetwork
	storage    *httpcache.Storage
	controller *worker.Controller
	config     *config.Config
	proxy      *httptest.Server
	client     *http.Client
}

// fixtureSite writes the shell files and posts, then builds the index and feeds
func fixtureSite(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	files := map[string]string{
		"index.html":     "<html><script src=\"/app.js\"></script></html>",
		"styles.css":     "body { font-family: monospace }",
		"app.js":         "fetch('/blogs/index.json')",
		"sw.js":          "self.addEventListener('fetch', () => {})",
		"blogs/hello.md": "---\ntitle: Hello\ndate: 2024-01-05\ntags: [intro]\n---\nHello offline world.",
		"blogs/go.md":    "---\ntitle: Go caches\ndate: 2024-02-10\ntags: [go, web]\n---\nCaching in *Go*.",
	}
	for name, content := range files {
		writeSiteFile(t, dir, name, content)
	}
	buildSite(t, dir)
	return dir
}

func writeSiteFile(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

func buildSite(t *testing.T, dir string) {
	t.Helper()
	opts := blog.DefaultBuildOptions(dir)
	opts.Site = blog.Site{URL: "https://blog.test", Title: "Test Blog"}
	_, err := blog.Build(opts)
	require.NoError(t, err)
}

// fixtureConfig configures a sqlite backed cache for origin
func fixtureConfig(t *testing.T, originURL string) *config.Config {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Worker.Origin = originURL
	cfg.Worker.Version = "blog-v1"
	cfg.Cache.Backend = "sqlite"
	cfg.Cache.SQLitePath = filepath.Join(t.TempDir(), "cache.db")
	cfg.Cache.MemoryEntries = 0
	cfg.Cache.TTL = ""
	require.NoError(t, cfg.Validate())
	return cfg
}

// fixtureStack serves a freshly built site and registers the worker for
// cfg.Worker.Version in front of it
func fixtureStack(t *testing.T, mutate func(cfg *config.Config)) *stack {
	t.Helper()

	dir := fixtureSite(t)
	origin := httptest.NewServer(site.New(site.Options{Dir: dir, DisableAccessLog: true}))
	t.Cleanup(origin.Close)

	cfg := fixtureConfig(t, origin.URL)
	if mutate != nil {
		mutate(cfg)
	}

	backend, err := cache.New(cfg)
	require.NoError(t, err)
	require.NoError(t, backend.Init(context.Background()))
	t.Cleanup(func() { _ = backend.Close() })

	network := &switchableNetwork{
		next: httptransport.NewMeteredRoundTripper(
			httptransport.NewTransport(),
			"origin",
			metrics.NetworkTrace,
			metrics.NetworkDuration,
			metrics.NetworkRequests,
			10*time.Second,
		),
	}

	s := &stack{
		siteDir:    dir,
		origin:     origin,
		network:    network,
		storage:    httpcache.New(backend),
		controller: worker.NewController(network),
		config:     cfg,
	}
	t.Cleanup(s.controller.Wait)

	proxyServer, err := proxy.New(cfg, s.controller)
	require.NoError(t, err)
	s.proxy = httptest.NewServer(proxyServer.GetProxy())
	t.Cleanup(s.proxy.Close)
	s.client = &http.Client{Timeout: 10 * time.Second}

	return s
}

// register installs and activates a worker for cfg on the stack's storage
func (s *stack) register(t *testing.T, cfg config.WorkerConfig) error {
	t.Helper()

	opts, err := worker.OptionsFromConfig(cfg)
	require.NoError(t, err)
	classifier, err := worker.ClassifierFromConfig(cfg.Rules)
	require.NoError(t, err)
	w, err := worker.New(opts, s.storage, s.network, classifier)
	require.NoError(t, err)

	return s.controller.Register(context.Background(), w)
}
