// Package worker implements the offline asset cache: a request interceptor
// that pre-caches an app shell on install and then serves every request
// with either NetworkFirst or CacheFirstWithRevalidate.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/0xkiire/coredumped/internal/cache/httpcache"
	"github.com/0xkiire/coredumped/internal/config"
	"github.com/0xkiire/coredumped/internal/metrics"
)

var (
	// ErrInstallFailed wraps every error returned by Install
	ErrInstallFailed = errors.New("install failed")
	// ErrNoActiveWorker is returned when no worker has been activated yet
	ErrNoActiveWorker = errors.New("no active worker")
)

// Source tells where an intercepted response came from
type Source string

const (
	SourceNetwork Source = "network"
	SourceCache   Source = "cache"
	SourceNone    Source = "none"
)

// Options configures one deployed version of the worker
type Options struct {
	// Version names the cache store this worker fills and serves from
	Version string
	// Origin is the base URL app shell paths are resolved against
	Origin *url.URL
	// AppShell must be fully cached before the worker can activate
	AppShell []string
	// Scope limits interception to these path prefixes. Empty means every path.
	Scope []string
	// InstallConcurrency bounds parallel app shell fetches. Zero fetches all at once.
	InstallConcurrency int
	// PurgeStaleVersions drops the stores of every other version on Activate
	PurgeStaleVersions bool
}

// OptionsFromConfig converts the worker configuration
func OptionsFromConfig(cfg config.WorkerConfig) (Options, error) {
	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return Options{}, fmt.Errorf("invalid origin: %w", err)
	}
	if !origin.IsAbs() {
		return Options{}, fmt.Errorf("origin must be an absolute URL: %q", cfg.Origin)
	}

	return Options{
		Version:            cfg.Version,
		Origin:             origin,
		AppShell:           append([]string(nil), cfg.AppShell...),
		Scope:              append([]string(nil), cfg.Scope...),
		InstallConcurrency: cfg.InstallConcurrency,
		PurgeStaleVersions: cfg.PurgeStaleVersions,
	}, nil
}

// Worker is one version of the offline asset cache. Apart from the store it
// keeps no state shared between requests.
type Worker struct {
	opts       Options
	storage    *httpcache.Storage
	network    http.RoundTripper
	classifier *Classifier
	log        *logrus.Entry

	state atomic.Int32
	// retireMu is held for reading by every background write, so retire
	// waits for writes in progress
	retireMu sync.RWMutex

	storeMu sync.Mutex
	store   *httpcache.Store

	revalidations singleflight.Group
	background    sync.WaitGroup
}

// New creates a worker. A nil classifier uses DefaultClassifier.
func New(opts Options, storage *httpcache.Storage, network http.RoundTripper, classifier *Classifier) (*Worker, error) {
	if opts.Version == "" || strings.Contains(opts.Version, "/") {
		return nil, fmt.Errorf("invalid version tag: %q", opts.Version)
	}
	if opts.Origin == nil || !opts.Origin.IsAbs() {
		return nil, fmt.Errorf("origin must be an absolute URL")
	}
	if storage == nil || network == nil {
		return nil, fmt.Errorf("storage and network are required")
	}
	if classifier == nil {
		classifier = DefaultClassifier()
	}

	return &Worker{
		opts:       opts,
		storage:    storage,
		network:    network,
		classifier: classifier,
		log:        logrus.WithField("version", opts.Version),
	}, nil
}

// Version returns the version tag of the worker
func (w *Worker) Version() string {
	return w.opts.Version
}

// State returns the lifecycle state of the worker
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	w.log.WithField("state", s).Debug("Worker state changed")
}

// retire marks w redundant. Once it returns w never writes to or opens its
// store again, so a purge of that store stays purged.
func (w *Worker) retire() {
	w.retireMu.Lock()
	defer w.retireMu.Unlock()
	w.setState(StateRedundant)
}

// Install fills the store named by the version tag with the app shell.
// Either every shell URL is fetched with a 2xx status and stored, or Install
// fails. A store this call created is dropped again on failure.
func (w *Worker) Install(ctx context.Context) error {
	w.setState(StateInstalling)

	if err := w.install(ctx); err != nil {
		w.setState(StateRedundant)
		return fmt.Errorf("%w: %s: %w", ErrInstallFailed, w.opts.Version, err)
	}

	w.setState(StateInstalled)
	return nil
}

func (w *Worker) install(ctx context.Context) error {
	existed, err := w.storage.Has(ctx, w.opts.Version)
	if err != nil {
		return fmt.Errorf("check store: %w", err)
	}

	store, err := w.storage.Open(ctx, w.opts.Version)
	if err != nil {
		return err
	}

	requests, snapshots, err := w.fetchShell(ctx)
	if err == nil {
		for i, req := range requests {
			if err = store.Put(ctx, req, snapshots[i]); err != nil {
				err = fmt.Errorf("store %s: %w", req.URL, err)
				break
			}
		}
	}

	if err != nil {
		if !existed {
			if dropErr := w.storage.Drop(context.WithoutCancel(ctx), w.opts.Version); dropErr != nil {
				w.log.WithError(dropErr).Warn("Failed to drop partially installed store")
			}
		}
		return err
	}

	w.setStore(store)
	w.log.WithField("entries", len(requests)).Info("App shell cached")
	return nil
}

// fetchShell fetches every app shell URL. The first failure cancels the rest.
func (w *Worker) fetchShell(ctx context.Context) ([]*http.Request, []*httpcache.Snapshot, error) {
	requests := make([]*http.Request, len(w.opts.AppShell))
	snapshots := make([]*httpcache.Snapshot, len(w.opts.AppShell))

	g, gctx := errgroup.WithContext(ctx)
	if w.opts.InstallConcurrency > 0 {
		g.SetLimit(w.opts.InstallConcurrency)
	}

	for i, shellPath := range w.opts.AppShell {
		i, shellPath := i, shellPath
		g.Go(func() error {
			target, err := w.resolve(shellPath)
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(gctx, http.MethodGet, target.String(), nil)
			if err != nil {
				return fmt.Errorf("build request for %s: %w", shellPath, err)
			}

			resp, err := w.network.RoundTrip(req)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", target, err)
			}

			snapshot, err := httpcache.NewSnapshot(resp)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", target, err)
			}
			if snapshot.StatusCode < 200 || snapshot.StatusCode > 299 {
				return fmt.Errorf("fetch %s: unexpected status %d", target, snapshot.StatusCode)
			}

			requests[i] = req
			snapshots[i] = snapshot
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return requests, snapshots, nil
}

func (w *Worker) resolve(shellPath string) (*url.URL, error) {
	ref, err := url.Parse(shellPath)
	if err != nil {
		return nil, fmt.Errorf("invalid app shell URL %q: %w", shellPath, err)
	}
	return w.opts.Origin.ResolveReference(ref), nil
}

// Activate finishes taking control. Stores of other versions are purged when
// PurgeStaleVersions is set; purge failures are returned but the worker
// still ends up activated.
func (w *Worker) Activate(ctx context.Context) error {
	w.setState(StateActivating)
	defer w.setState(StateActivated)

	if !w.opts.PurgeStaleVersions {
		return nil
	}
	return w.purge(ctx)
}

func (w *Worker) purge(ctx context.Context) error {
	names, err := w.storage.Names(ctx)
	if err != nil {
		return fmt.Errorf("list stores: %w", err)
	}

	var result *multierror.Error
	for _, name := range names {
		if name == w.opts.Version {
			continue
		}
		if err := w.storage.Drop(ctx, name); err != nil {
			result = multierror.Append(result, fmt.Errorf("drop store %s: %w", name, err))
			continue
		}
		metrics.PurgedStores.Inc()
		w.log.WithField("store", name).Info("Purged stale cache store")
	}

	return result.ErrorOrNil()
}

// Intercept answers req from the network and/or the store
func (w *Worker) Intercept(req *http.Request) (*http.Response, error) {
	resp, _, err := w.intercept(req)
	return resp, err
}

// Wait blocks until every background revalidation has finished
func (w *Worker) Wait() {
	w.background.Wait()
}

// interception is the outcome reported to fetch hooks
type interception struct {
	strategy Strategy
	source   Source
	bypassed bool
}

func (w *Worker) intercept(req *http.Request) (*http.Response, interception, error) {
	if req.Method != http.MethodGet || !w.inScope(req.URL) {
		resp, err := w.network.RoundTrip(req)
		metrics.InterceptedRequests.WithLabelValues("bypass", string(sourceOf(err, SourceNetwork))).Inc()
		return resp, interception{source: sourceOf(err, SourceNetwork), bypassed: true}, err
	}

	strategy := w.classifier.Classify(req.URL)

	var resp *http.Response
	var source Source
	var err error
	switch strategy {
	case NetworkFirst:
		resp, source, err = w.networkFirst(req)
	default:
		resp, source, err = w.cacheFirst(req)
	}

	metrics.InterceptedRequests.WithLabelValues(strategy.String(), string(source)).Inc()
	w.log.WithFields(logrus.Fields{
		"url":      req.URL.String(),
		"strategy": strategy,
		"source":   source,
	}).Debug("Intercepted request")

	return resp, interception{strategy: strategy, source: source}, err
}

func sourceOf(err error, source Source) Source {
	if err != nil {
		return SourceNone
	}
	return source
}

func (w *Worker) inScope(u *url.URL) bool {
	if len(w.opts.Scope) == 0 {
		return true
	}
	for _, prefix := range w.opts.Scope {
		if strings.HasPrefix(u.Path, prefix) {
			return true
		}
	}
	return false
}

// networkFirst prefers a live response and stores it before returning
func (w *Worker) networkFirst(req *http.Request) (*http.Response, Source, error) {
	snapshot, err := w.fetch(req)
	if err == nil {
		w.put(req.Context(), req, snapshot)
		return snapshot.Response(req), SourceNetwork, nil
	}

	if cached := w.match(req); cached != nil {
		w.log.WithError(err).WithField("url", req.URL.String()).Info("Network failed, serving cached copy")
		return cached.Response(req), SourceCache, nil
	}

	return nil, SourceNone, fmt.Errorf("network first %s: %w", req.URL, err)
}

// cacheFirst serves the stored copy and refreshes it without waiting.
// On a miss it waits for the refresh instead.
func (w *Worker) cacheFirst(req *http.Request) (*http.Response, Source, error) {
	cached := w.match(req)
	refreshed := w.revalidate(req)

	if cached != nil {
		return cached.Response(req), SourceCache, nil
	}

	select {
	case res := <-refreshed:
		if res.Err != nil {
			return nil, SourceNone, fmt.Errorf("cache first %s: %w", req.URL, res.Err)
		}
		return res.Val.(*httpcache.Snapshot).Response(req), SourceNetwork, nil
	case <-req.Context().Done():
		return nil, SourceNone, req.Context().Err()
	}
}

// revalidate starts a detached refresh of req. Concurrent refreshes of the
// same URL share one network fetch. The returned channel is buffered, so
// callers that are not interested in the result can drop it.
func (w *Worker) revalidate(req *http.Request) <-chan singleflight.Result {
	ctx := context.WithoutCancel(req.Context())
	detached := req.Clone(ctx)
	key := detached.Method + " " + detached.URL.String()

	w.background.Add(1)
	flight := w.revalidations.DoChan(key, func() (interface{}, error) {
		snapshot, err := w.fetch(detached)
		if err != nil {
			metrics.Revalidations.WithLabelValues("error").Inc()
			w.log.WithError(err).WithField("url", key).Warn("Background refresh failed")
			return nil, err
		}
		w.put(ctx, detached, snapshot)
		metrics.Revalidations.WithLabelValues("success").Inc()
		return snapshot, nil
	})

	result := make(chan singleflight.Result, 1)
	go func() {
		defer w.background.Done()
		result <- <-flight
	}()
	return result
}

// storageHeaders are dropped from requests whose response may be stored, so
// the store never holds a 304, a range or a body in a client-chosen encoding
var storageHeaders = []string{
	"If-None-Match",
	"If-Modified-Since",
	"If-Match",
	"If-Unmodified-Since",
	"If-Range",
	"Range",
	"Accept-Encoding",
}

func (w *Worker) fetch(req *http.Request) (*httpcache.Snapshot, error) {
	out := req.Clone(req.Context())
	for _, h := range storageHeaders {
		out.Header.Del(h)
	}

	resp, err := w.network.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	return httpcache.NewSnapshot(resp)
}

// match returns the stored snapshot for req. Store failures count as a miss.
func (w *Worker) match(req *http.Request) *httpcache.Snapshot {
	store, err := w.cacheStore(req.Context())
	if err != nil {
		w.log.WithError(err).Warn("Cache store unavailable")
		return nil
	}
	snapshot, err := store.Match(req.Context(), req)
	if err != nil {
		w.log.WithError(err).WithField("url", req.URL.String()).Warn("Cache lookup failed")
		return nil
	}
	return snapshot
}

var errRedundant = errors.New("worker is redundant")

// put stores snapshot for req. Store failures are logged and dropped.
func (w *Worker) put(ctx context.Context, req *http.Request, snapshot *httpcache.Snapshot) {
	if !snapshot.Storable() {
		w.log.WithField("url", req.URL.String()).Debug("Response is not storable")
		return
	}

	w.retireMu.RLock()
	defer w.retireMu.RUnlock()
	if w.State() == StateRedundant {
		w.log.WithField("url", req.URL.String()).Debug("Worker is redundant, dropping response")
		return
	}

	store, err := w.cacheStore(ctx)
	if err != nil {
		w.log.WithError(err).Warn("Cache store unavailable")
		return
	}
	if err := store.Put(ctx, req, snapshot); err != nil {
		w.log.WithError(err).WithField("url", req.URL.String()).Warn("Failed to store response")
	}
}

func (w *Worker) setStore(store *httpcache.Store) {
	w.storeMu.Lock()
	defer w.storeMu.Unlock()
	w.store = store
}

// cacheStore returns the store of this version, opening it on first use
func (w *Worker) cacheStore(ctx context.Context) (*httpcache.Store, error) {
	w.storeMu.Lock()
	defer w.storeMu.Unlock()

	if w.store != nil {
		return w.store, nil
	}
	if w.State() == StateRedundant {
		return nil, errRedundant
	}
	store, err := w.storage.Open(ctx, w.opts.Version)
	if err != nil {
		return nil, err
	}
	w.store = store
	return store, nil
}
