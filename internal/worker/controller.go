package worker

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/0xkiire/coredumped/internal/metrics"
)

// EventType names a lifecycle event hooks can be registered for
type EventType string

const (
	EventInstall  EventType = "install"
	EventActivate EventType = "activate"
	EventFetch    EventType = "fetch"
)

// Event is passed to hooks once the matching lifecycle step has finished
type Event struct {
	Type    EventType
	Version string
	// Request is set for fetch events
	Request  *http.Request
	Strategy Strategy
	Source   Source
	// Bypassed is set when the request went straight to the network
	Bypassed bool
	Err      error
}

// Controller tracks which worker handles requests. It implements
// http.RoundTripper; at most one worker is active at any time.
type Controller struct {
	network http.RoundTripper

	// registerMu serializes Register so versions activate one after the other
	registerMu sync.Mutex
	active     atomic.Pointer[Worker]

	// retired holds superseded workers whose background work Wait still covers
	retiredMu sync.Mutex
	retired   []*Worker

	hooksMu sync.RWMutex
	hooks   map[EventType][]func(Event)
}

// NewController creates a controller. Requests are sent to network while
// no worker is active.
func NewController(network http.RoundTripper) *Controller {
	return &Controller{
		network: network,
		hooks:   map[EventType][]func(Event){},
	}
}

// On registers fn to run after every event of type t.
// Hooks run synchronously on the goroutine that produced the event.
func (c *Controller) On(t EventType, fn func(Event)) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.hooks[t] = append(c.hooks[t], fn)
}

func (c *Controller) emit(e Event) {
	c.hooksMu.RLock()
	hooks := c.hooks[e.Type]
	c.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(e)
	}
}

// Register installs w and, once installed, activates it right away.
// When Install fails the previously active worker keeps handling requests.
// Activation errors come from purging stale stores; w is active regardless.
func (c *Controller) Register(ctx context.Context, w *Worker) error {
	c.registerMu.Lock()
	defer c.registerMu.Unlock()

	log := logrus.WithField("version", w.Version())
	log.Info("Installing worker")

	if err := w.Install(ctx); err != nil {
		metrics.Installs.WithLabelValues("failure").Inc()
		log.WithError(err).Error("Install failed, keeping the current worker")
		c.emit(Event{Type: EventInstall, Version: w.Version(), Err: err})
		return err
	}
	metrics.Installs.WithLabelValues("success").Inc()
	c.emit(Event{Type: EventInstall, Version: w.Version()})

	// claim: requests go to w from here on
	previous := c.active.Swap(w)
	if previous != nil && previous != w {
		previous.retire()
		c.retiredMu.Lock()
		c.retired = append(c.retired, previous)
		c.retiredMu.Unlock()
		metrics.ActiveVersion.DeleteLabelValues(previous.Version())
	}
	metrics.ActiveVersion.WithLabelValues(w.Version()).Set(1)

	err := w.Activate(ctx)
	if err != nil {
		log.WithError(err).Warn("Failed to purge stale cache stores")
	}
	log.Info("Worker activated")
	c.emit(Event{Type: EventActivate, Version: w.Version(), Err: err})

	return err
}

// Active returns the worker currently handling requests
func (c *Controller) Active() (*Worker, error) {
	w := c.active.Load()
	if w == nil {
		return nil, ErrNoActiveWorker
	}
	return w, nil
}

// RoundTrip hands req to the active worker
func (c *Controller) RoundTrip(req *http.Request) (*http.Response, error) {
	w := c.active.Load()
	if w == nil {
		return c.network.RoundTrip(req)
	}

	resp, outcome, err := w.intercept(req)
	c.emit(Event{
		Type:     EventFetch,
		Version:  w.Version(),
		Request:  req,
		Strategy: outcome.strategy,
		Source:   outcome.source,
		Bypassed: outcome.bypassed,
		Err:      err,
	})
	return resp, err
}

// Wait blocks until background work of the active worker and of every
// worker it superseded has finished
func (c *Controller) Wait() {
	c.retiredMu.Lock()
	retired := append([]*Worker(nil), c.retired...)
	c.retiredMu.Unlock()

	for _, w := range retired {
		w.Wait()
	}
	if w := c.active.Load(); w != nil {
		w.Wait()
	}
}
