package worker

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripWithoutActiveWorker(t *testing.T) {
	network := blogNetwork()
	controller := NewController(network)

	_, err := controller.Active()
	require.ErrorIs(t, err, ErrNoActiveWorker)

	resp, err := controller.RoundTrip(get(t, "/styles.css"))
	require.NoError(t, err)
	assert.Equal(t, "body{}", readBody(t, resp))
	assert.Equal(t, 1, network.callCount("/styles.css"))
}

func TestRegisterInstallsAndActivates(t *testing.T) {
	storage := newTestStorage()
	network := blogNetwork()
	controller := NewController(network)
	w := newTestWorker(t, storage, network, testOptions("v1"))

	require.NoError(t, controller.Register(context.Background(), w))

	active, err := controller.Active()
	require.NoError(t, err)
	assert.Same(t, w, active)
	assert.Equal(t, StateActivated, w.State())

	for _, path := range []string{"/", "/index.html", "/styles.css", "/app.js", "/rss.xml"} {
		assert.NotEmpty(t, storedBody(t, storage, "v1", path), path)
	}
}

func TestRegisterFailureKeepsPreviousWorker(t *testing.T) {
	storage := newTestStorage()
	network := blogNetwork()
	controller := NewController(network)

	v1 := newTestWorker(t, storage, network, testOptions("v1"))
	require.NoError(t, controller.Register(context.Background(), v1))

	network.setFail("/app.js")
	v2 := newTestWorker(t, storage, network, testOptions("v2"))
	err := controller.Register(context.Background(), v2)
	require.ErrorIs(t, err, ErrInstallFailed)

	active, err := controller.Active()
	require.NoError(t, err)
	assert.Same(t, v1, active, "a failed install never becomes active")
	assert.Equal(t, StateActivated, v1.State())
	assert.Equal(t, StateRedundant, v2.State())

	names, err := storage.Names(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, names)
}

func TestRegisterFirstFailureLeavesNoWorker(t *testing.T) {
	network := blogNetwork()
	network.setFail("/app.js")
	controller := NewController(network)

	err := controller.Register(context.Background(), newTestWorker(t, newTestStorage(), network, testOptions("v1")))
	require.ErrorIs(t, err, ErrInstallFailed)

	_, err = controller.Active()
	require.ErrorIs(t, err, ErrNoActiveWorker)
}

func TestRegisterSupersedesAndPurges(t *testing.T) {
	storage := newTestStorage()
	network := blogNetwork()
	controller := NewController(network)

	v1 := newTestWorker(t, storage, network, testOptions("v1"))
	require.NoError(t, controller.Register(context.Background(), v1))

	network.set("/styles.css", "body{margin:0}")
	v2 := newTestWorker(t, storage, network, testOptions("v2"))
	require.NoError(t, controller.Register(context.Background(), v2))

	assert.Equal(t, StateRedundant, v1.State())
	assert.Equal(t, StateActivated, v2.State())

	names, err := storage.Names(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, names)

	network.setDown(true)
	resp, err := controller.RoundTrip(get(t, "/styles.css"))
	require.NoError(t, err)
	assert.Equal(t, "body{margin:0}", readBody(t, resp), "served by the new version")
}

func TestSupersededRefreshKeepsStorePurged(t *testing.T) {
	storage := newTestStorage()
	oldNetwork := blogNetwork()
	controller := NewController(oldNetwork)

	v1 := newTestWorker(t, storage, oldNetwork, testOptions("v1"))
	require.NoError(t, controller.Register(context.Background(), v1))

	// the cached hit leaves a v1 refresh waiting on the network
	oldNetwork.hold()
	resp, err := controller.RoundTrip(get(t, "/styles.css"))
	require.NoError(t, err)
	readBody(t, resp)

	v2 := newTestWorker(t, storage, blogNetwork(), testOptions("v2"))
	require.NoError(t, controller.Register(context.Background(), v2))

	waited := make(chan struct{})
	go func() {
		controller.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while a superseded worker was still refreshing")
	case <-time.After(50 * time.Millisecond):
	}

	oldNetwork.release()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait never returned")
	}

	names, err := storage.Names(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, names, "the late refresh must not bring the v1 store back")
	assert.Equal(t, StateRedundant, v1.State())
}

func TestHooks(t *testing.T) {
	storage := newTestStorage()
	network := blogNetwork()
	controller := NewController(network)

	var mu sync.Mutex
	var events []Event
	record := func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}
	controller.On(EventInstall, record)
	controller.On(EventActivate, record)
	controller.On(EventFetch, record)

	require.NoError(t, controller.Register(context.Background(), newTestWorker(t, storage, network, testOptions("v1"))))

	resp, err := controller.RoundTrip(get(t, "/blogs/index.json"))
	require.NoError(t, err)
	readBody(t, resp)

	resp, err = controller.RoundTrip(get(t, "/styles.css"))
	require.NoError(t, err)
	readBody(t, resp)

	req, err := http.NewRequest(http.MethodDelete, testOrigin+"/styles.css", nil)
	require.NoError(t, err)
	resp, err = controller.RoundTrip(req)
	require.NoError(t, err)
	readBody(t, resp)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 5)

	assert.Equal(t, EventInstall, events[0].Type)
	assert.Equal(t, "v1", events[0].Version)
	assert.NoError(t, events[0].Err)
	assert.Equal(t, EventActivate, events[1].Type)

	assert.Equal(t, EventFetch, events[2].Type)
	assert.Equal(t, NetworkFirst, events[2].Strategy)
	assert.Equal(t, SourceNetwork, events[2].Source)

	assert.Equal(t, CacheFirstWithRevalidate, events[3].Strategy)
	assert.Equal(t, SourceCache, events[3].Source, "installed with the app shell")

	assert.True(t, events[4].Bypassed)
}

func TestControllerWait(t *testing.T) {
	storage := newTestStorage()
	network := blogNetwork()
	controller := NewController(network)
	controller.Wait()

	require.NoError(t, controller.Register(context.Background(), newTestWorker(t, storage, network, testOptions("v1"))))

	network.set("/app.js", "refreshed()")
	resp, err := controller.RoundTrip(get(t, "/app.js"))
	require.NoError(t, err)
	assert.Equal(t, "loadIndex()", readBody(t, resp))

	controller.Wait()
	assert.Equal(t, "refreshed()", storedBody(t, storage, "v1", "/app.js"))
}
