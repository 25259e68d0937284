package conduit_test

import (
	"sync"
	"testing"
	"time"

	"github.com/conduitmesh/conduit/pkg/endpoint"
	"github.com/conduitmesh/conduit/pkg/epbase"
	"github.com/conduitmesh/conduit/pkg/log"
	"github.com/stretchr/testify/require"
)

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// TestE2E_BoundAndConnectedReachActive drives a Bound listener and a
// Connected dialer against each other over loopback and checks that both
// sides settle into ACTIVE with matching established-connection stats.
func TestE2E_BoundAndConnectedReachActive(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	const addr = "127.0.0.1:19301"

	var mu sync.Mutex
	var events []log.Event
	recorder := recorderLogger(func(e log.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})

	bound, err := endpoint.NewBound(addr, epbase.DefaultOptions(), recorder)
	require.NoError(t, err)
	boundStopped := make(chan struct{})
	bound.Base().SetStoppedHook(func() { close(boundStopped) })
	bound.Start()
	defer bound.Destroy()

	waitForCondition(t, 2*time.Second, func() bool { return bound.State() == "ACTIVE" })

	connected, err := endpoint.NewConnected(addr, epbase.DefaultOptions(), recorder)
	require.NoError(t, err)
	connStopped := make(chan struct{})
	connected.Base().SetStoppedHook(func() { close(connStopped) })
	connected.Start()
	defer connected.Destroy()

	waitForCondition(t, 2*time.Second, func() bool { return connected.State() == "ACTIVE" })
	waitForCondition(t, 2*time.Second, func() bool { return bound.ChildCount() == 1 })

	require.EqualValues(t, 1, bound.Base().Stats().Value(epbase.StatEstablishedConnections))
	require.EqualValues(t, 1, connected.Base().Stats().Value(epbase.StatEstablishedConnections))

	connected.Stop()
	select {
	case <-connStopped:
	case <-time.After(2 * time.Second):
		t.Fatal("connected endpoint never stopped")
	}
	waitForCondition(t, 2*time.Second, func() bool { return bound.ChildCount() == 0 })

	bound.Stop()
	select {
	case <-boundStopped:
	case <-time.After(2 * time.Second):
		t.Fatal("bound endpoint never stopped")
	}

	require.NotEmpty(t, events, "expected protocol events to have been logged")
}

// TestE2E_ConnectedRetriesUntilBoundAppears starts the dialer first against
// an address nobody is listening on yet, confirms it backs off and retries,
// then brings up the listener and checks the dialer recovers into ACTIVE.
func TestE2E_ConnectedRetriesUntilBoundAppears(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	const addr = "127.0.0.1:19302"

	opts := epbase.DefaultOptions()
	opts.ReconnectIvl = 10 * time.Millisecond
	opts.ReconnectIvlMax = 20 * time.Millisecond

	connected, err := endpoint.NewConnected(addr, opts, nil)
	require.NoError(t, err)
	connStopped := make(chan struct{})
	connected.Base().SetStoppedHook(func() { close(connStopped) })
	connected.Start()
	defer connected.Destroy()

	waitForCondition(t, 2*time.Second, func() bool {
		s := connected.State()
		return s == "WAITING" || s == "STOPPING_BACKOFF" || s == "STOPPING_SOCKET"
	})
	require.Greater(t, connected.Base().Stats().Value(epbase.StatConnectErrors), int64(0))

	bound, err := endpoint.NewBound(addr, opts, nil)
	require.NoError(t, err)
	boundStopped := make(chan struct{})
	bound.Base().SetStoppedHook(func() { close(boundStopped) })
	bound.Start()
	defer bound.Destroy()

	waitForCondition(t, 2*time.Second, func() bool { return connected.State() == "ACTIVE" })
	waitForCondition(t, 2*time.Second, func() bool { return bound.ChildCount() == 1 })

	connected.Stop()
	select {
	case <-connStopped:
	case <-time.After(2 * time.Second):
		t.Fatal("connected endpoint never stopped")
	}

	bound.Stop()
	select {
	case <-boundStopped:
	case <-time.After(2 * time.Second):
		t.Fatal("bound endpoint never stopped")
	}
}

type recorderLogger func(log.Event)

func (r recorderLogger) Log(e log.Event) { r(e) }
