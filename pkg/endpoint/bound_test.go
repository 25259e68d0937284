package endpoint

import (
	"net"
	"testing"
	"time"

	"github.com/conduitmesh/conduit/pkg/epbase"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
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

func TestNewBoundInvalidAddress(t *testing.T) {
	_, err := NewBound("no-port-here", epbase.DefaultOptions(), nil)
	require.Error(t, err)
}

func TestNewBoundNoSuchDevice(t *testing.T) {
	_, err := NewBound("not-a-real-iface-xyz:9999", epbase.DefaultOptions(), nil)
	require.Error(t, err)
}

func TestBoundRoundTripWithoutAccept(t *testing.T) {
	b, err := NewBound("127.0.0.1:18101", epbase.DefaultOptions(), nil)
	require.NoError(t, err)

	stopped := make(chan struct{})
	b.Base().SetStoppedHook(func() { close(stopped) })

	b.Start()
	waitFor(t, time.Second, func() bool { return b.State() == "ACTIVE" })

	b.Stop()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stopped hook never fired")
	}
	require.Equal(t, "IDLE", b.State())
	b.Destroy()
}

func TestBoundAcceptsAndTracksChildren(t *testing.T) {
	b, err := NewBound("127.0.0.1:18102", epbase.DefaultOptions(), nil)
	require.NoError(t, err)

	stopped := make(chan struct{})
	b.Base().SetStoppedHook(func() { close(stopped) })

	b.Start()
	waitFor(t, time.Second, func() bool { return b.State() == "ACTIVE" })

	conn, err := net.Dial("tcp", "127.0.0.1:18102")
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return b.ChildCount() == 1 })
	require.EqualValues(t, 1, b.Base().Stats().Value(epbase.StatEstablishedConnections))

	conn.Close()
	waitFor(t, time.Second, func() bool { return b.ChildCount() == 0 })

	b.Stop()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stopped hook never fired")
	}
	b.Destroy()
}

func TestBoundAdvertisesWhileActive(t *testing.T) {
	b, err := NewBound("127.0.0.1:18104", epbase.DefaultOptions(), nil, WithAdvertise("conduit-bound-test"))
	require.NoError(t, err)
	require.NotNil(t, b.advertiser)

	stopped := make(chan struct{})
	b.Base().SetStoppedHook(func() { close(stopped) })

	b.Start()
	waitFor(t, time.Second, func() bool { return b.State() == "ACTIVE" })
	waitFor(t, time.Second, func() bool { return b.advertiser.Active() })

	b.Stop()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stopped hook never fired")
	}
	require.False(t, b.advertiser.Active())
	b.Destroy()
}

func TestBoundResetsBackoffOnReListen(t *testing.T) {
	holder, err := net.Listen("tcp", "127.0.0.1:18105")
	require.NoError(t, err)

	opts := epbase.DefaultOptions()
	opts.ReconnectIvl = 10 * time.Millisecond
	opts.ReconnectIvlMax = 20 * time.Millisecond

	b, err := NewBound("127.0.0.1:18105", opts, nil)
	require.NoError(t, err)

	stopped := make(chan struct{})
	b.Base().SetStoppedHook(func() { close(stopped) })

	b.Start()
	waitFor(t, time.Second, func() bool { return b.retry.Attempts() > 0 })

	holder.Close()
	waitFor(t, time.Second, func() bool { return b.State() == "ACTIVE" })
	require.EqualValues(t, 0, b.retry.Attempts())

	b.Stop()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stopped hook never fired")
	}
	b.Destroy()
}

func TestBoundRetriesOnBindConflict(t *testing.T) {
	holder, err := net.Listen("tcp", "127.0.0.1:18103")
	require.NoError(t, err)
	defer holder.Close()

	opts := epbase.DefaultOptions()
	opts.ReconnectIvl = 10 * time.Millisecond
	opts.ReconnectIvlMax = 20 * time.Millisecond

	b, err := NewBound("127.0.0.1:18103", opts, nil)
	require.NoError(t, err)

	stopped := make(chan struct{})
	b.Base().SetStoppedHook(func() { close(stopped) })

	b.Start()
	waitFor(t, time.Second, func() bool {
		s := b.State()
		return s == "WAITING" || s == "CLOSING" || s == "STOPPING_BACKOFF"
	})

	b.Stop()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stopped hook never fired after stopping mid-retry")
	}
	b.Destroy()
}
