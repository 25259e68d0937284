package endpoint

import (
	"net"
	"testing"
	"time"

	"github.com/conduitmesh/conduit/pkg/epbase"
	"github.com/stretchr/testify/require"
)

func TestNewConnectedInvalidAddress(t *testing.T) {
	_, err := NewConnected("no-port-here", epbase.DefaultOptions(), nil)
	require.Error(t, err)
}

func TestNewConnectedNoSuchDevice(t *testing.T) {
	_, err := NewConnected("not-a-real-iface-xyz;127.0.0.1:9999", epbase.DefaultOptions(), nil)
	require.Error(t, err)
}

func TestConnectedRoundTripWithoutStart(t *testing.T) {
	c, err := NewConnected("127.0.0.1:18201", epbase.DefaultOptions(), nil)
	require.NoError(t, err)

	stopped := make(chan struct{})
	c.Base().SetStoppedHook(func() { close(stopped) })

	c.Stop()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stopped hook never fired")
	}
	require.Equal(t, "IDLE", c.State())
	c.Destroy()
}

func TestConnectedReachesActive(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:18202")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	c, err := NewConnected("127.0.0.1:18202", epbase.DefaultOptions(), nil)
	require.NoError(t, err)

	stopped := make(chan struct{})
	c.Base().SetStoppedHook(func() { close(stopped) })

	c.Start()
	waitFor(t, 2*time.Second, func() bool { return c.State() == "ACTIVE" })
	require.EqualValues(t, 1, c.Base().Stats().Value(epbase.StatEstablishedConnections))

	select {
	case conn := <-accepted:
		conn.Close()
	case <-time.After(time.Second):
		t.Fatal("server side never accepted")
	}

	c.Stop()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stopped hook never fired")
	}
	c.Destroy()
}

func TestConnectedRetriesWhenNobodyListens(t *testing.T) {
	opts := epbase.DefaultOptions()
	opts.ReconnectIvl = 10 * time.Millisecond
	opts.ReconnectIvlMax = 20 * time.Millisecond

	c, err := NewConnected("127.0.0.1:1", opts, nil)
	require.NoError(t, err)

	stopped := make(chan struct{})
	c.Base().SetStoppedHook(func() { close(stopped) })

	c.Start()
	waitFor(t, 2*time.Second, func() bool {
		s := c.State()
		return s == "WAITING" || s == "STOPPING_BACKOFF" || s == "STOPPING_SOCKET"
	})
	require.Greater(t, c.Base().Stats().Value(epbase.StatConnectErrors), int64(0))

	c.Stop()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stopped hook never fired while retrying")
	}
	c.Destroy()
}

func TestConnectedStopMidConnect(t *testing.T) {
	// 192.0.2.1 is documentation-only (TEST-NET-1, RFC 5737) and never
	// routable, so the dial stays pending long enough to stop mid-flight.
	c, err := NewConnected("192.0.2.1:18203", epbase.DefaultOptions(), nil)
	require.NoError(t, err)

	stopped := make(chan struct{})
	c.Base().SetStoppedHook(func() { close(stopped) })

	c.Start()
	waitFor(t, time.Second, func() bool { return c.State() == "CONNECTING" })
	require.EqualValues(t, 1, c.Base().Stats().Value(epbase.StatInprogressConnections))

	c.Stop()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stopped hook never fired for a stop mid-connect")
	}
	require.EqualValues(t, 0, c.Base().Stats().Value(epbase.StatInprogressConnections))
	require.EqualValues(t, 1, c.Base().Stats().Value(epbase.StatDroppedConnections))
	c.Destroy()
}

func TestConnectedEstablishedStatNeverDecrements(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:18204")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 2)
	go func() {
		for i := 0; i < 2; i++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()

	opts := epbase.DefaultOptions()
	opts.ReconnectIvl = 10 * time.Millisecond
	opts.ReconnectIvlMax = 20 * time.Millisecond

	c, err := NewConnected("127.0.0.1:18204", opts, nil)
	require.NoError(t, err)

	stopped := make(chan struct{})
	c.Base().SetStoppedHook(func() { close(stopped) })

	c.Start()
	waitFor(t, 2*time.Second, func() bool { return c.State() == "ACTIVE" })
	require.EqualValues(t, 1, c.Base().Stats().Value(epbase.StatEstablishedConnections))

	var first net.Conn
	select {
	case first = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("server side never accepted first connection")
	}
	first.Close()

	waitFor(t, 2*time.Second, func() bool { return c.Base().Stats().Value(epbase.StatBrokenConnections) == 1 })
	waitFor(t, 2*time.Second, func() bool { return c.State() == "ACTIVE" })
	require.EqualValues(t, 2, c.Base().Stats().Value(epbase.StatEstablishedConnections))

	select {
	case second := <-accepted:
		second.Close()
	case <-time.After(time.Second):
		t.Fatal("server side never accepted second connection")
	}

	c.Stop()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stopped hook never fired")
	}
	require.EqualValues(t, 2, c.Base().Stats().Value(epbase.StatEstablishedConnections))
	c.Destroy()
}
