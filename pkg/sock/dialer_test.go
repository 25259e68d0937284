package sock

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDialerConnectsSuccessfully(t *testing.T) {
	l := New()
	l.OnAccept(func(conn net.Conn) { conn.Close() })
	require.NoError(t, l.Listen("127.0.0.1:0"))
	defer l.Close()

	d := &Dialer{}
	done := make(chan struct{})
	var gotConn net.Conn
	var gotErr error

	d.Dial(context.Background(), l.Addr().String(), func(conn net.Conn, err error) {
		gotConn, gotErr = conn, err
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dial never completed")
	}

	require.NoError(t, gotErr)
	require.NotNil(t, gotConn)
	gotConn.Close()
}

func TestDialerReportsErrorOnRefused(t *testing.T) {
	l := New()
	require.NoError(t, l.Listen("127.0.0.1:0"))
	addr := l.Addr().String()
	l.Close()
	time.Sleep(20 * time.Millisecond)

	d := &Dialer{}
	done := make(chan struct{})
	var gotErr error

	d.Dial(context.Background(), addr, func(conn net.Conn, err error) {
		gotErr = err
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dial never completed")
	}
	require.Error(t, gotErr)
}

func TestDialerCancel(t *testing.T) {
	d := &Dialer{}
	done := make(chan struct{})
	var gotErr error

	// 10.255.255.1 is a non-routable address chosen to hang rather than
	// refuse immediately, so Cancel has something to interrupt.
	d.Dial(context.Background(), "10.255.255.1:80", func(conn net.Conn, err error) {
		gotErr = err
		close(done)
	})
	d.Cancel()

	select {
	case <-done:
		require.Error(t, gotErr)
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not unblock dial")
	}
}
