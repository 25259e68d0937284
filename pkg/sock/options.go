package sock

import "net"

// ApplyBuffers sets the OS send/receive buffer sizes on a TCP connection,
// applied by the connected endpoint right after connect; the bound endpoint
// does not apply it to accepted connections. Non-TCP conns are a no-op.
func ApplyBuffers(conn net.Conn, sndBuf, rcvBuf int) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if sndBuf > 0 {
		_ = tc.SetWriteBuffer(sndBuf)
	}
	if rcvBuf > 0 {
		_ = tc.SetReadBuffer(rcvBuf)
	}
}

// SetNoDelay disables Nagle's algorithm, matching the low-latency framing
// pkg/session relies on for timely ping/pong round trips.
func SetNoDelay(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
}
