//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// The unix/windows split in this package is grounded directly on the
// nop package's errclass/{unix,windows}.go build-tag pattern.
//

// Package sockopts applies the socket options enumerated in §4.1/§6 of
// the network stack core spec to a freshly dialed [net.Conn]. Options
// the OS or the connection's concrete type does not support are
// silently ignored, per spec.
package sockopts

import (
	"net"
	"time"
)

// Options mirrors [socket.Options] to avoid an import cycle; socket.Options
// is converted to this type at the call site.
type Options struct {
	TCPNoDelay      bool
	TCPKeepAlive    bool
	TCPKeepIdle     time.Duration
	TCPKeepInterval time.Duration
	TCPKeepCount    int
	ReuseAddr       bool
	ReusePort       bool
	RecvBuf         int
	SendBuf         int
	RecvTimeout     time.Duration
	SendTimeout     time.Duration
	LingerEnabled   bool
	LingerTimeout   time.Duration
}

// Apply applies o to conn, best-effort. It never returns an error: a
// socket option the platform doesn't support is not a connection
// failure, per spec ("An implementation may ignore options the OS
// does not expose").
func Apply(conn net.Conn, o Options) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		applyTimeouts(conn, o)
		return
	}

	if o.TCPNoDelay {
		_ = tcpConn.SetNoDelay(true)
	}
	if o.TCPKeepAlive {
		_ = tcpConn.SetKeepAlive(true)
		if o.TCPKeepIdle > 0 {
			_ = tcpConn.SetKeepAlivePeriod(o.TCPKeepIdle)
		}
	}
	if o.RecvBuf > 0 {
		_ = tcpConn.SetReadBuffer(o.RecvBuf)
	}
	if o.SendBuf > 0 {
		_ = tcpConn.SetWriteBuffer(o.SendBuf)
	}
	if o.LingerEnabled {
		_ = tcpConn.SetLinger(int(o.LingerTimeout.Seconds()))
	}

	applyPlatformOptions(tcpConn, o)
	applyTimeouts(conn, o)
}

func applyTimeouts(conn net.Conn, o Options) {
	if o.RecvTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(o.RecvTimeout))
	}
	if o.SendTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(o.SendTimeout))
	}
}
