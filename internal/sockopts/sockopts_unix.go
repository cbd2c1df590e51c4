//go:build unix

//
// SPDX-License-Identifier: GPL-3.0-or-later
//

package sockopts

import (
	"net"

	"golang.org/x/sys/unix"
)

// applyPlatformOptions sets SO_REUSEADDR/SO_REUSEPORT and the TCP
// keepalive interval/count knobs that [net.TCPConn] doesn't expose
// portably, via the raw socket's syscall descriptor.
func applyPlatformOptions(conn *net.TCPConn, o Options) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		if o.ReuseAddr {
			_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		}
		if o.ReusePort {
			_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		}
		if o.TCPKeepAlive && o.TCPKeepInterval > 0 {
			_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(o.TCPKeepInterval.Seconds()))
		}
		if o.TCPKeepAlive && o.TCPKeepCount > 0 {
			_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, o.TCPKeepCount)
		}
	})
}
