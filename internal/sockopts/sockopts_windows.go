//go:build windows

//
// SPDX-License-Identifier: GPL-3.0-or-later
//

package sockopts

import (
	"net"

	"golang.org/x/sys/windows"
)

// applyPlatformOptions sets SO_REUSEADDR via the raw socket handle.
// Windows has no portable SO_REUSEPORT or per-connection TCP_KEEPINTVL/
// TCP_KEEPCNT equivalent reachable this way; those options are ignored
// here, per spec ("An implementation may ignore options the OS does
// not expose").
func applyPlatformOptions(conn *net.TCPConn, o Options) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		if o.ReuseAddr {
			_ = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
		}
	})
}
