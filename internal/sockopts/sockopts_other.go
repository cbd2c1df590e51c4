//go:build !unix && !windows

//
// SPDX-License-Identifier: GPL-3.0-or-later
//

package sockopts

import "net"

// applyPlatformOptions is a no-op on platforms with neither a unix nor
// a windows syscall surface.
func applyPlatformOptions(conn *net.TCPConn, o Options) {}
