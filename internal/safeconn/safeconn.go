// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: github.com/bassosimone/safeconn (as used by the nop package)
//
// safeconn is a tiny personal-utility style package: it is not a
// fetchable third-party module, so its idiom (nil-safe net.Conn field
// access for logging) is reimplemented here rather than imported.

// Package safeconn provides nil-safe accessors for [net.Conn] fields,
// used when logging connections that may be nil on the error path.
package safeconn

import "net"

// LocalAddr returns conn's local address, or "" if conn is nil.
func LocalAddr(conn net.Conn) string {
	if conn == nil {
		return ""
	}
	if addr := conn.LocalAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// RemoteAddr returns conn's remote address, or "" if conn is nil.
func RemoteAddr(conn net.Conn) string {
	if conn == nil {
		return ""
	}
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Network returns the network of conn's local address, or "" if conn is nil.
func Network(conn net.Conn) string {
	if conn == nil {
		return ""
	}
	if addr := conn.LocalAddr(); addr != nil {
		return addr.Network()
	}
	return ""
}
