//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Grounded on: the nop package's Example_httpsRoundTrip, which builds a
// dial pipeline by composing NewEndpointFunc/NewConnectFunc/NewTLSHandshakeFunc
// with Compose6. This package's ConnectFunc/TLSHandshakeFunc operate on
// *socket.Socket rather than a bare net.Conn, so ObserveConnFunc and
// CancelWatchFunc (both Func[net.Conn, net.Conn]) sit upstream of this
// pipeline instead of inside it — see pool.dial and dns.Resolver.exchangeUDP.
//

package netcore

import (
	"net/netip"

	"github.com/webengine-project/netcore/socket"
	"github.com/webengine-project/netcore/tlsconn"
)

// NewDialTLSFunc returns a [Func] that connects to an address and
// performs a TLS handshake over the resulting socket, by composing
// [NewConnectFunc] and [NewTLSHandshakeFunc]. A failed handshake closes
// the dialed socket, per [Func]'s resource cleanup contract.
func NewDialTLSFunc(cfg *Config, transport socket.Transport, tlsConfig *tlsconn.Config, logger SLogger) Func[netip.AddrPort, *tlsconn.Conn] {
	return Compose2(
		NewConnectFunc(cfg, transport, logger),
		NewTLSHandshakeFunc(cfg, tlsConfig, logger),
	)
}

// NewFixedDialTLSFunc returns a [Func] that takes no input and dials a
// TLS connection to a single, fixed endpoint, by composing
// [NewEndpointFunc] in front of the same connect-then-handshake pipeline
// as [NewDialTLSFunc]. This is the shape a caller that only ever talks
// to one origin (e.g. a single-endpoint health probe) wants instead of
// threading the same [netip.AddrPort] through every [Func.Call].
func NewFixedDialTLSFunc(cfg *Config, endpoint netip.AddrPort, transport socket.Transport, tlsConfig *tlsconn.Config, logger SLogger) Func[Unit, *tlsconn.Conn] {
	return Compose3(
		NewEndpointFunc(endpoint),
		NewConnectFunc(cfg, transport, logger),
		NewTLSHandshakeFunc(cfg, tlsConfig, logger),
	)
}
