// SPDX-License-Identifier: GPL-3.0-or-later

package netcore

import (
	"github.com/google/uuid"

	"github.com/webengine-project/netcore/internal/runtimex"
)

// NewSpanID returns a UUIDv7 representing a span.
//
// A span is a sequence of operations that can fail in a single, specific
// way: resolving a hostname, dialing an endpoint, performing a TLS
// handshake, acquiring a pooled connection. Attach the span ID to a
// logger with [*slog.Logger.With] so every event from that operation
// correlates.
//
// This function panics if the system random number generator fails,
// which should only happen under extraordinary circumstances.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
