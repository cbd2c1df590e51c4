// SPDX-License-Identifier: GPL-3.0-or-later

// Package netcore provides composable primitives for a from-scratch
// browser-engine network stack: socket lifecycle, DNS resolution and
// caching, TLS 1.3, connection pooling, and the wire codecs underneath
// them.
//
// # Core Abstraction
//
// The package is built around a single interface:
//
//	type Func[A, B any] interface {
//		Call(ctx context.Context, input A) (B, error)
//	}
//
// Each Func represents an atomic operation with exactly one success mode
// and one failure mode. This design enables type-safe composition via
// [Compose2], [Compose3], etc., where the compiler verifies that outputs
// match inputs across pipeline stages.
//
// # Subpackages
//
// The protocol and wire-format logic lives in focused subpackages,
// each independently testable and importable:
//
//   - [github.com/webengine-project/netcore/socket]: socket state
//     machine (CLOSED/OPENING/OPEN/CLOSING/ERROR) over a dialed
//     net.Conn, with platform socket options.
//   - [github.com/webengine-project/netcore/tcpseg]: the application
//     TCP segment header codec.
//   - [github.com/webengine-project/netcore/dnswire]: the DNS message
//     wire format (RFC 1035): name compression, header, and resource
//     record encode/decode.
//   - [github.com/webengine-project/netcore/dns]: the DNS resolver
//     (DoH-first, then UDP nameservers) and its TTL-aware cache.
//   - [github.com/webengine-project/netcore/der]: a definite-length DER
//     parser.
//   - [github.com/webengine-project/netcore/x509lite]: an RFC 5280
//     X.509 certificate parser built on der.
//   - [github.com/webengine-project/netcore/certvalidate]: certificate
//     chain and hostname validation.
//   - [github.com/webengine-project/netcore/keyschedule]: TLS 1.2 PRF
//     and TLS 1.3 HKDF key schedule.
//   - [github.com/webengine-project/netcore/tlswire]: TLS handshake
//     message framing and parsers.
//   - [github.com/webengine-project/netcore/tlsconn]: the TLS 1.3
//     client connection and record layer.
//   - [github.com/webengine-project/netcore/pool]: per-origin
//     connection pooling.
//   - [github.com/webengine-project/netcore/manager]: pool health
//     checking and aggregate statistics.
//
// # Composition utilities (this package)
//
//   - [Compose2] through [Compose8]: chain Funcs into pipelines
//   - [FuncAdapter]: wrap a function as a Func for ad-hoc custom behavior
//   - [Apply]: bind a fixed input to a Func
//   - [ConstFunc]: lift a pure value into a Func
//   - [NewEndpointFunc]: convenience wrapper for ConstFunc with endpoints
//   - [ObserveConnFunc]: observes connections for logging I/O operations
//   - [CancelWatchFunc]: closes a connection on context cancellation
//
// # Observability
//
// All primitives support structured logging via [SLogger] (compatible
// with [log/slog]). By default, logging is disabled. Set the Logger
// field to a custom [*slog.Logger] to enable logging. Error
// classification is configurable via [ErrClassifier]; by default,
// [DefaultErrClassifier] maps errors to errno-flavored strings such as
// "ETIMEDOUT" and "ECONNRESET".
//
// Primitives emit two kinds of structured log events:
//
//   - Span events (*Start/*Done pairs): record operation lifecycle
//     including timing and success/failure.
//
//   - Single events with no *Done counterpart: setDeadline,
//     setReadDeadline, and setWriteDeadline on an observed connection,
//     and the dns package's dnsDoHFallback and dnsCacheCleanup.
//
// Connection-level events carry localAddr, remoteAddr, and protocol
// where the operation knows them; events above the connection level
// carry what identifies their operation instead (for example origin
// for pool acquisition). Every event except dnsDoHFallback carries t
// (timestamp). Completion events (*Done) additionally include t0
// (start time) and, except healthCheckDone, err and errClass. I/O-level
// events (read, write, deadline changes) are emitted at
// [slog.LevelDebug]; all other events use [slog.LevelInfo].
//
// Use [NewSpanID] to generate a unique, time-ordered identifier
// (UUIDv7) for each operation, then attach it to the logger with
// [*slog.Logger.With]. All log entries from that operation will share
// the same spanID, enabling correlation across pipeline stages.
//
// # Timeout and Context Philosophy
//
// This package is context-transparent: operations never modify the
// context they receive. The caller controls timeouts externally via
// [context.WithTimeout], [context.WithDeadline], or
// [signal.NotifyContext]. When the context is done, operations fail
// and the pipeline is interrupted.
//
// Connection lifecycle requires [CancelWatchFunc] to bind the context
// lifecycle to the connection: when the context is done, the
// connection is closed immediately, causing any in-progress I/O to
// fail.
package netcore
