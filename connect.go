//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: the nop package's connect.go ([ConnectFunc]'s dial-and-log
// shape), retargeted to open a [*socket.Socket] instead of a bare [net.Conn].
//

package netcore

import (
	"context"
	"log/slog"
	"net/netip"
	"time"

	"github.com/webengine-project/netcore/socket"
)

// NewConnectFunc returns a new [*ConnectFunc] with default dialer.
//
// The cfg argument contains the common configuration for netcore operations.
//
// The transport argument selects [socket.TransportStream] or
// [socket.TransportDatagram].
//
// The logger argument is the [SLogger] to use for structured logging.
//
// The resulting [*socket.Socket] is given the same logger, error
// classifier, and a fresh span ID, so its own Read/Write/Close events
// (see package socket) correlate with the connectStart/connectDone pair
// logged below.
func NewConnectFunc(cfg *Config, transport socket.Transport, logger SLogger) *ConnectFunc {
	return &ConnectFunc{
		Dialer:        cfg.Dialer,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Options:       socket.Options{},
		Transport:     transport,
		TimeNow:       cfg.TimeNow,
	}
}

// ConnectFunc dials a [netip.AddrPort] into an open [*socket.Socket].
//
// Returns either a valid [*socket.Socket] in [socket.StateOpen] or an
// error, never both.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type ConnectFunc struct {
	// Dialer is the [Dialer] the resulting socket uses to connect.
	//
	// Set by [NewConnectFunc] from [Config.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConnectFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewConnectFunc] to the user-provided logger.
	Logger SLogger

	// Options configures the dialed socket (timeouts, buffer sizes, keepalive).
	//
	// Set by [NewConnectFunc] to the zero value; callers may override it
	// before the first [Call].
	Options socket.Options

	// Transport selects TCP or UDP.
	//
	// Set by [NewConnectFunc] to the user-provided value.
	Transport socket.Transport

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewConnectFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[netip.AddrPort, *socket.Socket] = &ConnectFunc{}

// Call invokes the [*ConnectFunc] to connect to the given [netip.AddrPort].
func (op *ConnectFunc) Call(ctx context.Context, address netip.AddrPort) (*socket.Socket, error) {
	s := socket.New(op.Transport, op.Dialer, op.TimeNow)
	spanID := NewSpanID()
	s.SpanID = spanID
	s.Logger = op.Logger
	s.ErrClassifier = op.ErrClassifier

	t0 := op.TimeNow()
	deadline, _ := ctx.Deadline()
	op.logConnectStart(address, spanID, t0, deadline)
	err := s.Connect(ctx, address, op.Options)
	op.logConnectDone(address, spanID, t0, deadline, err)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (op *ConnectFunc) logConnectStart(address netip.AddrPort, spanID string, t0, deadline time.Time) {
	op.Logger.Info(
		"connectStart",
		slog.Time("deadline", deadline),
		slog.String("protocol", string(op.Transport)),
		slog.String("remoteAddr", address.String()),
		slog.String("spanID", spanID),
		slog.Time("t", t0),
	)
}

func (op *ConnectFunc) logConnectDone(address netip.AddrPort, spanID string, t0, deadline time.Time, err error) {
	op.Logger.Info(
		"connectDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("protocol", string(op.Transport)),
		slog.String("remoteAddr", address.String()),
		slog.String("spanID", spanID),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
	)
}
