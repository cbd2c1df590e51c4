//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: the nop package's tls.go ([TLSHandshakeFunc]'s
// handshake-and-log shape), retargeted to wrap a [*socket.Socket] in a
// [*tlsconn.Conn] instead of a [*tls.Conn].
//

package netcore

import (
	"context"
	"log/slog"
	"time"

	"github.com/webengine-project/netcore/socket"
	"github.com/webengine-project/netcore/tlsconn"
)

// NewTLSHandshakeFunc returns a new [*TLSHandshakeFunc] using the given
// [*tlsconn.Config].
//
// The cfg argument contains the common configuration for netcore operations.
//
// The tlsConfig argument is the TLS configuration to use; it must not be nil.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewTLSHandshakeFunc(cfg *Config, tlsConfig *tlsconn.Config, logger SLogger) *TLSHandshakeFunc {
	if tlsConfig == nil {
		panic("netcore: NewTLSHandshakeFunc: tlsConfig must not be nil")
	}
	return &TLSHandshakeFunc{
		Config:        tlsConfig,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// TLSHandshakeFunc performs a TLS 1.3 handshake over an existing
// [*socket.Socket].
//
// The input is a [*socket.Socket] already in [socket.StateOpen]; the
// resource cleanup contract in [Func] applies: a failed handshake closes
// the input socket before returning the error.
//
// Returns either a valid [*tlsconn.Conn] in [tlsconn.StateEstablished]
// or an error, never both.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type TLSHandshakeFunc struct {
	// Config is the [*tlsconn.Config] to use.
	//
	// Set by [NewTLSHandshakeFunc] to the user-provided pointer.
	Config *tlsconn.Config

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewTLSHandshakeFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewTLSHandshakeFunc] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewTLSHandshakeFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[*socket.Socket, *tlsconn.Conn] = &TLSHandshakeFunc{}

// Call invokes the [*TLSHandshakeFunc] to create a [*tlsconn.Conn] from
// a [*socket.Socket].
func (op *TLSHandshakeFunc) Call(ctx context.Context, s *socket.Socket) (*tlsconn.Conn, error) {
	tconn := tlsconn.New(s.Underlying(), op.Config)
	spanID := NewSpanID()
	tconn.SpanID = spanID

	t0 := op.TimeNow()
	deadline, _ := ctx.Deadline()
	op.logHandshakeStart(s, spanID, t0, deadline)
	err := tconn.Handshake()
	op.logHandshakeDone(s, tconn, spanID, t0, deadline, err)
	if err != nil {
		s.Close()
		return nil, err
	}
	return tconn, nil
}

func (op *TLSHandshakeFunc) logHandshakeStart(s *socket.Socket, spanID string, t0, deadline time.Time) {
	op.Logger.Info(
		"tlsHandshakeStart",
		slog.Time("deadline", deadline),
		slog.String("remoteAddr", s.RemoteAddress()),
		slog.Int("remotePort", s.RemotePort()),
		slog.String("spanID", spanID),
		slog.Time("t", t0),
		slog.String("tlsServerName", op.Config.ServerName),
		slog.Any("tlsOfferedProtocols", op.Config.ALPNProtocols),
	)
}

func (op *TLSHandshakeFunc) logHandshakeDone(
	s *socket.Socket, tconn *tlsconn.Conn, spanID string, t0, deadline time.Time, err error) {
	op.Logger.Info(
		"tlsHandshakeDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("remoteAddr", s.RemoteAddress()),
		slog.Int("remotePort", s.RemotePort()),
		slog.String("spanID", spanID),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
		slog.String("tlsNegotiatedProtocol", tconn.NegotiatedALPN),
		slog.String("tlsServerName", op.Config.ServerName),
	)
}
