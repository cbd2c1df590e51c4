//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: the nop package's connect.go (dialer abstraction) and
// observeconn.go (the Start/Done + per-I/O logging shape, reproduced
// here as the Logger/ErrClassifier fields below since this package
// cannot import the root package's concrete types without an import
// cycle), generalized into an explicit state machine per §4.1.
//

// Package socket implements the Socket abstraction (§4.1 of the network
// stack core spec): a state-machined wrapper over an OS-provided stream
// or datagram transport.
package socket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webengine-project/netcore/internal/errclass"
	"github.com/webengine-project/netcore/internal/safeconn"
	"github.com/webengine-project/netcore/internal/sockopts"
)

// SLogger abstracts the logging behavior Socket needs. It is structurally
// compatible with (but deliberately not the same type as) the root
// package's SLogger, since socket cannot import netcore without creating
// an import cycle (netcore imports socket via ConnectFunc).
type SLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// discardLogger is the default SLogger: it discards everything.
type discardLogger struct{}

func (discardLogger) Debug(msg string, args ...any) {}
func (discardLogger) Info(msg string, args ...any)  {}

// ErrClassifier classifies errors for structured logging. Structurally
// compatible with the root package's ErrClassifier for the same reason
// as SLogger above.
type ErrClassifier interface {
	Classify(err error) string
}

// ErrClassifierFunc adapts a function to the [ErrClassifier] interface.
type ErrClassifierFunc func(error) string

// Classify implements [ErrClassifier].
func (f ErrClassifierFunc) Classify(err error) string { return f(err) }

// defaultErrClassifier classifies errors the same way the root package's
// DefaultErrClassifier does, via the shared internal/errclass package.
var defaultErrClassifier = ErrClassifierFunc(errclass.New)

// State is a [Socket] lifecycle state.
type State int

const (
	// StateClosed is the initial and final state.
	StateClosed State = iota
	// StateOpening is entered by [Socket.Connect] until the dial completes.
	StateOpening
	// StateOpen is entered once the transport is ready for I/O.
	StateOpen
	// StateClosing is entered while [Socket.Close] tears down the transport.
	StateClosing
	// StateError is reachable from any non-terminal state on failure.
	StateError
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpening:
		return "OPENING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Transport selects the OS transport a [Socket] dials.
type Transport string

const (
	// TransportStream is TCP.
	TransportStream Transport = "tcp"
	// TransportDatagram is UDP.
	TransportDatagram Transport = "udp"
)

// ErrInvalidState is returned when an operation is attempted from a
// state that does not permit it (spec: StateError).
var ErrInvalidState = errors.New("socket: invalid state for operation")

// ErrEndOfStream is the sentinel [Socket.Read] returns when the peer
// has closed the stream cleanly (a clean EOF, not a transport failure).
var ErrEndOfStream = errors.New("socket: end of stream")

// Dialer abstracts [*net.Dialer] so tests can inject alternative dialers.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Stats is an immutable snapshot of a [Socket]'s cumulative statistics.
//
// Snapshots are independent: mutating the live socket after a snapshot
// was taken must not change any field of a previously returned Stats.
type Stats struct {
	BytesIn    uint64
	BytesOut   uint64
	ReadOps    uint64
	WriteOps   uint64
	Errors     uint64
	OpenedAt   time.Time
	LastActive time.Time
}

// nextDescriptor hands out process-local, monotonic socket descriptors.
var nextDescriptor atomic.Int64

// Socket wraps an OS stream/datagram transport with an explicit state
// machine, endpoint bookkeeping, and cumulative statistics.
//
// A Socket must not be copied after first use; use a pointer.
type Socket struct {
	mu         sync.Mutex
	descriptor int64
	transport  Transport
	state      State
	localAddr  string
	localPort  int
	remoteAddr string
	remotePort int
	conn       net.Conn
	dialer     Dialer
	options    Options
	timeNow    func() time.Time
	bytesIn    uint64
	bytesOut   uint64
	readOps    uint64
	writeOps   uint64
	errs       uint64
	openedAt   time.Time
	lastActive time.Time

	// Logger is the SLogger per-I/O events (read, write, close) are
	// logged to. Safe to set after [New] but before the first call to
	// [Socket.Connect]; must not be mutated concurrently with calls.
	Logger SLogger

	// ErrClassifier classifies errors for the log events above.
	ErrClassifier ErrClassifier

	// SpanID correlates this socket's log events with the operation that
	// created it (e.g. a higher-level dial or pool acquire). Left empty
	// by [New]; set it before [Socket.Connect] to correlate.
	SpanID string
}

// New returns a [Socket] in [StateClosed], ready to [Socket.Connect].
//
// The dialer argument is used to establish the transport; pass nil to
// use [*net.Dialer]. The timeNow argument customizes the clock used for
// statistics timestamps (for deterministic tests); pass nil for [time.Now].
func New(transport Transport, dialer Dialer, timeNow func() time.Time) *Socket {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	if timeNow == nil {
		timeNow = time.Now
	}
	return &Socket{
		descriptor:    nextDescriptor.Add(1),
		transport:     transport,
		state:         StateClosed,
		dialer:        dialer,
		timeNow:       timeNow,
		Logger:        discardLogger{},
		ErrClassifier: defaultErrClassifier,
	}
}

// Descriptor returns the socket's process-local, monotonic descriptor.
func (s *Socket) Descriptor() int64 {
	return s.descriptor
}

// State returns the socket's current lifecycle state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LocalAddress returns the local address, or "" until [StateOpen].
func (s *Socket) LocalAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localAddr
}

// LocalPort returns the local port, or 0 until [StateOpen].
func (s *Socket) LocalPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localPort
}

// RemoteAddress returns the remote address, or "" until [StateOpen].
func (s *Socket) RemoteAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteAddr
}

// RemotePort returns the remote port, or 0 until [StateOpen].
func (s *Socket) RemotePort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remotePort
}

// Options enumerates the socket options of §4.1/§6. An implementation
// may ignore options the OS or transport does not expose.
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

// Connect dials address and transitions CLOSED -> OPENING -> OPEN on
// success, or OPENING -> ERROR on failure. It requires [StateClosed].
func (s *Socket) Connect(ctx context.Context, address netip.AddrPort, opts Options) error {
	s.mu.Lock()
	if s.state != StateClosed {
		s.mu.Unlock()
		return fmt.Errorf("%w: connect requires CLOSED, have %s", ErrInvalidState, s.state)
	}
	s.state = StateOpening
	s.options = opts
	s.mu.Unlock()

	network := string(s.transport)
	conn, err := s.dialer.DialContext(ctx, network, address.String())

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateError
		s.errs++
		return fmt.Errorf("socket: connect: %w", err)
	}

	sockopts.Apply(conn, opts.asSockoptsOptions())

	s.conn = conn
	s.state = StateOpen
	s.localAddr, s.localPort = splitHostPort(safeconn.LocalAddr(conn))
	s.remoteAddr, s.remotePort = splitHostPort(safeconn.RemoteAddr(conn))
	now := s.timeNow()
	s.openedAt = now
	s.lastActive = now
	return nil
}

// Read requires [StateOpen]. It returns bytes read, or [ErrEndOfStream]
// when the peer has closed the stream cleanly. A failure transitions
// the socket to [StateError].
func (s *Socket) Read(buf []byte) (int, error) {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: read requires OPEN, have %s", ErrInvalidState, s.state)
	}
	conn := s.conn
	s.readOps++
	s.mu.Unlock()

	t0 := s.timeNow()
	s.logIOStart("socketReadStart", t0, len(buf))
	n, err := conn.Read(buf)
	s.logIODone("socketReadDone", t0, n, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = s.timeNow()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n, ErrEndOfStream
		}
		s.state = StateError
		s.errs++
		return n, fmt.Errorf("socket: read: %w", err)
	}
	s.bytesIn += uint64(n)
	return n, nil
}

// Write requires [StateOpen]. It returns bytes written, which may be
// less than len(data); the caller is responsible for looping. A
// failure transitions the socket to [StateError].
func (s *Socket) Write(data []byte) (int, error) {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: write requires OPEN, have %s", ErrInvalidState, s.state)
	}
	conn := s.conn
	s.writeOps++
	s.mu.Unlock()

	t0 := s.timeNow()
	s.logIOStart("socketWriteStart", t0, len(data))
	n, err := conn.Write(data)
	s.logIODone("socketWriteDone", t0, n, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = s.timeNow()
	if err != nil {
		s.state = StateError
		s.errs++
		return n, fmt.Errorf("socket: write: %w", err)
	}
	s.bytesOut += uint64(n)
	return n, nil
}

// logIOStart emits the Debug-level *Start event for a read or write,
// with the field set the rest of the module uses: localAddr, remoteAddr,
// protocol, t, plus ioBufferSize and the spanID correlating it with the
// Connect that opened this socket.
func (s *Socket) logIOStart(event string, t0 time.Time, bufSize int) {
	s.mu.Lock()
	localAddr, remoteAddr, spanID := s.localAddr, s.remoteAddr, s.SpanID
	logger := s.Logger
	s.mu.Unlock()

	logger.Debug(
		event,
		slog.Int("ioBufferSize", bufSize),
		slog.String("localAddr", localAddr),
		slog.String("protocol", string(s.transport)),
		slog.String("remoteAddr", remoteAddr),
		slog.String("spanID", spanID),
		slog.Time("t", t0),
	)
}

// logIODone emits the Debug-level *Done event matching logIOStart.
func (s *Socket) logIODone(event string, t0 time.Time, n int, err error) {
	s.mu.Lock()
	localAddr, remoteAddr, spanID := s.localAddr, s.remoteAddr, s.SpanID
	logger, classifier := s.Logger, s.ErrClassifier
	s.mu.Unlock()

	logger.Debug(
		event,
		slog.Int("ioBytesCount", n),
		slog.Any("err", err),
		slog.String("errClass", classifier.Classify(err)),
		slog.String("localAddr", localAddr),
		slog.String("protocol", string(s.transport)),
		slog.String("remoteAddr", remoteAddr),
		slog.String("spanID", spanID),
		slog.Time("t0", t0),
		slog.Time("t", s.timeNow()),
	)
}

// Close transitions CLOSED/CLOSING -> CLOSED as a no-op, or any other
// state through CLOSING to CLOSED. Close is idempotent and synchronous.
func (s *Socket) Close() error {
	s.mu.Lock()
	switch s.state {
	case StateClosed, StateClosing:
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	conn := s.conn
	localAddr, remoteAddr, spanID := s.localAddr, s.remoteAddr, s.SpanID
	logger, classifier := s.Logger, s.ErrClassifier
	s.mu.Unlock()

	t0 := s.timeNow()
	logger.Info(
		"socketCloseStart",
		slog.String("localAddr", localAddr),
		slog.String("protocol", string(s.transport)),
		slog.String("remoteAddr", remoteAddr),
		slog.String("spanID", spanID),
		slog.Time("t", t0),
	)

	var err error
	if conn != nil {
		err = conn.Close()
	}

	logger.Info(
		"socketCloseDone",
		slog.Any("err", err),
		slog.String("errClass", classifier.Classify(err)),
		slog.String("localAddr", localAddr),
		slog.String("protocol", string(s.transport)),
		slog.String("remoteAddr", remoteAddr),
		slog.String("spanID", spanID),
		slog.Time("t0", t0),
		slog.Time("t", s.timeNow()),
	)

	s.mu.Lock()
	s.state = StateClosed
	if err != nil {
		s.errs++
	}
	s.mu.Unlock()
	return err
}

// GetStats returns an independent snapshot of cumulative statistics.
func (s *Socket) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		BytesIn:    s.bytesIn,
		BytesOut:   s.bytesOut,
		ReadOps:    s.readOps,
		WriteOps:   s.writeOps,
		Errors:     s.errs,
		OpenedAt:   s.openedAt,
		LastActive: s.lastActive,
	}
}

// Underlying returns the wrapped [net.Conn], or nil before [StateOpen].
//
// This escape hatch exists for higher layers (TLS, pooling) that need
// the raw connection; it does not participate in the state machine.
func (s *Socket) Underlying() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func splitHostPort(hostport string) (string, int) {
	if hostport == "" {
		return "", 0
	}
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, 0
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return host, port
}

func (o Options) asSockoptsOptions() sockopts.Options {
	return sockopts.Options{
		TCPNoDelay:      o.TCPNoDelay,
		TCPKeepAlive:    o.TCPKeepAlive,
		TCPKeepIdle:     o.TCPKeepIdle,
		TCPKeepInterval: o.TCPKeepInterval,
		TCPKeepCount:    o.TCPKeepCount,
		ReuseAddr:       o.ReuseAddr,
		ReusePort:       o.ReusePort,
		RecvBuf:         o.RecvBuf,
		SendBuf:         o.SendBuf,
		RecvTimeout:     o.RecvTimeout,
		SendTimeout:     o.SendTimeout,
		LingerEnabled:   o.LingerEnabled,
		LingerTimeout:   o.LingerTimeout,
	}
}
