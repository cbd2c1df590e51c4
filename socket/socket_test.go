// SPDX-License-Identifier: GPL-3.0-or-later

package socket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHandler is a [slog.Handler] that appends every logged
// [slog.Record] to a shared slice, mirroring the root package's test
// double of the same name.
type recordingHandler struct {
	records *[]slog.Record
}

func (h recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h recordingHandler) Handle(_ context.Context, r slog.Record) error {
	*h.records = append(*h.records, r)
	return nil
}

func (h recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h recordingHandler) WithGroup(string) slog.Handler { return h }

func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	records := &[]slog.Record{}
	return slog.New(recordingHandler{records: records}), records
}

var (
	assertErr = errors.New("boom")
	ioEOF     = io.EOF
)

type fakeDialer struct {
	conn net.Conn
	err  error
}

func (d *fakeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return d.conn, d.err
}

type fakeConn struct {
	net.Conn
	readN  int
	readErr error
	writeN int
	writeErr error
	closed bool
	local  net.Addr
	remote net.Addr
}

func (c *fakeConn) Read(b []byte) (int, error)  { return c.readN, c.readErr }
func (c *fakeConn) Write(b []byte) (int, error) { return c.writeN, c.writeErr }
func (c *fakeConn) Close() error                { c.closed = true; return nil }
func (c *fakeConn) LocalAddr() net.Addr         { return c.local }
func (c *fakeConn) RemoteAddr() net.Addr        { return c.remote }
func (c *fakeConn) SetDeadline(time.Time) error { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func mustAddr(s string) net.Addr {
	addr, err := net.ResolveTCPAddr("tcp", s)
	if err != nil {
		panic(err)
	}
	return addr
}

func TestSocketLifecycleHappyPath(t *testing.T) {
	conn := &fakeConn{
		local:  mustAddr("127.0.0.1:5555"),
		remote: mustAddr("93.184.216.34:443"),
		readN:  4,
		writeN: 4,
	}
	s := New(TransportStream, &fakeDialer{conn: conn}, nil)
	require.Equal(t, StateClosed, s.State())

	err := s.Connect(context.Background(), netip.MustParseAddrPort("93.184.216.34:443"), Options{})
	require.NoError(t, err)
	assert.Equal(t, StateOpen, s.State())
	assert.Equal(t, "127.0.0.1", s.LocalAddress())
	assert.Equal(t, 5555, s.LocalPort())
	assert.Equal(t, "93.184.216.34", s.RemoteAddress())
	assert.Equal(t, 443, s.RemotePort())

	n, err := s.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = s.Read(make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	stats := s.GetStats()
	assert.Equal(t, uint64(4), stats.BytesIn)
	assert.Equal(t, uint64(4), stats.BytesOut)
	assert.Equal(t, uint64(1), stats.ReadOps)
	assert.Equal(t, uint64(1), stats.WriteOps)
	assert.Equal(t, uint64(0), stats.Errors)

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
	assert.True(t, conn.closed)

	// Close is idempotent.
	require.NoError(t, s.Close())
}

func TestSocketConnectRequiresClosed(t *testing.T) {
	s := New(TransportStream, &fakeDialer{conn: &fakeConn{}}, nil)
	require.NoError(t, s.Connect(context.Background(), netip.MustParseAddrPort("1.2.3.4:80"), Options{}))

	err := s.Connect(context.Background(), netip.MustParseAddrPort("1.2.3.4:80"), Options{})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSocketConnectFailureEntersError(t *testing.T) {
	s := New(TransportStream, &fakeDialer{err: assertErr}, nil)
	err := s.Connect(context.Background(), netip.MustParseAddrPort("1.2.3.4:80"), Options{})
	require.Error(t, err)
	assert.Equal(t, StateError, s.State())
	assert.Equal(t, uint64(1), s.GetStats().Errors)
	assert.Equal(t, "", s.LocalAddress())
}

func TestSocketReadRequiresOpen(t *testing.T) {
	s := New(TransportStream, &fakeDialer{conn: &fakeConn{}}, nil)
	_, err := s.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSocketReadEndOfStream(t *testing.T) {
	conn := &fakeConn{readErr: ioEOF}
	s := New(TransportStream, &fakeDialer{conn: conn}, nil)
	require.NoError(t, s.Connect(context.Background(), netip.MustParseAddrPort("1.2.3.4:80"), Options{}))

	_, err := s.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrEndOfStream)
	// end-of-stream is not a transport error: the socket stays OPEN.
	assert.Equal(t, StateOpen, s.State())
}

func TestSocketWriteFailureEntersErrorAndIncrementsErrorsOnce(t *testing.T) {
	conn := &fakeConn{writeErr: assertErr}
	s := New(TransportStream, &fakeDialer{conn: conn}, nil)
	require.NoError(t, s.Connect(context.Background(), netip.MustParseAddrPort("1.2.3.4:80"), Options{}))

	_, err := s.Write([]byte("x"))
	require.Error(t, err)
	assert.Equal(t, StateError, s.State())
	assert.Equal(t, uint64(1), s.GetStats().Errors)
}

func TestSocketStatsSnapshotIsIndependent(t *testing.T) {
	conn := &fakeConn{writeN: 1}
	s := New(TransportStream, &fakeDialer{conn: conn}, nil)
	require.NoError(t, s.Connect(context.Background(), netip.MustParseAddrPort("1.2.3.4:80"), Options{}))

	snap := s.GetStats()
	_, _ = s.Write([]byte("x"))
	assert.Equal(t, uint64(0), snap.BytesOut, "prior snapshot must not see later mutations")
	assert.Equal(t, uint64(1), s.GetStats().BytesOut)
}

// Write emits a socketWriteStart/socketWriteDone pair at Debug.
func TestSocketWriteLogsStartAndDone(t *testing.T) {
	conn := &fakeConn{writeN: 1}
	s := New(TransportStream, &fakeDialer{conn: conn}, nil)
	logger, records := newCapturingLogger()
	s.Logger = logger
	require.NoError(t, s.Connect(context.Background(), netip.MustParseAddrPort("1.2.3.4:80"), Options{}))

	_, err := s.Write([]byte("x"))
	require.NoError(t, err)

	require.Len(t, *records, 2)
	assert.Equal(t, "socketWriteStart", (*records)[0].Message)
	assert.Equal(t, "socketWriteDone", (*records)[1].Message)
}

// Close emits a socketCloseStart/socketCloseDone pair at Info.
func TestSocketCloseLogsStartAndDone(t *testing.T) {
	conn := &fakeConn{}
	s := New(TransportStream, &fakeDialer{conn: conn}, nil)
	logger, records := newCapturingLogger()
	s.Logger = logger
	require.NoError(t, s.Connect(context.Background(), netip.MustParseAddrPort("1.2.3.4:80"), Options{}))

	require.NoError(t, s.Close())

	require.Len(t, *records, 2)
	assert.Equal(t, "socketCloseStart", (*records)[0].Message)
	assert.Equal(t, "socketCloseDone", (*records)[1].Message)
}
