// SPDX-License-Identifier: GPL-3.0-or-later

package netcore

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webengine-project/netcore/socket"
	"github.com/webengine-project/netcore/tlsconn"
)

func openSocket(t *testing.T, conn net.Conn) *socket.Socket {
	t.Helper()
	dialer := &funcDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			return conn, nil
		},
	}
	s := socket.New(socket.TransportStream, dialer, nil)
	require.NoError(t, s.Connect(context.Background(), netip.MustParseAddrPort("93.184.216.34:443"), socket.Options{}))
	return s
}

// NewTLSHandshakeFunc populates all fields from Config and the provided config/logger.
func TestNewTLSHandshakeFunc(t *testing.T) {
	cfg := NewConfig()
	tlsConfig := tlsconn.NewConfig("example.com")

	fn := NewTLSHandshakeFunc(cfg, tlsConfig, DefaultSLogger())

	require.NotNil(t, fn)
	assert.Same(t, tlsConfig, fn.Config)
	assert.NotNil(t, fn.Logger)
	assert.NotNil(t, fn.TimeNow)
	assert.NotNil(t, fn.ErrClassifier)
}

// NewTLSHandshakeFunc panics on a nil tlsConfig.
func TestNewTLSHandshakeFuncNilConfigPanics(t *testing.T) {
	cfg := NewConfig()
	assert.Panics(t, func() {
		NewTLSHandshakeFunc(cfg, nil, DefaultSLogger())
	})
}

// Call closes the input socket and returns an error when the handshake fails.
func TestTLSHandshakeFuncFailureClosesSocket(t *testing.T) {
	cfg := NewConfig()
	wantErr := errors.New("write error")

	conn := newMinimalConn()
	conn.WriteFunc = func(b []byte) (int, error) { return 0, wantErr }
	closed := false
	conn.CloseFunc = func() error { closed = true; return nil }

	s := openSocket(t, conn)

	fn := NewTLSHandshakeFunc(cfg, tlsconn.NewConfig("example.com"), DefaultSLogger())
	tconn, err := fn.Call(context.Background(), s)

	require.Error(t, err)
	assert.Nil(t, tconn)
	assert.True(t, closed)
	assert.Equal(t, socket.StateClosed, s.State())
}

// Call emits tlsHandshakeStart/tlsHandshakeDone log events even on failure.
func TestTLSHandshakeFuncLogging(t *testing.T) {
	cfg := NewConfig()

	conn := newMinimalConn()
	conn.WriteFunc = func(b []byte) (int, error) { return 0, errors.New("write error") }
	conn.CloseFunc = func() error { return nil }

	s := openSocket(t, conn)
	logger, records := newCapturingLogger()

	fn := NewTLSHandshakeFunc(cfg, tlsconn.NewConfig("example.com"), logger)
	_, err := fn.Call(context.Background(), s)
	require.Error(t, err)

	require.Len(t, *records, 2)
	assert.Equal(t, "tlsHandshakeStart", (*records)[0].Message)
	assert.Equal(t, "tlsHandshakeDone", (*records)[1].Message)
}
