// SPDX-License-Identifier: GPL-3.0-or-later

package dns

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webengine-project/netcore/dnswire"
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

// echoConn is a net.Conn fake: its Write captures the query and
// synthesizes a matching DNS response that the subsequent Read
// returns, modeled on the teacher's function-field fake-conn idiom.
type echoConn struct {
	net.Conn
	addresses []string
	response  []byte
	readDone  bool
}

func (c *echoConn) Write(b []byte) (int, error) {
	c.response = buildResponse(b, c.addresses...)
	return len(b), nil
}

func (c *echoConn) Read(b []byte) (int, error) {
	if c.readDone || c.response == nil {
		return 0, io.EOF
	}
	c.readDone = true
	return copy(b, c.response), nil
}

func (c *echoConn) Close() error                    { return nil }
func (c *echoConn) SetDeadline(time.Time) error      { return nil }
func (c *echoConn) SetReadDeadline(time.Time) error  { return nil }
func (c *echoConn) SetWriteDeadline(time.Time) error { return nil }

type fakeDialer struct {
	conn net.Conn
	err  error
}

func (d *fakeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return d.conn, d.err
}

// buildResponse parses query (a marshaled dnswire.Query) and
// synthesizes a matching NOERROR response carrying one A record per
// address.
func buildResponse(query []byte, addresses ...string) []byte {
	q, err := dnswire.ParseQuery(query)
	if err != nil {
		return nil
	}
	h := dnswire.Header{
		ID: q.ID, QR: true, RD: true, RA: true,
		RCode: dnswire.RCodeSuccess, QDCount: 1, ANCount: uint16(len(addresses)),
	}
	msg := h.Marshal()

	nameWire, _ := dnswire.EncodeName(q.Question.Name)
	msg = append(msg, nameWire...)
	msg = append(msg, byte(q.Question.Type>>8), byte(q.Question.Type))
	msg = append(msg, byte(q.Question.Class>>8), byte(q.Question.Class))

	for _, addr := range addresses {
		msg = append(msg, nameWire...)
		msg = append(msg, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x00, 0x3C, 0x00, 0x04)
		msg = append(msg, net.ParseIP(addr).To4()...)
	}
	return msg
}

func TestResolverUDPHappyPath(t *testing.T) {
	cfg := NewConfig()
	cfg.Nameservers = []string{"8.8.8.8:53"}
	r := NewResolver(cfg)
	r.Dialer = &fakeDialer{conn: &echoConn{addresses: []string{"93.184.216.34"}}}

	result, err := r.Resolve(context.Background(), "example.com", dnswire.TypeA)
	require.NoError(t, err)
	assert.Equal(t, "example.com", result.Hostname)
	assert.Contains(t, result.Addresses, "93.184.216.34")
	assert.Equal(t, 60*time.Second, result.TTL)
}

// exchangeUDP logs a dnsExchangeStart/dnsExchangeDone pair sharing a
// single spanID, and wraps the dialed connection with CancelWatch so
// that the exchange's lifetime tracks its context.
func TestResolverUDPLogsExchangeWithSharedSpanID(t *testing.T) {
	cfg := NewConfig()
	cfg.Nameservers = []string{"8.8.8.8:53"}
	r := NewResolver(cfg)
	r.Dialer = &fakeDialer{conn: &echoConn{addresses: []string{"93.184.216.34"}}}
	logger, records := newCapturingLogger()
	r.Logger = logger

	_, err := r.Resolve(context.Background(), "example.com", dnswire.TypeA)
	require.NoError(t, err)

	require.Len(t, *records, 2)
	assert.Equal(t, "dnsExchangeStart", (*records)[0].Message)
	assert.Equal(t, "dnsExchangeDone", (*records)[1].Message)

	var startSpan, doneSpan string
	(*records)[0].Attrs(func(a slog.Attr) bool {
		if a.Key == "spanID" {
			startSpan = a.Value.String()
		}
		return true
	})
	(*records)[1].Attrs(func(a slog.Attr) bool {
		if a.Key == "spanID" {
			doneSpan = a.Value.String()
		}
		return true
	})
	assert.NotEmpty(t, startSpan)
	assert.Equal(t, startSpan, doneSpan)
}

func TestResolverFallsBackToNextNameserverOnFailure(t *testing.T) {
	cfg := NewConfig()
	cfg.Nameservers = []string{"10.0.0.1:53", "8.8.8.8:53"}
	r := NewResolver(cfg)

	calls := 0
	r.Dialer = dialerFunc(func(ctx context.Context, network, address string) (net.Conn, error) {
		calls++
		if address == "10.0.0.1:53" {
			return nil, net.ErrClosed
		}
		return &echoConn{addresses: []string{"1.2.3.4"}}, nil
	})

	result, err := r.Resolve(context.Background(), "example.com", dnswire.TypeA)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Contains(t, result.Addresses, "1.2.3.4")
}

type dialerFunc func(ctx context.Context, network, address string) (net.Conn, error)

func (f dialerFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}

func TestResolverAllNameserversFail(t *testing.T) {
	cfg := NewConfig()
	cfg.Nameservers = []string{"127.0.0.1:1"}
	r := NewResolver(cfg)
	r.Dialer = &fakeDialer{err: net.ErrClosed}

	_, err := r.Resolve(context.Background(), "example.com", dnswire.TypeA)
	assert.Error(t, err)
}

func TestResolverDoHHappyPath(t *testing.T) {
	var gotQuery []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		raw := req.URL.Query().Get("dns")
		decoded, err := base64.RawURLEncoding.DecodeString(raw)
		require.NoError(t, err)
		gotQuery = decoded
		assert.Equal(t, "application/dns-message", req.Header.Get("Accept"))

		w.Header().Set("Content-Type", "application/dns-message")
		w.Write(buildResponse(decoded, "93.184.216.34"))
	}))
	defer srv.Close()

	cfg := NewConfig()
	cfg.DoHEndpoint = srv.URL
	r := NewResolver(cfg)

	result, err := r.Resolve(context.Background(), "example.com", dnswire.TypeA)
	require.NoError(t, err)
	assert.NotEmpty(t, gotQuery)
	assert.Contains(t, result.Addresses, "93.184.216.34")
}

func TestResolverDoHFallsBackToUDPOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := NewConfig()
	cfg.DoHEndpoint = srv.URL
	cfg.Nameservers = []string{"8.8.8.8:53"}
	r := NewResolver(cfg)
	r.Dialer = &fakeDialer{conn: &echoConn{addresses: []string{"93.184.216.34"}}}

	result, err := r.Resolve(context.Background(), "example.com", dnswire.TypeA)
	require.NoError(t, err)
	assert.Contains(t, result.Addresses, "93.184.216.34")
}
