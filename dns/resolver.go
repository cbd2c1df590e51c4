// SPDX-License-Identifier: GPL-3.0-or-later
//
// Grounded on: bassosimone-nop's dnsoverudp.go/dnsexchange.go (logging
// context shape, Start/Done span logging) and jroosing-HydraDNS's
// internal/dns codec (message construction/parsing).

// Package dns implements the resolver and cache of §4.4 of the network
// stack core: DoH-first-then-UDP-nameserver resolution on top of the
// dnswire codec, and a TTL-aware result cache.
package dns

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/net/idna"

	"github.com/webengine-project/netcore"
	"github.com/webengine-project/netcore/dnswire"
)

// defaultTTL is used when a response carries no records to derive a
// minimum TTL from (§4.4).
const defaultTTL = 300 * time.Second

// Result is the outcome of a successful resolve call.
type Result struct {
	Hostname  string
	Addresses []string
	TTL       time.Duration
	Timestamp time.Time
}

// rcodeError maps a non-success RCode to a descriptive error, per §4.4's
// enumeration (1=format error ... 5=refused).
type rcodeError struct {
	RCode dnswire.RCode
}

func (e *rcodeError) Error() string {
	return fmt.Sprintf("dns: server returned %s", e.RCode)
}

// Resolver resolves hostnames via DoH (if configured) then UDP
// nameservers in order, per §4.4.
//
// All fields are safe to modify after construction but before first use
// of Resolve. Fields must not be mutated concurrently with Resolve.
type Resolver struct {
	// Config holds the nameserver list, optional DoH endpoint, and
	// HTTP client.
	Config *Config

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier netcore.ErrClassifier

	// Logger is the SLogger to use.
	Logger netcore.SLogger

	// TimeNow is the function to get the current time (configurable
	// for testing).
	TimeNow func() time.Time

	// Dialer dials the UDP connection used for nameserver exchanges.
	// A nil value causes a *net.Dialer to be used.
	Dialer interface {
		DialContext(ctx context.Context, network, address string) (net.Conn, error)
	}

	// CancelWatch closes an in-flight UDP exchange's connection as soon
	// as ctx is done, instead of waiting for the read/write to notice.
	CancelWatch *netcore.CancelWatchFunc
}

// NewResolver returns a new *Resolver wired to cfg's nameservers/DoH
// endpoint, with default logging and error classification.
func NewResolver(cfg *Config) *Resolver {
	return &Resolver{
		Config:        cfg,
		ErrClassifier: netcore.DefaultErrClassifier,
		Logger:        netcore.DefaultSLogger(),
		TimeNow:       time.Now,
		Dialer:        &net.Dialer{},
		CancelWatch:   netcore.NewCancelWatchFunc(),
	}
}

// Resolve looks up hostname's records of the given type, trying DoH
// first (if configured) then each UDP nameserver in order (§4.4).
func (r *Resolver) Resolve(ctx context.Context, hostname string, qtype dnswire.RecordType) (Result, error) {
	asciiName, err := idna.Lookup.ToASCII(hostname)
	if err != nil {
		return Result{}, fmt.Errorf("dns: invalid hostname %q: %w", hostname, err)
	}

	id, err := randomQueryID()
	if err != nil {
		return Result{}, err
	}
	query := dnswire.Query{
		ID: id,
		RD: true,
		Question: dnswire.Question{
			Name:  asciiName,
			Type:  qtype,
			Class: dnswire.ClassIN,
		},
	}
	wire, err := query.Marshal()
	if err != nil {
		return Result{}, err
	}

	var lastErr error

	if r.Config.DoHEndpoint != "" {
		resp, err := r.exchangeDoH(ctx, wire)
		if err == nil {
			return r.buildResult(asciiName, resp)
		}
		lastErr = err
		r.Logger.Info("dnsDoHFallback", slog.Any("err", err), slog.String("errClass", r.ErrClassifier.Classify(err)))
	}

	for _, ns := range r.Config.Nameservers {
		resp, err := r.exchangeUDP(ctx, ns, wire)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Header.RCode != dnswire.RCodeSuccess {
			lastErr = &rcodeError{RCode: resp.Header.RCode}
			continue
		}
		return r.buildResult(asciiName, resp)
	}

	if lastErr == nil {
		lastErr = errors.New("dns: no nameservers configured")
	}
	return Result{}, fmt.Errorf("dns: resolve %q failed: %w", hostname, lastErr)
}

// buildResult collapses a parsed response into a Result. A CNAME answer
// updates the reported hostname to the alias target but is not chased
// with a further query in this core (§9 open question).
func (r *Resolver) buildResult(hostname string, resp dnswire.Response) (Result, error) {
	addrs := make([]string, 0, len(resp.Answers))
	minTTL := defaultTTL
	haveTTL := false
	for _, rec := range resp.Answers {
		switch rec.Type {
		case dnswire.TypeA, dnswire.TypeAAAA:
			if v, ok := rec.RData.(string); ok {
				addrs = append(addrs, v)
			}
		case dnswire.TypeCNAME:
			if v, ok := rec.RData.(string); ok {
				hostname = v
			}
		}
		ttl := time.Duration(rec.TTL) * time.Second
		if !haveTTL || ttl < minTTL {
			minTTL = ttl
			haveTTL = true
		}
	}
	return Result{
		Hostname:  hostname,
		Addresses: addrs,
		TTL:       minTTL,
		Timestamp: r.TimeNow(),
	}, nil
}

// exchangeUDP dials nameserver, sends query, and reads one response
// datagram. The dialed connection's lifetime matches ctx exactly (one
// exchange, no reuse), so it is wrapped with [netcore.CancelWatchFunc]:
// a cancelled or expired ctx closes it immediately instead of waiting
// for the read/write to notice, which is exactly the primitive's
// documented positive use case.
func (r *Resolver) exchangeUDP(ctx context.Context, nameserver string, query []byte) (dnswire.Response, error) {
	spanID := netcore.NewSpanID()
	t0 := r.TimeNow()
	deadline, _ := ctx.Deadline()
	r.Logger.Info(
		"dnsExchangeStart",
		slog.String("serverProtocol", "udp"),
		slog.String("remoteAddr", nameserver),
		slog.String("spanID", spanID),
		slog.Time("t", t0),
		slog.Time("deadline", deadline),
	)

	conn, err := r.Dialer.DialContext(ctx, "udp", nameserver)
	if err != nil {
		r.logDone(t0, spanID, "udp", nameserver, err)
		return dnswire.Response{}, err
	}
	conn, _ = r.CancelWatch.Call(ctx, conn) // never errors; see CancelWatchFunc.Call
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	if _, err := conn.Write(query); err != nil {
		r.logDone(t0, spanID, "udp", nameserver, err)
		return dnswire.Response{}, err
	}

	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		r.logDone(t0, spanID, "udp", nameserver, err)
		return dnswire.Response{}, err
	}

	resp, err := dnswire.ParseResponse(buf[:n])
	r.logDone(t0, spanID, "udp", nameserver, err)
	if err != nil {
		return dnswire.Response{}, err
	}
	return resp, nil
}

func (r *Resolver) logDone(t0 time.Time, spanID, proto, remoteAddr string, err error) {
	r.Logger.Info(
		"dnsExchangeDone",
		slog.String("serverProtocol", proto),
		slog.String("remoteAddr", remoteAddr),
		slog.Any("err", err),
		slog.String("errClass", r.ErrClassifier.Classify(err)),
		slog.String("spanID", spanID),
		slog.Time("t0", t0),
		slog.Time("t", r.TimeNow()),
	)
}

func randomQueryID() (uint16, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("dns: failed to generate query id: %w", err)
	}
	return binary.BigEndian.Uint16(b[:]), nil
}
