// SPDX-License-Identifier: GPL-3.0-or-later
//
// Grounded on: the socket package's mutex-guarded-stats idiom
// (socket/socket.go) and dns/cache.go's map-of-entries-with-TTL-style
// bookkeeping, generalized to the per-origin pool of §4.9. Capacity
// limiting uses golang.org/x/sync/semaphore, a real pack dependency:
// each bucket's semaphore holds one weight unit per IN_USE entry, so
// acquiring a unit models exactly the "count IN_USE entries against
// the per-origin limit" rule below.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/webengine-project/netcore"
	"github.com/webengine-project/netcore/socket"
	"github.com/webengine-project/netcore/tlsconn"
)

// maxConnectionsPerOrigin bounds concurrent connections to one origin.
const maxConnectionsPerOrigin = 6

// maxIdleTime is how long an IDLE connection remains eligible for reuse.
const maxIdleTime = 60 * time.Second

// autoCleanupInterval is the pool configuration's auto-cleanup period.
// No code in this module reads it: the pool runs no timer of its own,
// and [manager.Manager] calls CloseIdleConnections from each
// health-check sweep instead.
const autoCleanupInterval = 30 * time.Second

// acquirePollInterval is how often [Pool.Acquire] polls for capacity
// once an origin is at its connection limit.
const acquirePollInterval = 10 * time.Millisecond

// emaAlpha is the smoothing factor for the average-wait-time EMA.
const emaAlpha = 0.1

// State is a pooled connection's lifecycle state.
type State int

// Pooled connection states.
const (
	StateIdle State = iota
	StateInUse
	StateClosed
	StateError
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateInUse:
		return "IN_USE"
	case StateClosed:
		return "CLOSED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Conn is the minimal connection surface a [Pool] manages: either a
// bare [*socket.Socket] or a [*tlsconn.Conn] wrapping one.
type Conn interface {
	Close() error
}

// Entry is one pooled connection and its bookkeeping, per §4.9.
type Entry struct {
	mu         sync.Mutex
	Origin     string
	Conn       Conn
	Socket     *socket.Socket
	TLS        *tlsconn.Conn
	state      State
	useCount   uint64
	lastUsedAt time.Time
	bucket     *bucket
}

// State returns the entry's current lifecycle state.
func (e *Entry) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// UseCount returns the number of times this entry has been acquired.
func (e *Entry) UseCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.useCount
}

// LastUsedAt returns the entry's last-touched timestamp.
func (e *Entry) LastUsedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastUsedAt
}

// Dialer abstracts dialing a fresh TCP connection for a pool miss.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// TLSDialer wraps a freshly dialed TCP connection in a client TLS
// handshake.
type TLSDialer func(ctx context.Context, underlying net.Conn, serverName string) (*tlsconn.Conn, error)

// Stats is an immutable snapshot of a [Pool]'s cumulative statistics,
// per §4.9's getStats.
type Stats struct {
	TotalConnections  int
	ActiveConnections int
	IdleConnections   int
	ReuseCount        uint64
	MissCount         uint64
	ErrorCount        uint64
	AverageWaitTime   time.Duration
	LastUpdated       time.Time
}

type bucket struct {
	sem     *semaphore.Weighted
	entries []*Entry
}

// Pool is the per-origin connection pool of §4.9.
type Pool struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	dialer    Dialer
	tlsDialer TLSDialer
	timeNow   func() time.Time

	totalConnections int
	reuseCount       uint64
	missCount        uint64
	errorCount       uint64
	averageWaitTime  time.Duration
	lastUpdated      time.Time

	// Logger is the SLogger the poolAcquireStart/poolAcquireDone events
	// are logged to. Safe to set after [New] but before the first call
	// to [Pool.Acquire]. Dialed-connection I/O is logged through observe
	// below, whose logger [New] copies from this field; assigning Logger
	// afterwards does not change where those I/O events go.
	Logger netcore.SLogger

	// ErrClassifier classifies errors for the log events above.
	ErrClassifier netcore.ErrClassifier

	// observe wraps every freshly dialed connection for per-I/O logging
	// (see observeconn.go at the module root). [New] initializes its
	// Logger/ErrClassifier from the fields above; later assignments to
	// those fields do not reach it.
	observe *netcore.ObserveConnFunc
}

// New returns an empty [Pool]. dialer dials fresh TCP connections on a
// miss; tlsDialer wraps one in a TLS handshake when tls is requested.
// timeNow customizes the clock for deterministic tests; pass nil for
// [time.Now].
func New(dialer Dialer, tlsDialer TLSDialer, timeNow func() time.Time) *Pool {
	if timeNow == nil {
		timeNow = time.Now
	}
	logger := netcore.DefaultSLogger()
	p := &Pool{
		buckets:       make(map[string]*bucket),
		dialer:        dialer,
		tlsDialer:     tlsDialer,
		timeNow:       timeNow,
		Logger:        logger,
		ErrClassifier: netcore.DefaultErrClassifier,
	}
	p.observe = &netcore.ObserveConnFunc{
		ErrClassifier: p.ErrClassifier,
		Logger:        p.Logger,
		TimeNow:       timeNow,
	}
	return p
}

// Origin formats the per-origin bucket key of §4.9:
// "(tls? 'https':'http')://host:port".
func Origin(host string, port int, tls bool) string {
	scheme := "http"
	if tls {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

func (p *Pool) bucketFor(origin string) *bucket {
	b, ok := p.buckets[origin]
	if !ok {
		b = &bucket{sem: semaphore.NewWeighted(maxConnectionsPerOrigin)}
		p.buckets[origin] = b
	}
	return b
}

// Acquire implements §4.9's acquire: reuse an IDLE entry if one exists
// and is not stale, otherwise wait for capacity and dial a fresh
// connection. Capacity is the bucket's semaphore: one weight unit per
// IN_USE entry, so a failed TryAcquire is exactly "origin at its limit".
func (p *Pool) Acquire(ctx context.Context, host string, port int, tls bool, serverName string) (*Entry, error) {
	origin := Origin(host, port, tls)
	waitStart := p.timeNow()
	spanID := netcore.NewSpanID()

	p.Logger.Info(
		"poolAcquireStart",
		slog.String("origin", origin),
		slog.String("spanID", spanID),
		slog.Time("t", waitStart),
	)
	entry, err := p.acquire(ctx, origin, host, port, tls, serverName, waitStart)
	p.Logger.Info(
		"poolAcquireDone",
		slog.Any("err", err),
		slog.String("errClass", p.ErrClassifier.Classify(err)),
		slog.String("origin", origin),
		slog.String("spanID", spanID),
		slog.Time("t0", waitStart),
		slog.Time("t", p.timeNow()),
	)
	return entry, err
}

func (p *Pool) acquire(ctx context.Context, origin, host string, port int, tls bool, serverName string, waitStart time.Time) (*Entry, error) {
	for {
		p.mu.Lock()
		b := p.bucketFor(origin)

		for _, e := range b.entries {
			e.mu.Lock()
			if e.state != StateIdle {
				e.mu.Unlock()
				continue
			}
			if p.timeNow().Sub(e.lastUsedAt) >= maxIdleTime {
				e.state = StateClosed
				_ = e.Conn.Close()
				e.mu.Unlock()
				continue
			}
			if !b.sem.TryAcquire(1) {
				// every permit is already held by another IN_USE entry;
				// this idle entry stays idle and we fall through to wait.
				e.mu.Unlock()
				continue
			}
			e.state = StateInUse
			e.lastUsedAt = p.timeNow()
			e.useCount++
			e.mu.Unlock()

			p.reuseCount++
			p.recordWait(p.timeNow().Sub(waitStart))
			p.mu.Unlock()
			return e, nil
		}
		b.entries = removeClosed(b.entries)

		if !b.sem.TryAcquire(1) {
			p.missCount++
			p.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(acquirePollInterval):
			}
			continue
		}

		p.missCount++
		p.totalConnections++
		p.recordWait(p.timeNow().Sub(waitStart))
		p.mu.Unlock()

		entry, err := p.dial(ctx, origin, host, port, tls, serverName)
		if err != nil {
			b.sem.Release(1)
			p.mu.Lock()
			p.errorCount++
			p.mu.Unlock()
			return nil, err
		}
		entry.bucket = b

		p.mu.Lock()
		b = p.bucketFor(origin)
		b.entries = append(b.entries, entry)
		p.mu.Unlock()
		return entry, nil
	}
}

// dial establishes a fresh connection for a pool miss. The dialed
// connection is wrapped with [netcore.ObserveConnFunc] so every read,
// write, and close it goes through (directly, or via the TLS record
// layer on top of it) is logged, matching the observability every other
// suspension point in this module carries.
func (p *Pool) dial(ctx context.Context, origin, host string, port int, tls bool, serverName string) (*Entry, error) {
	conn, err := p.dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("pool: dial: %w", err)
	}
	conn, _ = p.observe.Call(ctx, conn) // never errors; see ObserveConnFunc.Call

	entry := &Entry{Origin: origin, state: StateInUse, useCount: 1, lastUsedAt: p.timeNow()}

	if !tls {
		entry.Conn = conn
		return entry, nil
	}

	tlsConn, err := p.tlsDialer(ctx, conn, serverName)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("pool: tls handshake: %w", err)
	}
	entry.TLS = tlsConn
	entry.Conn = tlsConn
	return entry, nil
}

func (p *Pool) recordWait(d time.Duration) {
	if p.averageWaitTime == 0 {
		p.averageWaitTime = d
		return
	}
	p.averageWaitTime = time.Duration(emaAlpha*float64(d) + (1-emaAlpha)*float64(p.averageWaitTime))
}

// Release returns entry to IDLE, eligible for reuse by a later Acquire,
// and frees its bucket's semaphore unit.
func (p *Pool) Release(entry *Entry) {
	entry.mu.Lock()
	wasInUse := entry.state == StateInUse
	if wasInUse {
		entry.state = StateIdle
		entry.lastUsedAt = p.timeNow()
	}
	b := entry.bucket
	entry.mu.Unlock()

	if wasInUse && b != nil {
		b.sem.Release(1)
	}
}

// CloseIdleConnections scans all buckets, closing and removing IDLE
// entries older than maxIdleTime; empty buckets are dropped.
func (p *Pool) CloseIdleConnections() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for origin, b := range p.buckets {
		var kept []*Entry
		for _, e := range b.entries {
			e.mu.Lock()
			stale := e.state == StateIdle && p.timeNow().Sub(e.lastUsedAt) >= maxIdleTime
			if stale {
				e.state = StateClosed
				_ = e.Conn.Close()
			}
			closed := e.state == StateClosed
			e.mu.Unlock()
			if !closed {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(p.buckets, origin)
			continue
		}
		b.entries = kept
	}
	p.lastUpdated = p.timeNow()
}

// CloseAll closes every pooled entry across every origin, releasing any
// semaphore units held by IN_USE entries.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for origin, b := range p.buckets {
		for _, e := range b.entries {
			e.mu.Lock()
			wasInUse := e.state == StateInUse
			e.state = StateClosed
			_ = e.Conn.Close()
			e.mu.Unlock()
			if wasInUse {
				b.sem.Release(1)
			}
		}
		delete(p.buckets, origin)
	}
}

// GetStats returns an independent snapshot of the pool's cumulative
// and live statistics.
func (p *Pool) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var active, idle int
	for _, b := range p.buckets {
		for _, e := range b.entries {
			switch e.State() {
			case StateInUse:
				active++
			case StateIdle:
				idle++
			}
		}
	}

	return Stats{
		TotalConnections:  p.totalConnections,
		ActiveConnections: active,
		IdleConnections:   idle,
		ReuseCount:        p.reuseCount,
		MissCount:         p.missCount,
		ErrorCount:        p.errorCount,
		AverageWaitTime:   p.averageWaitTime,
		LastUpdated:       p.lastUpdated,
	}
}

// AllEntries returns a snapshot slice of every entry across every
// origin, for use by a health-check loop (see the manager package).
func (p *Pool) AllEntries() []*Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	var all []*Entry
	for _, b := range p.buckets {
		all = append(all, b.entries...)
	}
	return all
}

// CloseEntry closes a single entry regardless of its current state and
// frees its bucket's semaphore unit if it was IN_USE. Used by a health
// check to evict one unhealthy connection without touching the rest of
// its bucket.
func (p *Pool) CloseEntry(entry *Entry) {
	entry.mu.Lock()
	wasInUse := entry.state == StateInUse
	alreadyClosed := entry.state == StateClosed
	entry.state = StateClosed
	b := entry.bucket
	entry.mu.Unlock()

	if alreadyClosed {
		return
	}
	_ = entry.Conn.Close()
	if wasInUse && b != nil {
		b.sem.Release(1)
	}
}

func removeClosed(entries []*Entry) []*Entry {
	var kept []*Entry
	for _, e := range entries {
		if e.State() != StateClosed {
			kept = append(kept, e)
		}
	}
	return kept
}
