// SPDX-License-Identifier: GPL-3.0-or-later
//
// Grounded on: dns/cache.go's StartAutoCleanup/StopAutoCleanup ticker
// idiom, reused here for the §4.10 health-check loop over a [pool.Pool].
package manager

import (
	"log/slog"
	"sync"
	"time"

	"github.com/webengine-project/netcore"
	"github.com/webengine-project/netcore/pool"
	"github.com/webengine-project/netcore/socket"
	"github.com/webengine-project/netcore/tlsconn"
)

// healthCheckInterval is the default period between health-check sweeps.
const healthCheckInterval = 60 * time.Second

// maxIdleConnectionAge is how long an IDLE connection may sit unused
// before a health check considers it unhealthy, per §4.10.
const maxIdleConnectionAge = 5 * time.Minute

// Stats is an aggregate view over a [pool.Pool]'s cumulative counters,
// per §4.10's reuseRate/errorRate.
type Stats struct {
	pool.Stats
	ReuseRate float64
	ErrorRate float64
}

// Manager owns a [pool.Pool] and periodically evicts unhealthy
// connections from it, per §4.10.
type Manager struct {
	mu      sync.Mutex
	pool    *pool.Pool
	timeNow func() time.Time
	stopCh  chan struct{}

	// Logger is the SLogger each health-check sweep is logged to. Safe
	// to set after [New] but before the first call to [Manager.CheckHealth].
	Logger netcore.SLogger
}

// New returns a [Manager] over pool. timeNow customizes the clock for
// deterministic tests; pass nil for [time.Now].
func New(p *pool.Pool, timeNow func() time.Time) *Manager {
	if timeNow == nil {
		timeNow = time.Now
	}
	return &Manager{
		pool:    p,
		timeNow: timeNow,
		Logger:  netcore.DefaultSLogger(),
	}
}

// Pool returns the pool this manager owns.
func (m *Manager) Pool() *pool.Pool {
	return m.pool
}

// StartHealthChecks starts a background timer that calls CheckHealth
// every interval until StopHealthChecks is called. interval <= 0 uses
// healthCheckInterval. Calling it twice without an intervening stop
// replaces the prior timer.
func (m *Manager) StartHealthChecks(interval time.Duration) {
	if interval <= 0 {
		interval = healthCheckInterval
	}

	m.mu.Lock()
	if m.stopCh != nil {
		close(m.stopCh)
	}
	stop := make(chan struct{})
	m.stopCh = stop
	m.mu.Unlock()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CheckHealth()
			case <-stop:
				return
			}
		}
	}()
}

// StopHealthChecks stops the health-check timer started by
// StartHealthChecks, if any.
func (m *Manager) StopHealthChecks() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
}

// CheckHealth sweeps every pooled entry once, closing and removing any
// that are unhealthy per §4.10: state in {CLOSED, ERROR}, an underlying
// socket that has left OPEN, or IDLE for more than five minutes. It
// also runs the pool's own idle-eviction pass, so a single call covers
// both staleness rules.
func (m *Manager) CheckHealth() {
	spanID := netcore.NewSpanID()
	t0 := m.timeNow()
	m.Logger.Info("healthCheckStart", slog.String("spanID", spanID), slog.Time("t", t0))

	now := t0
	var evicted int
	for _, e := range m.pool.AllEntries() {
		if m.isUnhealthy(e, now) {
			m.pool.CloseEntry(e)
			evicted++
		}
	}
	m.pool.CloseIdleConnections()

	m.Logger.Info(
		"healthCheckDone",
		slog.Int("evictedCount", evicted),
		slog.String("spanID", spanID),
		slog.Time("t0", t0),
		slog.Time("t", m.timeNow()),
	)
}

func (m *Manager) isUnhealthy(e *pool.Entry, now time.Time) bool {
	switch e.State() {
	case pool.StateClosed, pool.StateError:
		return true
	}

	if e.Socket != nil && e.Socket.State() != socket.StateOpen {
		return true
	}
	if e.TLS != nil && e.TLS.State() != tlsconn.StateEstablished {
		return true
	}

	if e.State() == pool.StateIdle && now.Sub(e.LastUsedAt()) > maxIdleConnectionAge {
		return true
	}
	return false
}

// GetStats returns the pool's cumulative statistics augmented with the
// reuse and error rates of §4.10. Both rates are 0 when the pool has
// not yet recorded any acquire attempts.
func (m *Manager) GetStats() Stats {
	ps := m.pool.GetStats()
	denom := ps.ReuseCount + ps.MissCount
	var reuseRate, errorRate float64
	if denom > 0 {
		reuseRate = float64(ps.ReuseCount) / float64(denom)
		errorRate = float64(ps.ErrorCount) / float64(denom)
	}
	return Stats{Stats: ps, ReuseRate: reuseRate, ErrorRate: errorRate}
}
