// Package connectivity tracks whether the remote datastore is reachable.
package connectivity

import (
	"context"
	"sync"
	"time"

	"kasirinaja/terminal/internal/logging"
	"kasirinaja/terminal/internal/telemetry"
)

type Prober interface {
	Ping(ctx context.Context) error
}

// Monitor holds the terminal's online flag. Every offline to online
// transition produces one signal on Reconnected; signals do not pile up.
type Monitor struct {
	mu          sync.RWMutex
	online      bool
	reconnected chan struct{}
	metrics     *telemetry.Metrics
}

func NewMonitor(initial bool, metrics *telemetry.Metrics) *Monitor {
	metrics.SetOnline(initial)
	return &Monitor{
		online:      initial,
		reconnected: make(chan struct{}, 1),
		metrics:     metrics,
	}
}

func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

func (m *Monitor) Reconnected() <-chan struct{} {
	return m.reconnected
}

// Set records the latest observation and reports whether it changed the state.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return false
	}
	m.metrics.SetOnline(online)

	log := logging.With("connectivity")
	if online {
		log.Info().Msg("datastore reachable again")
		select {
		case m.reconnected <- struct{}{}:
		default:
		}
	} else {
		log.Warn().Msg("datastore unreachable; operations will be queued")
	}
	return true
}

// Probe pings once and updates the state.
func (m *Monitor) Probe(ctx context.Context, p Prober, timeout time.Duration) bool {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	online := p.Ping(pingCtx) == nil
	m.Set(online)
	return online
}

// Run probes on every tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, p Prober, interval time.Duration, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx, p, timeout)
		}
	}
}
