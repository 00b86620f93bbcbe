// ABOUTME: Best-effort online/offline signal gating network attempts.
// ABOUTME: Combines a passive platform signal with an active authenticated probe.
package progress

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Monitor tracks connectivity. The status is best-effort: only errors
// that look like transport failures flip it to offline; auth and server
// errors are assumed to mean the network itself is fine.
type Monitor struct {
	client *Client

	mu     sync.Mutex
	online bool

	// probeLimit caps how often forced probes hit the remote store,
	// so platform transition events cannot stampede it.
	probeLimit *rate.Limiter
	interval   time.Duration

	// onOnline fires on the offline-to-online edge.
	onOnline func()
}

// NewMonitor builds a monitor probing through client. onOnline may be
// nil; when set it is invoked on each offline-to-online transition
// (the orchestrator wires its connectivity-restored trigger here).
func NewMonitor(client *Client, cfg SyncConfig, onOnline func()) *Monitor {
	return &Monitor{
		client:     client,
		online:     true, // optimistic until a probe says otherwise
		probeLimit: rate.NewLimiter(rate.Every(5*time.Second), 1),
		interval:   cfg.probeInterval(),
		onOnline:   onOnline,
	}
}

// IsOnline returns the last known connectivity status.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline feeds the passive platform online/offline signal. An
// online edge triggers the restored callback; going offline is
// accepted as-is.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	m.mu.Unlock()

	if online && !wasOnline && m.onOnline != nil {
		m.onOnline()
	}
}

// Probe performs one authenticated round-trip and updates the status.
// Probes are rate limited; a skipped probe reports the cached status.
func (m *Monitor) Probe(ctx context.Context) bool {
	if !m.probeLimit.Allow() {
		return m.IsOnline()
	}

	err := m.client.Ping(ctx)
	// Inability to distinguish "auth failed" from "unreachable" is
	// resolved conservatively: only transport-looking errors count.
	online := err == nil || !isNetworkError(err)
	m.SetOnline(online)
	return online
}

// Start runs the periodic probe loop until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Probe(ctx)
			}
		}
	}()
}
