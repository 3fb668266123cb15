package resilience

import (
	"sync"
	"time"

	"github.com/thichuong/Web-server-Report-sub002/internal/clock"
)

// EndpointConfig configures one endpoint's pacing interval and breaker
// thresholds.
type EndpointConfig struct {
	MinInterval time.Duration
	Breaker     BreakerConfig
	Retry       RetryPolicy
}

// Manager exclusively owns rate buckets and breaker states, one Guard per
// configured endpoint.
type Manager struct {
	mu     sync.RWMutex
	clock  clock.Clock
	guards map[string]*Guard
}

// NewManager builds an empty Manager.
func NewManager(c clock.Clock) *Manager {
	return &Manager{clock: c, guards: make(map[string]*Guard)}
}

// Register creates (or replaces) the Guard for an endpoint.
func (m *Manager) Register(endpoint string, cfg EndpointConfig) *Guard {
	g := NewGuard(endpoint, NewRateBucket(cfg.MinInterval, m.clock), NewBreaker(cfg.Breaker, m.clock), cfg.Retry, m.clock)
	m.mu.Lock()
	m.guards[endpoint] = g
	m.mu.Unlock()
	return g
}

// Guard returns the Guard registered for endpoint, if any.
func (m *Manager) Guard(endpoint string) (*Guard, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.guards[endpoint]
	return g, ok
}

// Status is a per-endpoint snapshot for GET /api/rate-limit-status.
type Status struct {
	Endpoint string `json:"endpoint"`
	State    string `json:"state"`
}

// Snapshot lists the state of every registered endpoint.
func (m *Manager) Snapshot() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.guards))
	for name, g := range m.guards {
		out = append(out, Status{Endpoint: name, State: g.BreakerState().String()})
	}
	return out
}
