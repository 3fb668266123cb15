// Package resilience implements per-endpoint rate pacing and circuit
// breaking, guarding every call out to an external market data provider.
// The breaker FSM follows the streak-based state machine style of
// brennhill-gasoline-mcp-ai-devtools's CircuitBreaker (circuit_breaker.go),
// generalized from its fixed rate-window trigger to a consecutive-failure
// trigger with an explicit Closed/Open/HalfOpen state enum, closer to the
// three-state machines in SahilParikh03-Caesar-Trade and the FalandyJEAN
// token-bucket breaker lesson.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/thichuong/Web-server-Report-sub002/internal/apperr"
	"github.com/thichuong/Web-server-Report-sub002/internal/clock"
	"github.com/thichuong/Web-server-Report-sub002/internal/metrics"
)

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerConfig tunes the FSM thresholds, all per-endpoint overridable.
type BreakerConfig struct {
	FailureThreshold   int           // F_open: consecutive failures before opening
	CooldownPeriod     time.Duration // T_open: time Open before probing
	HalfOpenMaxTrials  int           // probe calls allowed in flight at once while HalfOpen
	RequiredSuccesses  int           // consecutive HalfOpen successes to close
}

func defaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		CooldownPeriod:    5 * time.Minute,
		HalfOpenMaxTrials: 1,
		RequiredSuccesses: 3,
	}
}

// Breaker is one per-endpoint circuit breaker.
type Breaker struct {
	mu sync.Mutex

	cfg   BreakerConfig
	clock clock.Clock

	state             State
	consecutiveFails  int
	consecutiveOK     int
	openedAt          time.Time
	cooldown          time.Duration
	halfOpenInFlight  int
}

// NewBreaker constructs a Closed breaker. A zero-value cfg field falls
// back to its documented default.
func NewBreaker(cfg BreakerConfig, c clock.Clock) *Breaker {
	def := defaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.CooldownPeriod <= 0 {
		cfg.CooldownPeriod = def.CooldownPeriod
	}
	if cfg.HalfOpenMaxTrials <= 0 {
		cfg.HalfOpenMaxTrials = def.HalfOpenMaxTrials
	}
	if cfg.RequiredSuccesses <= 0 {
		cfg.RequiredSuccesses = def.RequiredSuccesses
	}
	return &Breaker{cfg: cfg, clock: c, state: Closed, cooldown: cfg.CooldownPeriod}
}

// Allow reports whether a call may proceed, transitioning Open→HalfOpen
// once the cooldown has elapsed. Callers that are denied must not invoke
// the guarded operation and should surface apperr.KindBreakerOpen.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.clock.Now().Sub(b.openedAt) >= b.cooldown {
			b.state = HalfOpen
			b.halfOpenInFlight = 0
			b.consecutiveOK = 0
			return b.admitHalfOpenLocked()
		}
		return false
	case HalfOpen:
		return b.admitHalfOpenLocked()
	default:
		return false
	}
}

func (b *Breaker) admitHalfOpenLocked() bool {
	if b.halfOpenInFlight >= b.cfg.HalfOpenMaxTrials {
		return false
	}
	b.halfOpenInFlight++
	return true
}

// RecordSuccess reports a successful guarded call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.consecutiveOK++
		if b.consecutiveOK >= b.cfg.RequiredSuccesses {
			b.state = Closed
			b.consecutiveFails = 0
			b.consecutiveOK = 0
			b.halfOpenInFlight = 0
		} else if b.halfOpenInFlight > 0 {
			// The probe finished; free its slot for the next one.
			b.halfOpenInFlight--
		}
	case Closed:
		b.consecutiveFails = 0
	}
}

// RecordFailure reports a failed guarded call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.openLocked(b.cfg.CooldownPeriod)
	case Closed:
		b.consecutiveFails++
		if b.consecutiveFails >= b.cfg.FailureThreshold {
			b.openLocked(b.cfg.CooldownPeriod)
		}
	}
}

// RecordRateLimited reports a 429/"too many requests" response. Unlike a
// generic failure, this forces Open immediately regardless of the current
// consecutive-failure count, with a doubled cooldown, and is reported
// distinctly from RecordFailure.
func (b *Breaker) RecordRateLimited() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openLocked(b.cfg.CooldownPeriod * 2)
}

func (b *Breaker) openLocked(cooldown time.Duration) {
	b.state = Open
	b.openedAt = b.clock.Now()
	b.cooldown = cooldown
	b.consecutiveFails = 0
	b.consecutiveOK = 0
	b.halfOpenInFlight = 0
}

// CurrentState returns the breaker's current state, for
// /api/rate-limit-status.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn if the breaker admits the call, recording the outcome.
// A denied call returns apperr.KindBreakerOpen without invoking fn.
func (b *Breaker) Execute(ctx context.Context, endpoint string, reg *metrics.Registry, fn func(ctx context.Context) error) error {
	if !b.Allow() {
		return apperr.New(apperr.KindBreakerOpen, "circuit breaker open for "+endpoint)
	}

	err := fn(ctx)
	if err != nil {
		b.RecordFailure()
		// An admitted call ran in Closed or HalfOpen, so Open now means
		// this failure tripped the breaker.
		if reg != nil && b.CurrentState() == Open {
			reg.BreakerOpens.WithLabelValues(endpoint).Inc()
		}
		return err
	}
	b.RecordSuccess()
	return nil
}
