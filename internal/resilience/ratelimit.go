package resilience

import (
	"sync"
	"time"

	"github.com/thichuong/Web-server-Report-sub002/internal/clock"
)

// RateBucket paces calls to a single endpoint to at most one per interval,
// a minimal token-bucket-of-one sufficient for per-endpoint pacing.
type RateBucket struct {
	mu       sync.Mutex
	clock    clock.Clock
	interval time.Duration
	last     time.Time
}

// NewRateBucket builds a bucket that admits at most one call per interval.
func NewRateBucket(interval time.Duration, c clock.Clock) *RateBucket {
	return &RateBucket{clock: c, interval: interval}
}

// Wait blocks (via the injected clock) until the bucket would admit a call,
// then records that a call is proceeding. Returns the duration actually
// waited.
func (r *RateBucket) Wait() time.Duration {
	r.mu.Lock()
	now := r.clock.Now()
	var wait time.Duration
	if !r.last.IsZero() {
		elapsed := now.Sub(r.last)
		if elapsed < r.interval {
			wait = r.interval - elapsed
		}
	}
	r.last = now.Add(wait)
	r.mu.Unlock()

	if wait > 0 {
		_ = r.clock.Sleep(nilCtx{}, wait)
	}
	return wait
}

// nilCtx is a context.Context that is never cancelled, used for the
// interval-pacing sleep which has no cancellation source of its own.
type nilCtx struct{}

func (nilCtx) Deadline() (time.Time, bool) { return time.Time{}, false }
func (nilCtx) Done() <-chan struct{}       { return nil }
func (nilCtx) Err() error                  { return nil }
func (nilCtx) Value(key interface{}) interface{} { return nil }
