package cache

import "time"

// Strategy is an enumerated TTL policy: RealTime, ShortTerm, MediumTerm,
// LongTerm, or a Custom duration.
type Strategy struct {
	name string
	ttl  time.Duration
}

var (
	RealTime   = Strategy{name: "real_time", ttl: 30 * time.Second}
	ShortTerm  = Strategy{name: "short_term", ttl: 5 * time.Minute}
	MediumTerm = Strategy{name: "medium_term", ttl: time.Hour}
	LongTerm   = Strategy{name: "long_term", ttl: 3 * time.Hour}
)

// Custom builds a one-off strategy with an explicit TTL.
func Custom(d time.Duration) Strategy {
	return Strategy{name: "custom", ttl: d}
}

// TTL returns the duration this strategy stamps onto a written entry.
func (s Strategy) TTL() time.Duration { return s.ttl }

// String returns the strategy's name, useful for logging/metrics labels.
func (s Strategy) String() string { return s.name }
