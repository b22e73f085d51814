package sampler

import (
	"golang.org/x/exp/rand"

	"kairos/engine/models"
)

// Sampler is the external priority structure selecting the next firing.
// The driver is its only mutator. Implementations must be deterministic:
// given identical enable/disable sequences and identical draws, Next yields
// identical (time, key) sequences, with ties broken by key order.
type Sampler interface {
	// Enable registers (or re-registers) a clock for key. The distribution
	// is interpreted against the anchor time t0; now is the current
	// simulation time. src is available for implementations that draw
	// themselves rather than through the distribution.
	Enable(key models.ClockKey, dist Distribution, t0, now float64, src rand.Source)

	// Disable removes the clock for key if present.
	Disable(key models.ClockKey, now float64)

	// Next returns the earliest pending (time, key) without removing it.
	// ok is false when no clock is live.
	Next(now float64) (t float64, key models.ClockKey, ok bool)

	// Live returns the live clock keys in deterministic order.
	Live() []models.ClockKey

	// Len returns the number of live clocks.
	Len() int
}

// EnableRecord is one entry of a sampler's enable log. The default sampler
// records every Enable call so tests and likelihood computations can observe
// the exact (key, dist, anchor, now) sequence.
type EnableRecord struct {
	Key  models.ClockKey
	Dist Distribution
	T0   float64
	Now  float64
}

// DisableRecord is one entry of a sampler's disable log.
type DisableRecord struct {
	Key models.ClockKey
	Now float64
}
