package sampler

import (
	"fmt"
	"math"

	"github.com/google/btree"
	"golang.org/x/exp/rand"

	"kairos/engine/models"
)

// clockEntry is one live clock: its sampled absolute firing time plus the
// distribution and anchor it was drawn from.
type clockEntry struct {
	t    float64
	key  models.ClockKey
	dist Distribution
	t0   float64
}

func entryLess(a, b clockEntry) bool {
	if a.t != b.t {
		return a.t < b.t
	}
	return a.key.Less(b.key)
}

// FirstReaction is the default sampler. Each Enable draws one absolute
// firing time (anchor plus a fresh draw from the distribution, clamped to
// now) and keeps pending clocks in a btree ordered by (time, key), so ties
// resolve by key order and iteration is reproducible for a fixed seed.
type FirstReaction struct {
	tree       *btree.BTreeG[clockEntry]
	entries    map[models.ClockKey]clockEntry
	log        []EnableRecord
	disableLog []DisableRecord
}

// NewFirstReaction creates an empty sampler.
func NewFirstReaction() *FirstReaction {
	return &FirstReaction{
		tree:    btree.NewG[clockEntry](8, entryLess),
		entries: make(map[models.ClockKey]clockEntry),
	}
}

func (s *FirstReaction) Enable(key models.ClockKey, dist Distribution, t0, now float64, _ rand.Source) {
	if prev, ok := s.entries[key]; ok {
		s.tree.Delete(prev)
	}
	t := t0 + dist.Rand()
	if t < now {
		t = now
	}
	e := clockEntry{t: t, key: key, dist: dist, t0: t0}
	s.entries[key] = e
	s.tree.ReplaceOrInsert(e)
	s.log = append(s.log, EnableRecord{Key: key, Dist: dist, T0: t0, Now: now})
}

func (s *FirstReaction) Disable(key models.ClockKey, now float64) {
	if prev, ok := s.entries[key]; ok {
		s.tree.Delete(prev)
		delete(s.entries, key)
		s.disableLog = append(s.disableLog, DisableRecord{Key: key, Now: now})
	}
}

func (s *FirstReaction) Next(_ float64) (float64, models.ClockKey, bool) {
	min, ok := s.tree.Min()
	if !ok {
		return 0, models.ClockKey{}, false
	}
	return min.t, min.key, true
}

func (s *FirstReaction) Live() []models.ClockKey {
	keys := make([]models.ClockKey, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return models.SortKeys(keys)
}

func (s *FirstReaction) Len() int { return len(s.entries) }

// EnableLog returns the recorded Enable calls in order.
func (s *FirstReaction) EnableLog() []EnableRecord { return s.log }

// DisableLog returns the recorded effective Disable calls in order.
func (s *FirstReaction) DisableLog() []DisableRecord { return s.disableLog }

// ResetLog clears both logs between trajectories.
func (s *FirstReaction) ResetLog() {
	s.log = nil
	s.disableLog = nil
}

// LogLik scores one observed firing at absolute time t of the clock for
// key, given every currently live clock: the firing clock contributes its
// log density at the elapsed delay, every competitor its log survival.
// Distributions on this path must expose LogProb and CDF.
func (s *FirstReaction) LogLik(t float64, key models.ClockKey) (float64, error) {
	fired, ok := s.entries[key]
	if !ok {
		return 0, fmt.Errorf("loglik: clock %s not live", key)
	}
	lp, ok := fired.dist.(logProber)
	if !ok {
		return 0, fmt.Errorf("loglik: distribution for %s cannot score densities", key)
	}
	total := lp.LogProb(t - fired.t0)
	for k, e := range s.entries {
		if k == key {
			continue
		}
		c, ok := e.dist.(cdfer)
		if !ok {
			return 0, fmt.Errorf("loglik: distribution for %s has no CDF", k)
		}
		total += math.Log(1 - c.CDF(t-e.t0))
	}
	return total, nil
}
