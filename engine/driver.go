package engine

import (
	"context"
	"fmt"
	"math"
	"reflect"

	"kairos/engine/event"
	telemEvents "kairos/engine/internal/telemetry/events"
	"kairos/engine/models"
	"kairos/engine/state"
)

// InitFunc seeds the physical state. It runs under write-capture with no
// prior event; its writes drive the first reconciliation.
type InitFunc func(st any, now float64)

// StopPredicate decides whether to end the trajectory before firing the
// pending event at time t.
type StopPredicate func(st any, step int, ev event.Event, t float64) bool

// Result reports how a trajectory ended.
type Result struct {
	Outcome models.Outcome
	Steps   int
	Time    float64
}

// traceLikelihooder is satisfied by samplers that can score observed
// firings; the default sampler implements it.
type traceLikelihooder interface {
	LogLik(t float64, key models.ClockKey) (float64, error)
}

// Init runs the initialization callback under write-capture and reconciles
// the enabled set from its writes. The observer is invoked once with the
// synthetic initialization event.
func (e *Engine) Init(init InitFunc) error {
	_, writes, err := state.WithWriteCapture(e.base, func() (struct{}, error) {
		init(e.world, e.now)
		return struct{}{}, nil
	})
	if err != nil {
		return models.NewSimError(models.ClockKey{}, "init", err)
	}
	return e.reconcile(nil, writes)
}

// Run executes a full trajectory: initialization, then sampling steps until
// the model goes quiescent or the stop-predicate fires.
func (e *Engine) Run(init InitFunc, stop StopPredicate) (Result, error) {
	if err := e.Init(init); err != nil {
		return Result{}, err
	}
	return e.loop(stop, 0)
}

// RunEvent executes a trajectory seeded by firing an initialization event
// value instead of a callback; the seeding firing counts as the first step.
// The event's type must be registered.
func (e *Engine) RunEvent(ev event.Event, stop StopPredicate) (Result, error) {
	if _, ok := e.types[ev.Tag()]; !ok {
		return Result{}, models.NewSimError(ev.Key(), "init", models.ErrUnknownEventTag)
	}
	if err := e.step(ev); err != nil {
		return Result{}, err
	}
	return e.loop(stop, 1)
}

func (e *Engine) loop(stop StopPredicate, step int) (Result, error) {
	e.log.InfoCtx(context.Background(), "trajectory started", "seed", e.cfg.Seed, "live_clocks", e.smp.Len())
	for {
		if e.cfg.MaxSteps > 0 && step >= e.cfg.MaxSteps {
			e.publish(telemEvents.Event{Category: telemEvents.CategoryDriver, Type: "stopped", Severity: "info", Fields: map[string]interface{}{"steps": step, "reason": "max_steps"}})
			return Result{Outcome: models.OutcomeStopped, Steps: step, Time: e.now}, nil
		}
		t, k, ok := e.smp.Next(e.now)
		if !ok || math.IsInf(t, 1) {
			e.publish(telemEvents.Event{Category: telemEvents.CategoryDriver, Type: "quiescent", Severity: "info", Fields: map[string]interface{}{"steps": step, "time": e.now}})
			return Result{Outcome: models.OutcomeQuiescent, Steps: step, Time: e.now}, nil
		}
		ev, present := e.enabled[k]
		if !present {
			return Result{}, models.NewSimError(k, "next", models.ErrUnknownClockKey)
		}
		if stop != nil && stop(e.world, step, ev, t) {
			e.publish(telemEvents.Event{Category: telemEvents.CategoryDriver, Type: "stopped", Severity: "info", Fields: map[string]interface{}{"steps": step, "time": e.now}})
			return Result{Outcome: models.OutcomeStopped, Steps: step, Time: e.now}, nil
		}
		e.now = t
		if err := e.step(ev); err != nil {
			return Result{}, err
		}
		step++
	}
}

// Replay consumes a recorded (time, key) sequence instead of sampling and
// returns the accumulated log-likelihood of the trace under the model. The
// sampler must support likelihood scoring and every trace step must name a
// then-enabled event.
func (e *Engine) Replay(init InitFunc, trace []models.TraceStep) (float64, error) {
	lik, ok := e.smp.(traceLikelihooder)
	if !ok {
		return 0, fmt.Errorf("engine: sampler %T cannot score trace likelihoods", e.smp)
	}
	if err := e.Init(init); err != nil {
		return 0, err
	}
	total := 0.0
	for _, ts := range trace {
		if ts.Time < e.now {
			return total, models.NewSimError(ts.Key, "replay", models.ErrTraceTimeRegressed)
		}
		ev, present := e.enabled[ts.Key]
		if !present {
			return total, models.NewSimError(ts.Key, "replay", models.ErrTraceEventNotEnabled)
		}
		ll, err := lik.LogLik(ts.Time, ts.Key)
		if err != nil {
			return total, models.NewSimError(ts.Key, "replay", err)
		}
		total += ll
		e.now = ts.Time
		if err := e.step(ev); err != nil {
			return total, err
		}
	}
	return total, nil
}

// step fires ev under write-capture and reconciles.
func (e *Engine) step(ev event.Event) error {
	typ := e.types[ev.Tag()]
	if typ == nil {
		return models.NewSimError(ev.Key(), "fire", models.ErrUnknownEventTag)
	}
	_, writes, err := state.WithWriteCapture(e.base, func() (struct{}, error) {
		return struct{}{}, typ.Fire(ev, e.world, e.now, e.src)
	})
	if err != nil {
		return models.NewSimError(ev.Key(), "fire", err)
	}
	e.steps++
	if e.mSteps != nil {
		e.mSteps.Inc(1)
	}
	if e.mFirings != nil {
		e.mFirings.Inc(1, "timed")
	}
	return e.reconcile(ev, writes)
}

// reconcile restores every invariant after a firing: the immediate cascade,
// removal of the fired event, the invariant walk over possibly-toggled
// preconditions, bulk removal, the rate-only walk, observer notification and
// the optional consistency check. fired is nil for the initialization
// pseudo-firing; w is extended in place with immediate writes.
func (e *Engine) reconcile(fired event.Event, w *state.AddrSet) error {
	// 1. Fire immediates until a pass yields nothing new. Dedup is by clock
	// key, but the key mapping is injective: a second candidate sharing a
	// key with a different event value is a contract breach, never a silent
	// drop.
	firedEvents := map[models.ClockKey]event.Event{}
	firedChain := []event.Event{}
	if fired != nil {
		firedEvents[fired.Key()] = fired
		firedChain = append(firedChain, fired)
	}
	if !e.immediateIdx.Empty() {
		for {
			var cands []event.Event
			for _, fe := range firedChain {
				cands = append(cands, e.immediateIdx.Candidates(fe, state.NewAddrSet(), e.world)...)
			}
			cands = append(cands, e.immediateIdx.Candidates(nil, w, e.world)...)
			anyFired := false
			seenPass := map[models.ClockKey]event.Event{}
			for _, c := range cands {
				k := c.Key()
				if prev, dup := firedEvents[k]; dup {
					if !reflect.DeepEqual(prev, c) {
						return models.NewSimError(k, "immediate", models.ErrDuplicateKey)
					}
					continue
				}
				if prev, dup := seenPass[k]; dup {
					if !reflect.DeepEqual(prev, c) {
						return models.NewSimError(k, "immediate", models.ErrDuplicateKey)
					}
					continue
				}
				seenPass[k] = c
				typ := e.types[c.Tag()]
				if typ == nil {
					return models.NewSimError(k, "immediate", models.ErrUnknownEventTag)
				}
				ok, _, err := e.capturePrecondition(typ, c)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				_, iw, err := state.WithWriteCapture(e.base, func() (struct{}, error) {
					return struct{}{}, typ.Fire(c, e.world, e.now, e.src)
				})
				if err != nil {
					return models.NewSimError(k, "immediate_fire", err)
				}
				w.Union(iw)
				firedEvents[k] = c
				firedChain = append(firedChain, c)
				anyFired = true
				if e.mFirings != nil {
					e.mFirings.Inc(1, "immediate")
				}
			}
			if !anyFired {
				break
			}
		}
	}

	// 2. Remove the fired event.
	if fired != nil {
		k := fired.Key()
		e.smp.Disable(k, e.now)
		delete(e.enabled, k)
		delete(e.enablingTimes, k)
		e.deps.Drop(k)
	}

	// 3. Invariant walk: candidates from the timed generator index against
	// (fired, W), then events whose enable deps intersect W, deduped by key.
	visited := map[models.ClockKey]event.Event{}
	var toRemove []models.ClockKey

	walkOne := func(ev event.Event) error {
		k := ev.Key()
		if prev, seen := visited[k]; seen {
			if !reflect.DeepEqual(prev, ev) {
				return models.NewSimError(k, "walk", models.ErrDuplicateKey)
			}
			return nil
		}
		visited[k] = ev
		typ := e.types[ev.Tag()]
		if typ == nil {
			return models.NewSimError(k, "walk", models.ErrUnknownEventTag)
		}
		if typ.Immediate() {
			// immediates fire in step 1 and never enter the sampler
			return nil
		}
		ok, condReads, err := e.capturePrecondition(typ, ev)
		if err != nil {
			return err
		}
		_, wasEnabled := e.enabled[k]
		switch {
		case wasEnabled && !ok:
			toRemove = append(toRemove, k)
		case !wasEnabled && ok:
			clk, rateReads, err := e.captureEnable(typ, ev, k)
			if err != nil {
				return err
			}
			e.smp.Enable(k, clk.Dist, clk.Start, e.now, e.src)
			e.enabled[k] = ev
			e.enablingTimes[k] = e.now
			e.deps.Put(k, condReads, rateReads)
			if e.mEnables != nil {
				e.mEnables.Inc(1)
			}
		case wasEnabled && ok:
			live := e.enabled[k]
			if !condReads.Equal(e.deps.GetEnable(k)) {
				clk, reOK, rateReads, err := e.captureReenable(typ, live, k)
				if err != nil {
					return err
				}
				if reOK {
					e.smp.Enable(k, clk.Dist, clk.Start, e.now, e.src)
				}
				e.deps.Put(k, condReads, rateReads)
			} else if e.deps.GetRate(k).Intersects(w) {
				clk, reOK, rateReads, err := e.captureReenable(typ, live, k)
				if err != nil {
					return err
				}
				if reOK {
					e.smp.Enable(k, clk.Dist, clk.Start, e.now, e.src)
				}
				if !rateReads.Equal(e.deps.GetRate(k)) {
					e.deps.Put(k, condReads, rateReads)
				}
			}
		}
		return nil
	}

	for _, cand := range e.timedIdx.Candidates(fired, w, e.world) {
		if err := walkOne(cand); err != nil {
			return err
		}
	}
	for _, k := range e.deps.EventsAffectingEnable(w) {
		ev, ok := e.enabled[k]
		if !ok {
			continue
		}
		if err := walkOne(ev); err != nil {
			return err
		}
	}

	// 4. Bulk-remove events whose precondition went false.
	for _, k := range toRemove {
		e.smp.Disable(k, e.now)
		delete(e.enabled, k)
		delete(e.enablingTimes, k)
		e.deps.Drop(k)
		if e.mDisables != nil {
			e.mDisables.Inc(1)
		}
	}

	// 5. Rate-only walk over events not already visited.
	for _, k := range e.deps.EventsAffectingRate(w) {
		if _, seen := visited[k]; seen {
			continue
		}
		ev, ok := e.enabled[k]
		if !ok {
			continue
		}
		typ := e.types[ev.Tag()]
		clk, reOK, rateReads, err := e.captureReenable(typ, ev, k)
		if err != nil {
			return err
		}
		if reOK {
			e.smp.Enable(k, clk.Dist, clk.Start, e.now, e.src)
		}
		if !rateReads.Equal(e.deps.GetRate(k)) {
			e.deps.Put(k, e.deps.GetEnable(k), rateReads)
		}
	}

	if e.gLiveClocks != nil {
		e.gLiveClocks.Set(float64(e.smp.Len()))
	}

	// 6. Notify observer, strictly after sampler/table/deps updates.
	obsEv := fired
	if obsEv == nil {
		obsEv = InitEvent()
	}
	if e.observer != nil {
		e.observer(e.world, e.now, obsEv, w)
	}
	e.publish(telemEvents.Event{Category: telemEvents.CategoryReconcile, Type: "fired", Labels: map[string]string{"key": obsEv.Key().String()}, Fields: map[string]interface{}{"time": e.now, "writes": w.Len(), "live_clocks": e.smp.Len()}})

	// 7. Consistency check.
	if e.cfg.DebugChecks {
		if err := e.checkCoherence(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) capturePrecondition(typ event.Type, ev event.Event) (bool, *state.AddrSet, error) {
	ok, reads, err := state.WithReadCapture(e.base, func() (bool, error) {
		return typ.Precondition(ev, e.world), nil
	})
	if err != nil {
		return false, nil, models.NewSimError(ev.Key(), "precondition", err)
	}
	return ok, reads, nil
}

func (e *Engine) captureEnable(typ event.Type, ev event.Event, k models.ClockKey) (event.Clock, *state.AddrSet, error) {
	clk, reads, err := state.WithReadCapture(e.base, func() (event.Clock, error) {
		return typ.Enable(ev, e.world, e.now)
	})
	if err != nil {
		return event.Clock{}, nil, models.NewSimError(k, "enable", err)
	}
	if clk.Dist == nil || math.IsNaN(clk.Start) {
		return event.Clock{}, nil, models.NewSimError(k, "enable", models.ErrMalformedClock)
	}
	return clk, reads, nil
}

func (e *Engine) captureReenable(typ event.Type, ev event.Event, k models.ClockKey) (event.Clock, bool, *state.AddrSet, error) {
	var clk event.Clock
	var reOK bool
	_, reads, err := state.WithReadCapture(e.base, func() (struct{}, error) {
		var ferr error
		clk, reOK, ferr = typ.Reenable(ev, e.world, e.enablingTimes[k], e.now)
		return struct{}{}, ferr
	})
	if err != nil {
		return event.Clock{}, false, nil, models.NewSimError(k, "reenable", err)
	}
	if reOK && (clk.Dist == nil || math.IsNaN(clk.Start)) {
		return event.Clock{}, false, nil, models.NewSimError(k, "reenable", models.ErrMalformedClock)
	}
	return clk, reOK, reads, nil
}

// EnabledKeys returns the keys of the enabled-event table in order.
func (e *Engine) EnabledKeys() []models.ClockKey {
	keys := make([]models.ClockKey, 0, len(e.enabled))
	for k := range e.enabled {
		keys = append(keys, k)
	}
	return models.SortKeys(keys)
}

// CheckInvariants verifies the full post-reconciliation contract: key-set
// equality across the enabled table, dependency network and sampler, plus
// precondition-read stability — for every enabled event a fresh read-capture
// of its precondition returns true with exactly the recorded dependency set.
func (e *Engine) CheckInvariants() error {
	if err := e.checkCoherence(); err != nil {
		return err
	}
	for _, k := range e.EnabledKeys() {
		ev := e.enabled[k]
		typ := e.types[ev.Tag()]
		ok, reads, err := e.capturePrecondition(typ, ev)
		if err != nil {
			return err
		}
		if !ok {
			return models.NewSimError(k, "invariant", fmt.Errorf("enabled event precondition is false"))
		}
		if !reads.Equal(e.deps.GetEnable(k)) {
			return models.NewSimError(k, "invariant", fmt.Errorf("precondition reads drifted from recorded deps"), reads.Strings()...)
		}
	}
	return nil
}

// checkCoherence asserts key-set equality across the enabled table, the
// dependency network and the live sampler clocks.
func (e *Engine) checkCoherence() error {
	live := e.smp.Live()
	if len(e.enabled) != e.deps.Len() || len(e.enabled) != len(live) {
		return models.NewSimError(models.ClockKey{}, "coherence", models.ErrKeySetDiverged)
	}
	for _, k := range live {
		if _, ok := e.enabled[k]; !ok {
			return models.NewSimError(k, "coherence", models.ErrKeySetDiverged)
		}
	}
	for _, k := range e.deps.Keys() {
		if _, ok := e.enabled[k]; !ok {
			return models.NewSimError(k, "coherence", models.ErrKeySetDiverged)
		}
	}
	return nil
}
