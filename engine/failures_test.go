package engine_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"kairos/engine"
	"kairos/engine/event"
	"kairos/engine/models"
	"kairos/engine/sampler"
	"kairos/engine/state"
)

func TestMalformedClockIsFatalWithKeyContext(t *testing.T) {
	w := newFlagWorld()
	bad := &tType{tag: "bad", pre: flagPre("on"),
		gens: []event.Generator{emitOnTable(tFlags, ev1{tag: "bad", who: 9})},
		enable: func(_ event.Event, _ any, _ float64) (event.Clock, error) {
			return event.Clock{}, nil
		}}

	e := mustEngine(t, engine.Defaults(), w, []event.Type{bad}, nil, nil)
	err := e.Init(func(st any, _ float64) { st.(*flagWorld).Flags.Put("on", true) })
	require.ErrorIs(t, err, models.ErrMalformedClock)

	var sim *models.SimError
	require.ErrorAs(t, err, &sim)
	require.Equal(t, event.Key("bad", 9), sim.Key)
	require.Equal(t, "enable", sim.Phase)
}

type rogueSampler struct {
	*sampler.FirstReaction
}

func (r *rogueSampler) Next(now float64) (float64, models.ClockKey, bool) {
	return 1.0, event.Key("ghost", 13), true
}

func TestSamplerYieldingUnknownKeyIsFatal(t *testing.T) {
	w := newFlagWorld()
	f := &tType{tag: "f", pre: flagPre("on"), enable: diracEnable(1.0),
		gens: []event.Generator{emitOnTable(tFlags, ev0{tag: "f"})}}

	e := mustEngine(t, engine.Defaults(), w, []event.Type{f}, &rogueSampler{sampler.NewFirstReaction()}, nil)
	_, err := e.Run(func(st any, _ float64) { st.(*flagWorld).Flags.Put("on", true) }, nil)
	require.ErrorIs(t, err, models.ErrUnknownClockKey)
}

func TestFireErrorAbortsTrajectory(t *testing.T) {
	w := newFlagWorld()
	boom := errors.New("boom")
	f := &tType{tag: "f", pre: flagPre("on"), enable: diracEnable(1.0),
		gens: []event.Generator{emitOnTable(tFlags, ev0{tag: "f"})},
		fire: func(_ event.Event, _ any, _ float64, _ *rand.Rand) error { return boom }}

	e := mustEngine(t, engine.Defaults(), w, []event.Type{f}, nil, nil)
	_, err := e.Run(func(st any, _ float64) { st.(*flagWorld).Flags.Put("on", true) }, nil)
	require.ErrorIs(t, err, boom)

	var sim *models.SimError
	require.ErrorAs(t, err, &sim)
	require.Equal(t, "fire", sim.Phase)
}

// collidingEv has a buggy key projection: variant is not part of the key,
// so two distinct values collide on ClockKey.
type collidingEv struct {
	tag          models.Tag
	who, variant int
}

func (e collidingEv) Tag() models.Tag      { return e.tag }
func (e collidingEv) Key() models.ClockKey { return event.Key(e.tag, e.who) }

func TestKeyCollisionInWalkIsFatal(t *testing.T) {
	w := newFlagWorld()
	dup := &tType{tag: "dup",
		gens: []event.Generator{event.ByPattern{
			Pattern: state.PatternOf(tFlags, state.Wildcard),
			Fn: func(emit event.Emit, _ any, _ []state.Part) {
				emit(collidingEv{tag: "dup", who: 1, variant: 1})
				emit(collidingEv{tag: "dup", who: 1, variant: 2})
			},
		}},
		pre:    func(event.Event, any) bool { return true },
		enable: diracEnable(1.0)}

	e := mustEngine(t, engine.Defaults(), w, []event.Type{dup}, nil, nil)
	err := e.Init(func(st any, _ float64) { st.(*flagWorld).Flags.Put("on", true) })
	require.ErrorIs(t, err, models.ErrDuplicateKey)

	var sim *models.SimError
	require.ErrorAs(t, err, &sim)
	require.Equal(t, event.Key("dup", 1), sim.Key)
	require.Equal(t, "walk", sim.Phase)
}

func TestKeyCollisionInImmediateCascadeIsFatal(t *testing.T) {
	w := newFlagWorld()
	dup := &tType{tag: "dup", immediate: true,
		gens: []event.Generator{event.ByPattern{
			Pattern: state.PatternOf(tFlags, state.Wildcard),
			Fn: func(emit event.Emit, _ any, _ []state.Part) {
				emit(collidingEv{tag: "dup", who: 2, variant: 1})
				emit(collidingEv{tag: "dup", who: 2, variant: 2})
			},
		}},
		pre: func(event.Event, any) bool { return true }}

	e := mustEngine(t, engine.Defaults(), w, []event.Type{dup}, nil, nil)
	err := e.Init(func(st any, _ float64) { st.(*flagWorld).Flags.Put("on", true) })
	require.ErrorIs(t, err, models.ErrDuplicateKey)

	var sim *models.SimError
	require.ErrorAs(t, err, &sim)
	require.Equal(t, "immediate", sim.Phase)
}

func TestDuplicateEventTagRejected(t *testing.T) {
	w := newFlagWorld()
	a := &tType{tag: "dup", pre: flagPre("on")}
	b := &tType{tag: "dup", pre: flagPre("on")}
	_, err := engine.New(engine.Defaults(), w, []event.Type{a, b}, nil, nil)
	require.Error(t, err)
}

func TestRunEventWithUnregisteredTagFails(t *testing.T) {
	w := newFlagWorld()
	e := mustEngine(t, engine.Defaults(), w, nil, nil, nil)
	_, err := e.RunEvent(ev0{tag: "nobody"}, nil)
	require.ErrorIs(t, err, models.ErrUnknownEventTag)
}
