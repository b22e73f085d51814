package engine_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"kairos/engine"
	"kairos/engine/event"
	"kairos/engine/models"
	"kairos/engine/sampler"
	"kairos/engine/state"
)

// ---- random walkers with conflict -------------------------------------------

var (
	tGrid = state.Field("walkers")
	tWLoc = state.Field("loc")
)

var offBoard = [2]int{-1, -1}

type gridWalker struct {
	state.Record
	Loc state.Attr[[2]int]
}

func newGridWalker(p [2]int) *gridWalker {
	w := &gridWalker{}
	w.Loc = state.NewAttr(&w.Record, tWLoc, p)
	return w
}

type gridWorld struct {
	state.Base
	Walkers *state.Vec[*gridWalker]
}

func newGridWorld() *gridWorld {
	w := &gridWorld{}
	w.Walkers = state.NewVec[*gridWalker](w.Root(), tGrid)
	return w
}

const gridSide = 10

var moveDirs = [4][2]int{{0, 1}, {1, 0}, {0, -1}, {-1, 0}}

func walkerAlive(st any, who int) bool {
	w := st.(*gridWorld)
	if who >= w.Walkers.Len() {
		return false
	}
	return w.Walkers.Get(who).Loc.Get() != offBoard
}

// landOn moves walker who to dest, knocking off any occupant.
func landOn(w *gridWorld, who int, dest [2]int) {
	occupant := -1
	for j, wk := range w.Walkers.All() {
		if j != who && wk.Loc.Get() == dest {
			occupant = j
			break
		}
	}
	if occupant >= 0 {
		w.Walkers.Get(occupant).Loc.Set(offBoard)
	}
	w.Walkers.Get(who).Loc.Set(dest)
}

func walkerTypes(src *rand.Source) []event.Type {
	moveGen := event.ByPattern{
		Pattern: state.PatternOf(tGrid, state.Wildcard, tWLoc),
		Fn: func(emit event.Emit, st any, idx []state.Part) {
			who := int(idx[0].(state.IntKey))
			for d := range moveDirs {
				emit(ev2{tag: "move", who: who, dir: d})
			}
		},
	}
	spawnGen := event.ByPattern{
		Pattern: state.PatternOf(tGrid, state.Wildcard, tWLoc),
		Fn: func(emit event.Emit, st any, idx []state.Part) {
			emit(ev1{tag: "spawn", who: int(idx[0].(state.IntKey))})
		},
	}
	move := &tType{tag: "move",
		gens: []event.Generator{moveGen},
		pre:  func(ev event.Event, st any) bool { return walkerAlive(st, ev.(ev2).who) },
		enable: func(_ event.Event, _ any, now float64) (event.Clock, error) {
			return event.Clock{Dist: sampler.Exponential(1.0, *src), Start: now}, nil
		},
		fire: func(ev event.Event, st any, _ float64, _ *rand.Rand) error {
			m := ev.(ev2)
			w := st.(*gridWorld)
			cur := w.Walkers.Get(m.who).Loc.Get()
			d := moveDirs[m.dir]
			dest := [2]int{((cur[0]+d[0])%gridSide + gridSide) % gridSide, ((cur[1]+d[1])%gridSide + gridSide) % gridSide}
			landOn(w, m.who, dest)
			return nil
		}}
	spawn := &tType{tag: "spawn",
		gens: []event.Generator{spawnGen},
		pre:  func(ev event.Event, st any) bool { return walkerAlive(st, ev.(ev1).who) },
		enable: func(_ event.Event, _ any, now float64) (event.Clock, error) {
			return event.Clock{Dist: sampler.Exponential(3.0, *src), Start: now}, nil
		},
		fire: func(ev event.Event, st any, _ float64, _ *rand.Rand) error {
			who := ev.(ev1).who
			dest := [2]int{(who*7 + 3) % gridSide, (who*3 + 1) % gridSide}
			landOn(st.(*gridWorld), who, dest)
			return nil
		}}
	return []event.Type{move, spawn}
}

func runWalkers(t *testing.T, seed uint64, steps int) (*gridWorld, *engine.Engine, *engine.RecordingObserver) {
	t.Helper()
	w := newGridWorld()
	var src rand.Source
	cfg := engine.Defaults()
	cfg.Seed = seed
	cfg.MaxSteps = steps
	rec := &engine.RecordingObserver{}
	e := mustEngine(t, cfg, w, walkerTypes(&src), nil, rec.Observe)
	src = e.RNG()
	_, err := e.Run(func(st any, _ float64) {
		wd := st.(*gridWorld)
		for i := 0; i < 10; i++ {
			wd.Walkers.Append(newGridWalker([2]int{i, i}))
		}
	}, nil)
	require.NoError(t, err)
	return w, e, rec
}

func TestWalkersKnockOffDisablesVictimEvents(t *testing.T) {
	w, e, _ := runWalkers(t, 7, 400)
	require.NoError(t, e.CheckInvariants())

	off := 0
	enabled := map[models.ClockKey]bool{}
	for _, k := range e.EnabledKeys() {
		enabled[k] = true
	}
	for j := 0; j < w.Walkers.RawLen(); j++ {
		if w.Walkers.Get(j).Loc.Get() != offBoard {
			continue
		}
		off++
		require.False(t, enabled[event.Key("spawn", j)], "spawn for knocked-off walker %d still enabled", j)
		for d := 0; d < 4; d++ {
			require.False(t, enabled[event.Key("move", j, d)], "move for knocked-off walker %d still enabled", j)
		}
	}
	require.Greater(t, off, 0, "expected at least one knock-off in 400 steps")
}

func TestWalkersSeededRunsAreByteIdentical(t *testing.T) {
	_, _, rec1 := runWalkers(t, 11, 150)
	_, _, rec2 := runWalkers(t, 11, 150)
	require.Equal(t, rec1.Steps, rec2.Steps)
}

// ---- ghost cancellation ------------------------------------------------------

func TestGhostCancellationDisablesAtCausingFiring(t *testing.T) {
	w := newFlagWorld()
	a := &tType{tag: "a", pre: flagPre("a_on"), enable: diracEnable(1.0),
		gens: []event.Generator{emitOnTable(tFlags, ev0{tag: "a"})}}
	b := &tType{tag: "b", pre: flagPre("shared"), enable: diracEnable(5.0),
		gens: []event.Generator{emitOnTable(tFlags, ev0{tag: "b"})}}
	c := &tType{tag: "c", pre: flagPre("c_armed"), enable: diracEnable(0.5),
		gens: []event.Generator{emitOnTable(tFlags, ev0{tag: "c"})},
		fire: func(_ event.Event, st any, _ float64, _ *rand.Rand) error {
			wd := st.(*flagWorld)
			wd.Flags.Put("shared", false)
			wd.Flags.Put("c_armed", false)
			return nil
		}}

	smp := sampler.NewFirstReaction()
	rec := &engine.RecordingObserver{}
	e := mustEngine(t, engine.Defaults(), w, []event.Type{a, b, c}, smp, rec.Observe)
	res, err := e.Run(func(st any, _ float64) {
		wd := st.(*flagWorld)
		wd.Flags.Put("a_on", true)
		wd.Flags.Put("shared", true)
		wd.Flags.Put("c_armed", true)
	}, nil)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeQuiescent, res.Outcome)

	// b never fired
	for _, s := range rec.Steps {
		require.NotEqual(t, event.Key("b"), s.Key)
	}
	// b's clock was disabled at c's firing time, not at a's
	var bDisabledAt float64 = -1
	for _, d := range smp.DisableLog() {
		if d.Key == event.Key("b") {
			bDisabledAt = d.Now
		}
	}
	require.Equal(t, 0.5, bDisabledAt)
}

// ---- rate re-anchor ----------------------------------------------------------

func TestRateReanchorKeepsEnablingTimeAnchor(t *testing.T) {
	w := newFlagWorld()
	counterDelay := func(st any) float64 {
		c, _ := st.(*flagWorld).Nums.Get("count")
		return 3.0 - float64(c)
	}
	x := &tType{tag: "x", pre: flagPre("x_on"),
		gens: []event.Generator{emitOnTable(tFlags, ev0{tag: "x"})},
		enable: func(_ event.Event, st any, now float64) (event.Clock, error) {
			return event.Clock{Dist: sampler.Dirac{Delay: counterDelay(st)}, Start: now}, nil
		},
		reenable: func(_ event.Event, st any, first, _ float64) (event.Clock, bool, error) {
			return event.Clock{Dist: sampler.Dirac{Delay: counterDelay(st)}, Start: first}, true, nil
		}}
	inc := &tType{tag: "inc",
		gens: []event.Generator{emitOnTable(tNums, ev0{tag: "inc"})},
		pre: func(_ event.Event, st any) bool {
			v, _ := st.(*flagWorld).Nums.Get("armed")
			return v == 1
		},
		enable: diracEnable(0.3),
		fire: func(_ event.Event, st any, _ float64, _ *rand.Rand) error {
			wd := st.(*flagWorld)
			wd.Nums.Put("count", 2)
			wd.Nums.Put("armed", 0)
			return nil
		}}

	smp := sampler.NewFirstReaction()
	rec := &engine.RecordingObserver{}
	e := mustEngine(t, engine.Defaults(), w, []event.Type{x, inc}, smp, rec.Observe)
	res, err := e.Run(func(st any, _ float64) {
		wd := st.(*flagWorld)
		wd.Flags.Put("x_on", true)
		wd.Nums.Put("count", 1)
		wd.Nums.Put("armed", 1)
	}, nil)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeQuiescent, res.Outcome)

	// the re-enable carries the original enabling time as anchor and the
	// fresh distribution for count=2
	log := smp.EnableLog()
	last := log[len(log)-1]
	require.Equal(t, event.Key("x"), last.Key)
	require.Equal(t, 0.0, last.T0)
	require.Equal(t, 0.3, last.Now)
	require.Equal(t, sampler.Dirac{Delay: 1.0}, last.Dist)

	// observable effect: x fired at the re-anchored time 0+1.0, not 0+2.0
	var xFiredAt float64 = -1
	for _, s := range rec.Steps {
		if s.Key == event.Key("x") {
			xFiredAt = s.Time
		}
	}
	require.Equal(t, 1.0, xFiredAt)
}

// ---- compound element move preserves field subscriptions ---------------------

var (
	tHAgents = state.Field("agents")
	tHealth  = state.Field("health")
	tHFlags  = state.Field("hflags")
)

type hAgent struct {
	state.Record
	Health state.Attr[int]
}

func newHAgent(h int) *hAgent {
	a := &hAgent{}
	a.Health = state.NewAttr(&a.Record, tHealth, h)
	return a
}

type hWorld struct {
	state.Base
	Agents *state.Vec[*hAgent]
	Flags  *state.Table[string, bool]
}

func newHWorld() *hWorld {
	w := &hWorld{}
	w.Agents = state.NewVec[*hAgent](w.Root(), tHAgents)
	w.Flags = state.NewTable[string, bool](w.Root(), tHFlags)
	return w
}

func TestShiftedCompoundKeepsMatchingHealthSubscription(t *testing.T) {
	w := newHWorld()
	var matched []int
	h := &tType{tag: "h",
		gens: []event.Generator{event.ByPattern{
			Pattern: state.PatternOf(tHAgents, state.Wildcard, tHealth),
			Fn: func(emit event.Emit, st any, idx []state.Part) {
				who := int(idx[0].(state.IntKey))
				matched = append(matched, who)
				emit(ev1{tag: "h", who: who})
			},
		}},
		pre: func(ev event.Event, st any) bool {
			who := ev.(ev1).who
			wd := st.(*hWorld)
			if who >= wd.Agents.Len() {
				return false
			}
			return wd.Agents.Get(who).Health.Get() > 0
		},
		enable: diracEnable(100)}
	hflag := func(name string) func(event.Event, any) bool {
		return func(_ event.Event, st any) bool {
			v, _ := st.(*hWorld).Flags.Get(name)
			return v
		}
	}
	remover := &tType{tag: "r", pre: hflag("r_armed"), enable: diracEnable(0.5),
		gens: []event.Generator{emitOnTable(tHFlags, ev0{tag: "r"})},
		fire: func(_ event.Event, st any, _ float64, _ *rand.Rand) error {
			wd := st.(*hWorld)
			_ = wd.Agents.PopFront()
			wd.Flags.Put("r_armed", false)
			return nil
		}}
	poker := &tType{tag: "p", pre: hflag("p_armed"), enable: diracEnable(0.8),
		gens: []event.Generator{emitOnTable(tHFlags, ev0{tag: "p"})},
		fire: func(_ event.Event, st any, _ float64, _ *rand.Rand) error {
			wd := st.(*hWorld)
			wd.Agents.Get(2).Health.Set(50)
			wd.Flags.Put("p_armed", false)
			return nil
		}}

	e := mustEngine(t, engine.Defaults(), w, []event.Type{h, remover, poker}, nil, nil)
	_, err := e.Run(
		func(st any, _ float64) {
			wd := st.(*hWorld)
			for i := 0; i < 4; i++ {
				wd.Agents.Append(newHAgent(1))
			}
			wd.Flags.Put("r_armed", true)
			wd.Flags.Put("p_armed", true)
		},
		func(_ any, _ int, _ event.Event, tm float64) bool { return tm > 1.0 },
	)
	require.NoError(t, err)
	require.NoError(t, e.CheckInvariants())

	// after the pop the tail subscription h(3) is gone, h(0..2) remain
	require.Equal(t, []models.ClockKey{
		event.Key("h", 0), event.Key("h", 1), event.Key("h", 2),
	}, e.EnabledKeys())

	// the poke at shifted index 2 re-matched the index-agnostic pattern;
	// the final generator invocation carries the post-shift index
	require.NotEmpty(t, matched)
	require.Equal(t, 2, matched[len(matched)-1])

	// and a fresh write to the shifted record reports the new address
	_, writes, err := state.WithWriteCapture(w.Root(), func() (struct{}, error) {
		w.Agents.Get(2).Health.Set(60)
		return struct{}{}, nil
	})
	require.NoError(t, err)
	require.True(t, writes.Contains(state.NewAddress(tHAgents, state.IntKey(2), tHealth)))
}

// ---- initialization path -----------------------------------------------------

func TestInitializationEnablesOneEventPerElement(t *testing.T) {
	w := newHWorld()
	spawned := &tType{tag: "spawned_move",
		gens: []event.Generator{event.ByPattern{
			Pattern: state.PatternOf(tHAgents, state.Wildcard, tHealth),
			Fn: func(emit event.Emit, st any, idx []state.Part) {
				emit(ev1{tag: "spawned_move", who: int(idx[0].(state.IntKey))})
			},
		}},
		pre: func(ev event.Event, st any) bool {
			who := ev.(ev1).who
			wd := st.(*hWorld)
			if who >= wd.Agents.Len() {
				return false
			}
			return wd.Agents.Get(who).Health.Get() > 0
		},
		enable: diracEnable(10)}

	e := mustEngine(t, engine.Defaults(), w, []event.Type{spawned}, nil, nil)
	require.NoError(t, e.Init(func(st any, _ float64) {
		wd := st.(*hWorld)
		for i := 0; i < 3; i++ {
			wd.Agents.Append(newHAgent(1))
		}
	}))

	keys := e.EnabledKeys()
	require.Len(t, keys, 3)
	require.Equal(t, []models.ClockKey{
		event.Key("spawned_move", 0),
		event.Key("spawned_move", 1),
		event.Key("spawned_move", 2),
	}, keys)
	require.NoError(t, e.CheckInvariants())
}

// ---- reentrancy rejection ----------------------------------------------------

func TestNestedCaptureInsidePreconditionFailsCleanly(t *testing.T) {
	w := newFlagWorld()
	var innerErr error
	sneaky := &tType{tag: "sneaky",
		gens: []event.Generator{emitOnTable(tFlags, ev0{tag: "sneaky"})},
		pre: func(_ event.Event, st any) bool {
			wd := st.(*flagWorld)
			_, _, innerErr = state.WithReadCapture(wd.Root(), func() (struct{}, error) {
				return struct{}{}, nil
			})
			return wd.flag("on")
		},
		enable: diracEnable(1.0)}

	e := mustEngine(t, engine.Defaults(), w, []event.Type{sneaky}, nil, nil)
	require.NoError(t, e.Init(func(st any, _ float64) {
		st.(*flagWorld).Flags.Put("on", true)
	}))

	// the inner attempt failed, the outer scope survived and captured the
	// precondition's reads correctly
	require.ErrorIs(t, innerErr, models.ErrNestedCapture)
	require.Equal(t, []models.ClockKey{event.Key("sneaky")}, e.EnabledKeys())
	require.NoError(t, e.CheckInvariants())
}
