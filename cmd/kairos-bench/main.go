// kairos-bench runs seeded trajectories of a small ring-walk model. It is a
// smoke harness for the engine: scenario parameters load from a YAML file
// (hot-reloadable between trajectories with -watch) and metrics can be
// exposed over HTTP.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync/atomic"

	"golang.org/x/exp/rand"

	"kairos/engine"
	"kairos/engine/event"
	"kairos/engine/models"
	"kairos/engine/sampler"
	"kairos/engine/scenario"
	"kairos/engine/state"
)

var (
	tagWalkers = state.Field("walkers")
	tagPos     = state.Field("pos")
)

const moveTag models.Tag = "move"

type walker struct {
	state.Record
	Pos state.Attr[int]
}

func newWalker(pos int) *walker {
	w := &walker{}
	w.Pos = state.NewAttr(&w.Record, tagPos, pos)
	return w
}

type world struct {
	state.Base
	Walkers *state.Vec[*walker]
}

func newWorld() *world {
	w := &world{}
	w.Walkers = state.NewVec[*walker](w.Root(), tagWalkers)
	return w
}

type moveEvent struct {
	who, dir int
}

func (m moveEvent) Tag() models.Tag      { return moveTag }
func (m moveEvent) Key() models.ClockKey { return event.Key(moveTag, m.who, m.dir) }

type moveType struct {
	rate float64
	ring int
	src  rand.Source
}

func (t *moveType) Tag() models.Tag { return moveTag }
func (t *moveType) Immediate() bool { return false }

func (t *moveType) Generators() []event.Generator {
	return []event.Generator{
		event.ByPattern{
			Pattern: state.PatternOf(tagWalkers, state.Wildcard, tagPos),
			Fn: func(emit event.Emit, st any, idx []state.Part) {
				who := int(idx[0].(state.IntKey))
				emit(moveEvent{who: who, dir: -1})
				emit(moveEvent{who: who, dir: +1})
			},
		},
	}
}

func (t *moveType) Precondition(ev event.Event, st any) bool {
	m := ev.(moveEvent)
	w := st.(*world)
	if m.who >= w.Walkers.Len() {
		return false
	}
	w.Walkers.Get(m.who).Pos.Get()
	return true
}

func (t *moveType) Enable(ev event.Event, st any, now float64) (event.Clock, error) {
	return event.Clock{Dist: sampler.Exponential(t.rate, t.src), Start: now}, nil
}

func (t *moveType) Reenable(ev event.Event, st any, firstEnabled, now float64) (event.Clock, bool, error) {
	return event.Clock{}, false, nil
}

func (t *moveType) Fire(ev event.Event, st any, now float64, rng *rand.Rand) error {
	m := ev.(moveEvent)
	w := st.(*world)
	wk := w.Walkers.Get(m.who)
	wk.Pos.Set(((wk.Pos.Get()+m.dir)%t.ring + t.ring) % t.ring)
	return nil
}

func main() {
	var (
		scenarioPath = flag.String("scenario", "", "scenario YAML file")
		watch        = flag.Bool("watch", false, "hot-reload the scenario file between trajectories")
		metricsAddr  = flag.String("metrics", "", "expose Prometheus metrics on this address")
		trajectories = flag.Int("n", 1, "trajectories to run")
		steps        = flag.Int("steps", 1000, "steps per trajectory")
	)
	flag.Parse()

	mgr := scenario.NewManager(*scenarioPath)
	if err := mgr.Load(); err != nil {
		log.Fatalf("scenario: %v", err)
	}
	var reloaded atomic.Bool
	if *watch && *scenarioPath != "" {
		w := scenario.NewWatcher(mgr)
		if err := w.Start(func(*scenario.Scenario) { reloaded.Store(true) }); err != nil {
			log.Fatalf("watch: %v", err)
		}
		defer w.Stop()
	}

	for i := 0; i < *trajectories; i++ {
		sc := mgr.Current()
		cfg := engine.Defaults()
		cfg.Seed = sc.Seed + uint64(i)
		cfg.MaxSteps = *steps
		cfg.MetricsEnabled = *metricsAddr != ""

		w := newWorld()
		mt := &moveType{
			rate: sc.Param("move_rate", 1.0),
			ring: int(sc.Param("ring_size", 16)),
		}
		rec := &engine.RecordingObserver{}
		eng, err := engine.New(cfg, w, []event.Type{mt}, nil, rec.Observe)
		if err != nil {
			log.Fatalf("engine: %v", err)
		}
		mt.src = eng.RNG()

		if h := eng.MetricsHandler(); h != nil && *metricsAddr != "" && i == 0 {
			go func() { _ = http.ListenAndServe(*metricsAddr, h) }()
		}

		walkers := int(sc.Param("walkers", 4))
		res, err := eng.Run(func(st any, now float64) {
			wd := st.(*world)
			for j := 0; j < walkers; j++ {
				wd.Walkers.Append(newWalker(j))
			}
		}, nil)
		if err != nil {
			log.Fatalf("trajectory %d: %v", i, err)
		}
		snap := eng.Snapshot()
		fmt.Printf("trajectory %d: outcome=%s steps=%d t=%.3f live_clocks=%d recorded=%d\n",
			i, res.Outcome, res.Steps, res.Time, snap.LiveClocks, len(rec.Steps))
		if reloaded.Swap(false) {
			fmt.Fprintln(os.Stderr, "scenario reloaded; next trajectory uses new parameters")
		}
	}
}
