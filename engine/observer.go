package engine

import (
	"kairos/engine/event"
	"kairos/engine/models"
	"kairos/engine/state"
)

// Observer is invoked once per step, after the sampler, the enabled table
// and the dependency network have been updated and never before. Traces are
// user-defined through it; the engine itself persists nothing.
type Observer func(st any, t float64, ev event.Event, writes *state.AddrSet)

// InitTag names the synthetic event the observer sees for the
// initialization pseudo-step.
const InitTag models.Tag = "initialize"

type initEvent struct{}

func (initEvent) Tag() models.Tag      { return InitTag }
func (initEvent) Key() models.ClockKey { return models.ClockKey{Tag: InitTag} }

// InitEvent returns the synthetic initialization event value.
func InitEvent() event.Event { return initEvent{} }

// RecordedStep is one line of a recorded trajectory.
type RecordedStep struct {
	Time   float64
	Key    models.ClockKey
	Writes []string
}

// RecordingObserver collects the full trajectory in memory. Byte-identical
// trajectories across seeded runs compare equal via their recorded steps.
type RecordingObserver struct {
	Steps []RecordedStep
}

// Observe is the Observer to pass to New.
func (r *RecordingObserver) Observe(_ any, t float64, ev event.Event, writes *state.AddrSet) {
	r.Steps = append(r.Steps, RecordedStep{Time: t, Key: ev.Key(), Writes: writes.Strings()})
}

// Trace projects the recording onto (time, key) steps for replay.
func (r *RecordingObserver) Trace() []models.TraceStep {
	out := make([]models.TraceStep, 0, len(r.Steps))
	for _, s := range r.Steps {
		if s.Key.Tag == InitTag {
			continue
		}
		out = append(out, models.TraceStep{Time: s.Time, Key: s.Key})
	}
	return out
}
