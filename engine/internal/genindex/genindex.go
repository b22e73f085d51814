// Package genindex stores generator declarations in the two lookup maps the
// driver consults after a firing: by source event tag and by masked address
// pattern. Iteration over candidates is deterministic: event-driven
// generators first in registration order, then written addresses in
// accumulator order, with generators inside each bucket in registration
// order.
package genindex

import (
	"kairos/engine/event"
	"kairos/engine/models"
	"kairos/engine/state"
)

// Index holds the generators of one class of event types (immediate or
// timed).
type Index struct {
	byFiring  map[models.Tag][]event.ByFiring
	byPattern map[string][]event.ByPattern
}

func New() *Index {
	return &Index{
		byFiring:  make(map[models.Tag][]event.ByFiring),
		byPattern: make(map[string][]event.ByPattern),
	}
}

// Register adds every generator of one event type, in declaration order.
// Patterns of differing length coexist.
func (x *Index) Register(gens []event.Generator) {
	for _, g := range gens {
		switch gen := g.(type) {
		case event.ByFiring:
			x.byFiring[gen.Source] = append(x.byFiring[gen.Source], gen)
		case event.ByPattern:
			enc := gen.Pattern.Encode()
			x.byPattern[enc] = append(x.byPattern[enc], gen)
		}
	}
}

// Empty reports whether no generator is registered.
func (x *Index) Empty() bool {
	return len(x.byFiring) == 0 && len(x.byPattern) == 0
}

// Candidates enumerates candidate events for a change-set: the just-fired
// event identity (nil for the initialization pseudo-firing) and the written
// addresses in accumulator order. Emission order is the deterministic
// candidate-iteration order; the caller dedupes by clock key.
func (x *Index) Candidates(fired event.Event, writes *state.AddrSet, st any) []event.Event {
	var out []event.Event
	emit := func(ev event.Event) { out = append(out, ev) }

	if fired != nil {
		for _, gen := range x.byFiring[fired.Tag()] {
			gen.Fn(emit, st, fired)
		}
	}
	for _, a := range writes.Slice() {
		mask := state.Mask(a)
		gens := x.byPattern[mask.Encode()]
		if len(gens) == 0 {
			continue
		}
		idx := a.IndexParts()
		for _, gen := range gens {
			gen.Fn(emit, st, idx)
		}
	}
	return out
}
