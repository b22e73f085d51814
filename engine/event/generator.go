package event

import (
	"kairos/engine/models"
	"kairos/engine/state"
)

// Emit collects one candidate event. Over-emission is permitted; the
// precondition is the final arbiter of enablement.
type Emit func(ev Event)

// Generator is a declaration mapping triggers to candidate events. Exactly
// two kinds exist: ByPattern (address-write triggered) and ByFiring
// (event-identity triggered).
type Generator interface {
	sealedGenerator()
}

// ByPattern subscribes to writes whose masked address equals Pattern. The
// closure receives the unmasked index values of the written address in
// positional order.
type ByPattern struct {
	Pattern state.Pattern
	Fn      func(emit Emit, st any, idx []state.Part)
}

func (ByPattern) sealedGenerator() {}

// ByFiring subscribes to firings of the event type named Source. The
// closure receives the fired event value, carrying its parameters.
type ByFiring struct {
	Source models.Tag
	Fn     func(emit Emit, st any, fired Event)
}

func (ByFiring) sealedGenerator() {}
