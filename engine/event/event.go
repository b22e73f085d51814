// Package event defines the contract user models implement: event values,
// event types with their seven callbacks, and the generator declarations
// that map state changes to candidate events.
package event

import (
	"strings"

	"golang.org/x/exp/rand"

	"kairos/engine/models"
	"kairos/engine/sampler"
	"kairos/engine/state"
)

// Event is one possible occurrence: an event-type tag plus parameters.
// Values are immutable; they are created by generators and discarded after
// a failed precondition or after firing.
type Event interface {
	Tag() models.Tag
	// Key is a total, injective projection of the event value onto a
	// hashable sampler key. Key builds one from the tag and parameters.
	Key() models.ClockKey
}

// Clock is the (distribution, anchor) pair Enable and Reenable hand to the
// sampler. Start is the time against which the sampler interprets the
// distribution.
type Clock struct {
	Dist  sampler.Distribution
	Start float64
}

// Type registers one event type with the driver.
type Type interface {
	Tag() models.Tag

	// Immediate marks the type as zero-delay: its instances fire in the
	// same step as their trigger and never enter the sampler.
	Immediate() bool

	// Generators declares how candidates of this type are produced from
	// firings and address writes.
	Generators() []Generator

	// Precondition is invoked under read-capture and must be a pure
	// function of state.
	Precondition(ev Event, st any) bool

	// Enable is invoked under read-capture when the precondition first
	// passes; it returns the clock to register.
	Enable(ev Event, st any, now float64) (Clock, error)

	// Reenable is invoked under read-capture when a live event's inputs
	// changed. ok=false means "leave the sampler alone"; the driver still
	// refreshes the recorded rate dependencies.
	Reenable(ev Event, st any, firstEnabled, now float64) (Clock, bool, error)

	// Fire is invoked under write-capture and mutates state.
	Fire(ev Event, st any, now float64, rng *rand.Rand) error
}

// Key builds the clock key for a tag and parameter list. Parameters encode
// through the same canonical key encoding addresses use, so keys are stable
// across runs and hash-friendly.
func Key(tag models.Tag, params ...any) models.ClockKey {
	if len(params) == 0 {
		return models.ClockKey{Tag: tag}
	}
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(state.KeyOf(p).Encode())
	}
	return models.ClockKey{Tag: tag, Args: b.String()}
}
