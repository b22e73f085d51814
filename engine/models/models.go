package models

import (
	"sort"
	"strings"
)

// Tag names an event type. Tags are compared and sorted as plain strings;
// model packages typically declare them as package-level constants.
type Tag string

// ClockKey is the hashable projection of an event value used by the sampler,
// the enabled-event table and the dependency network. Args is a canonical
// encoding of the event's parameters, so two keys are equal iff they denote
// the same possible occurrence.
type ClockKey struct {
	Tag  Tag
	Args string
}

// Less orders keys by (Tag, Args). The total order backs deterministic
// iteration of key sets and sampler tie-breaking.
func (k ClockKey) Less(o ClockKey) bool {
	if k.Tag != o.Tag {
		return k.Tag < o.Tag
	}
	return k.Args < o.Args
}

func (k ClockKey) String() string {
	if k.Args == "" {
		return string(k.Tag)
	}
	var b strings.Builder
	b.WriteString(string(k.Tag))
	b.WriteByte('(')
	b.WriteString(k.Args)
	b.WriteByte(')')
	return b.String()
}

// SortKeys sorts a slice of clock keys in place and returns it.
func SortKeys(keys []ClockKey) []ClockKey {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Outcome classifies how a trajectory ended.
type Outcome string

const (
	// OutcomeQuiescent: the sampler had no next firing; the model ran dry.
	OutcomeQuiescent Outcome = "quiescent"
	// OutcomeStopped: the stop-predicate returned true.
	OutcomeStopped Outcome = "stopped"
)

// TraceStep is one observed firing of a recorded or replayed trajectory.
type TraceStep struct {
	Time float64
	Key  ClockKey
}
