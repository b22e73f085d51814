package state

import (
	"fmt"
	"reflect"

	"kairos/engine/models"
)

// Record is the back-address anchor of a compound element. User element
// types embed it (by pointer element, e.g. *Walker) and declare their named
// fields as Attr values created through NewAttr. A record is "live" while it
// occupies a container slot; mutations to an unseated record are silent.
type Record struct {
	owner notifier
	part  Part
	live  bool
	tags  []FieldTag
}

// rec seals the element interface to types embedding Record.
func (r *Record) rec() *Record { return r }

// Live reports whether the record currently occupies a container slot.
func (r *Record) Live() bool { return r.live }

func (r *Record) notify(suffix []Part, kind accessKind) {
	if !r.live {
		// Dangling back-address: drop silently. Container-shrink paths
		// depend on this.
		return
	}
	r.owner.notify(prepend(r.part, suffix), kind)
}

func (r *Record) registerField(tag FieldTag) {
	r.tags = append(r.tags, tag)
}

// seat binds the record into a container slot. Single ownership is enforced:
// seating a record that is already live is a contract breach.
func (r *Record) seat(owner notifier, part Part) {
	if r.live {
		panic(fmt.Sprintf("state: %v at %s: %v", models.ErrAlreadyOwned, part, r.part))
	}
	r.owner = owner
	r.part = part
	r.live = true
}

// reseat updates the slot index of an already-live record after a container
// shift. No notifications are emitted; position changes alone do not touch
// field addresses from a subscription's point of view.
func (r *Record) reseat(part Part) {
	r.part = part
}

// unseat clears the back-address. Callers emit notifyAllFields first when
// the element is leaving a live slot.
func (r *Record) unseat() {
	r.owner = nil
	r.part = Part(nil)
	r.live = false
}

// notifyAllFields emits a write notification for every declared field of the
// record at its current address. Removal or insertion of the element
// invalidates (or establishes) any dependency on its field addresses.
func (r *Record) notifyAllFields() {
	for _, tag := range r.tags {
		r.notify([]Part{tag}, accessWrite)
	}
}

// Attr is a named, observed field of a compound element. Reads and writes
// notify at (…, index, fieldtag) through the owning record's back-address.
type Attr[T any] struct {
	rec *Record
	tag FieldTag
	val T
}

// NewAttr declares a record field. Every field of a compound type must be
// declared this way so the record can enumerate its field tags.
func NewAttr[T any](r *Record, tag FieldTag, initial T) Attr[T] {
	r.registerField(tag)
	return Attr[T]{rec: r, tag: tag, val: initial}
}

// Get reads the field, notifying the read address.
func (a *Attr[T]) Get() T {
	a.rec.notify([]Part{a.tag}, accessRead)
	return a.val
}

// Set writes the field, notifying the write address.
func (a *Attr[T]) Set(v T) {
	a.val = v
	a.rec.notify([]Part{a.tag}, accessWrite)
}

// element is satisfied exactly by pointer types embedding Record.
type element interface {
	rec() *Record
}

// isCompound reports whether E is a compound element type. Compound elements
// must be pointers to structs embedding Record; value types are treated as
// primitive.
func isCompound[E any]() bool {
	var zero E
	_, ok := any(zero).(element)
	return ok
}

// recOf returns the record of a compound element, or nil for primitive
// values and nil pointers.
func recOf[E any](e E) *Record {
	el, ok := any(e).(element)
	if !ok {
		return nil
	}
	rv := reflect.ValueOf(el)
	if rv.Kind() == reflect.Ptr && rv.IsNil() {
		return nil
	}
	return el.rec()
}
