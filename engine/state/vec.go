package state

import "iter"

// Vec is an observed, integer-indexed ordered sequence.
//
// For a primitive element type every read and write notifies at the exact
// slot address (…, index); length-affecting operations additionally notify
// a write at the container-level address so length-dependent preconditions
// re-evaluate. For a compound element type the container never notifies at
// the slot itself: reads re-seat the element's back-address, inserts and
// removals emit a write for every field of the element entering or leaving
// a live slot, and shifted survivors are re-seated silently.
type Vec[E any] struct {
	owner    notifier
	part     Part
	items    []E
	compound bool
}

// NewVec creates an observed sequence rooted at owner under the given tag.
func NewVec[E any](owner Notifier, tag FieldTag) *Vec[E] {
	return &Vec[E]{owner: owner, part: tag, compound: isCompound[E]()}
}

func (v *Vec[E]) notify(suffix []Part, kind accessKind) {
	v.owner.notify(prepend(v.part, suffix), kind)
}

// seatAt binds e into slot i and announces its fields at the new address.
func (v *Vec[E]) seatAt(i int, e E) {
	if r := recOf(e); r != nil {
		r.seat(v, IntKey(i))
		r.notifyAllFields()
	}
}

// unseatAt announces the fields of the departing element at its old address,
// then clears its back-address.
func (v *Vec[E]) unseatAt(e E) {
	if r := recOf(e); r != nil && r.live {
		r.notifyAllFields()
		r.unseat()
	}
}

func (v *Vec[E]) reseatFrom(i int) {
	for j := i; j < len(v.items); j++ {
		if r := recOf(v.items[j]); r != nil && r.live {
			r.reseat(IntKey(j))
		}
	}
}

// Len returns the current length, notifying a container-level read.
func (v *Vec[E]) Len() int {
	v.notify(nil, accessRead)
	return len(v.items)
}

// Get returns the element at i. Compound elements are re-seated rather than
// notified, so the subsequent field access carries the precise address.
func (v *Vec[E]) Get(i int) E {
	e := v.items[i]
	if v.compound {
		if r := recOf(e); r != nil && r.live {
			r.reseat(IntKey(i))
		}
	} else {
		v.notify([]Part{IntKey(i)}, accessRead)
	}
	return e
}

// Set replaces the element at i.
func (v *Vec[E]) Set(i int, e E) {
	if v.compound {
		v.unseatAt(v.items[i])
		v.items[i] = e
		v.seatAt(i, e)
		return
	}
	v.items[i] = e
	v.notify([]Part{IntKey(i)}, accessWrite)
}

// Append adds e at the back.
func (v *Vec[E]) Append(e E) {
	i := len(v.items)
	if v.compound {
		// seat first: an ownership breach panics before the slot exists
		v.seatAt(i, e)
		v.items = append(v.items, e)
	} else {
		v.items = append(v.items, e)
		v.notify([]Part{IntKey(i)}, accessWrite)
	}
	v.notify(nil, accessWrite)
}

// Extend appends every element of es in order.
func (v *Vec[E]) Extend(es ...E) {
	for _, e := range es {
		i := len(v.items)
		v.items = append(v.items, e)
		if v.compound {
			v.seatAt(i, e)
		} else {
			v.notify([]Part{IntKey(i)}, accessWrite)
		}
	}
	v.notify(nil, accessWrite)
}

// PushFront inserts e at index 0, shifting every element up by one.
func (v *Vec[E]) PushFront(e E) {
	v.Insert(0, e)
}

// Insert places e at index i, shifting elements at i and above up by one.
func (v *Vec[E]) Insert(i int, e E) {
	var zero E
	v.items = append(v.items, zero)
	copy(v.items[i+1:], v.items[i:])
	v.items[i] = e
	if v.compound {
		v.reseatFrom(i + 1)
		v.seatAt(i, e)
	} else {
		for j := i; j < len(v.items); j++ {
			v.notify([]Part{IntKey(j)}, accessWrite)
		}
	}
	v.notify(nil, accessWrite)
}

// PopBack removes and returns the last element.
func (v *Vec[E]) PopBack() E {
	last := len(v.items) - 1
	e := v.items[last]
	var zero E
	v.items[last] = zero
	v.items = v.items[:last]
	if v.compound {
		v.unseatAt(e)
	} else {
		v.notify([]Part{IntKey(last)}, accessWrite)
	}
	v.notify(nil, accessWrite)
	return e
}

// PopFront removes and returns the first element, shifting survivors down.
// The removed element's fields are notified at their old address; survivors
// are re-seated without notification — their container position shifted but
// index-agnostic subscriptions keep matching.
func (v *Vec[E]) PopFront() E {
	e := v.items[0]
	oldLen := len(v.items)
	if v.compound {
		v.unseatAt(e)
	}
	copy(v.items, v.items[1:])
	var zero E
	v.items[oldLen-1] = zero
	v.items = v.items[:oldLen-1]
	if v.compound {
		v.reseatFrom(0)
	} else {
		for j := 0; j < oldLen; j++ {
			v.notify([]Part{IntKey(j)}, accessWrite)
		}
	}
	v.notify(nil, accessWrite)
	return e
}

// Resize grows the sequence with zero values or shrinks it, unseating every
// element that leaves a live slot.
func (v *Vec[E]) Resize(n int) {
	cur := len(v.items)
	switch {
	case n == cur:
		return
	case n > cur:
		var zero E
		for i := cur; i < n; i++ {
			v.items = append(v.items, zero)
			if !v.compound {
				v.notify([]Part{IntKey(i)}, accessWrite)
			}
		}
	default:
		for i := n; i < cur; i++ {
			if v.compound {
				v.unseatAt(v.items[i])
			} else {
				v.notify([]Part{IntKey(i)}, accessWrite)
			}
			var zero E
			v.items[i] = zero
		}
		v.items = v.items[:n]
	}
	v.notify(nil, accessWrite)
}

// All iterates index/element pairs. Primitive iteration notifies one
// container-level read; compound iteration re-seats each element instead.
func (v *Vec[E]) All() iter.Seq2[int, E] {
	return func(yield func(int, E) bool) {
		if !v.compound {
			v.notify(nil, accessRead)
		}
		for i, e := range v.items {
			if v.compound {
				if r := recOf(e); r != nil && r.live {
					r.reseat(IntKey(i))
				}
			}
			if !yield(i, e) {
				return
			}
		}
	}
}

// RawLen returns the length without notifying; for driver-side diagnostics.
func (v *Vec[E]) RawLen() int { return len(v.items) }
