package state

import (
	"iter"
	"sort"
)

// Table is an observed mapping from K to V.
//
// Primitive values notify at (…, key) on lookup and update; bulk reads
// (length, contains, iteration) notify at the container-level address.
// Compound values follow the record policy: lookups re-seat the element's
// back-address and iteration relies on subsequent field accesses; inserts
// and removals announce the element's fields entering or leaving the slot.
// Insertion of a new key and removal of an existing one additionally notify
// a container-level write, since key-membership reads depend on it.
type Table[K comparable, V any] struct {
	owner    notifier
	part     Part
	items    map[K]V
	compound bool
}

// NewTable creates an observed mapping rooted at owner under the given tag.
func NewTable[K comparable, V any](owner Notifier, tag FieldTag) *Table[K, V] {
	return &Table[K, V]{owner: owner, part: tag, items: make(map[K]V), compound: isCompound[V]()}
}

func (t *Table[K, V]) notify(suffix []Part, kind accessKind) {
	t.owner.notify(prepend(t.part, suffix), kind)
}

// Len returns the number of entries, notifying a container-level read.
func (t *Table[K, V]) Len() int {
	t.notify(nil, accessRead)
	return len(t.items)
}

// Contains reports key membership, notifying a container-level read.
func (t *Table[K, V]) Contains(k K) bool {
	t.notify(nil, accessRead)
	_, ok := t.items[k]
	return ok
}

// Get looks up k. A primitive hit or miss notifies at the key address; a
// compound hit re-seats the element, a compound miss notifies a
// container-level read (the answer depends on key membership only).
func (t *Table[K, V]) Get(k K) (V, bool) {
	e, ok := t.items[k]
	if t.compound {
		if ok {
			if r := recOf(e); r != nil && r.live {
				r.reseat(KeyOf(k))
			}
		} else {
			t.notify(nil, accessRead)
		}
	} else {
		t.notify([]Part{KeyOf(k)}, accessRead)
	}
	return e, ok
}

// Put inserts or updates the entry for k.
func (t *Table[K, V]) Put(k K, v V) {
	old, existed := t.items[k]
	t.items[k] = v
	if t.compound {
		if existed {
			if r := recOf(old); r != nil && r.live {
				r.notifyAllFields()
				r.unseat()
			}
		}
		if r := recOf(v); r != nil {
			r.seat(t, KeyOf(k))
			r.notifyAllFields()
		}
	} else {
		t.notify([]Part{KeyOf(k)}, accessWrite)
	}
	if !existed {
		t.notify(nil, accessWrite)
	}
}

// Delete removes the entry for k if present.
func (t *Table[K, V]) Delete(k K) {
	old, existed := t.items[k]
	if !existed {
		return
	}
	delete(t.items, k)
	if t.compound {
		if r := recOf(old); r != nil && r.live {
			r.notifyAllFields()
			r.unseat()
		}
	} else {
		t.notify([]Part{KeyOf(k)}, accessWrite)
	}
	t.notify(nil, accessWrite)
}

// sortedKeys returns the keys ordered by their encoded form. Iteration order
// must be deterministic: user callbacks run inside capture scopes and the
// engine's determinism guarantee extends to everything they touch.
func (t *Table[K, V]) sortedKeys() []K {
	keys := make([]K, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return KeyOf(keys[i]).Encode() < KeyOf(keys[j]).Encode()
	})
	return keys
}

// All iterates entries in deterministic key order. Primitive iteration
// notifies one container-level read; compound iteration re-seats elements.
func (t *Table[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		if !t.compound {
			t.notify(nil, accessRead)
		}
		for _, k := range t.sortedKeys() {
			v := t.items[k]
			if t.compound {
				if r := recOf(v); r != nil && r.live {
					r.reseat(KeyOf(k))
				}
			}
			if !yield(k, v) {
				return
			}
		}
	}
}

// Keys returns the keys in deterministic order, notifying a container-level
// read.
func (t *Table[K, V]) Keys() []K {
	t.notify(nil, accessRead)
	return t.sortedKeys()
}

// RawLen returns the entry count without notifying.
func (t *Table[K, V]) RawLen() int { return len(t.items) }
