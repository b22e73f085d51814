package state

import (
	"iter"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// Set is an observed, unordered collection of primitive values. Elements
// carry no per-element address; every read notifies a container-level read
// and every mutation a container-level write. Iteration order is made
// deterministic by sorting on the encoded key form.
type Set[E comparable] struct {
	owner notifier
	part  Part
	items mapset.Set[E]
}

// NewSet creates an observed set rooted at owner under the given tag.
func NewSet[E comparable](owner Notifier, tag FieldTag) *Set[E] {
	return &Set[E]{owner: owner, part: tag, items: mapset.NewThreadUnsafeSet[E]()}
}

func (s *Set[E]) notify(kind accessKind) {
	s.owner.notify([]Part{s.part}, kind)
}

// Len returns the cardinality.
func (s *Set[E]) Len() int {
	s.notify(accessRead)
	return s.items.Cardinality()
}

// Contains reports membership of every given element.
func (s *Set[E]) Contains(es ...E) bool {
	s.notify(accessRead)
	return s.items.Contains(es...)
}

// IsSubsetOf reports whether every element of s is in o.
func (s *Set[E]) IsSubsetOf(o *Set[E]) bool {
	s.notify(accessRead)
	o.notify(accessRead)
	return s.items.IsSubset(o.items)
}

// Insert adds e; reports whether it was new.
func (s *Set[E]) Insert(e E) bool {
	added := s.items.Add(e)
	s.notify(accessWrite)
	return added
}

// Remove deletes e if present.
func (s *Set[E]) Remove(e E) {
	s.items.Remove(e)
	s.notify(accessWrite)
}

// Pop removes and returns the first element in deterministic order.
func (s *Set[E]) Pop() (E, bool) {
	var zero E
	if s.items.Cardinality() == 0 {
		s.notify(accessRead)
		return zero, false
	}
	es := s.sorted()
	s.items.Remove(es[0])
	s.notify(accessWrite)
	return es[0], true
}

// UnionWith adds every element of o into s.
func (s *Set[E]) UnionWith(o *Set[E]) {
	o.notify(accessRead)
	s.items = s.items.Union(o.items)
	s.notify(accessWrite)
}

// IntersectWith keeps only the elements also in o.
func (s *Set[E]) IntersectWith(o *Set[E]) {
	o.notify(accessRead)
	s.items = s.items.Intersect(o.items)
	s.notify(accessWrite)
}

// DiffWith removes every element of o from s.
func (s *Set[E]) DiffWith(o *Set[E]) {
	o.notify(accessRead)
	s.items = s.items.Difference(o.items)
	s.notify(accessWrite)
}

// SymDiffWith keeps the elements in exactly one of s and o.
func (s *Set[E]) SymDiffWith(o *Set[E]) {
	o.notify(accessRead)
	s.items = s.items.SymmetricDifference(o.items)
	s.notify(accessWrite)
}

func (s *Set[E]) sorted() []E {
	es := s.items.ToSlice()
	sort.Slice(es, func(i, j int) bool {
		return KeyOf(es[i]).Encode() < KeyOf(es[j]).Encode()
	})
	return es
}

// All iterates elements in deterministic order.
func (s *Set[E]) All() iter.Seq[E] {
	return func(yield func(E) bool) {
		s.notify(accessRead)
		for _, e := range s.sorted() {
			if !yield(e) {
				return
			}
		}
	}
}

// Slice returns the elements in deterministic order.
func (s *Set[E]) Slice() []E {
	s.notify(accessRead)
	return s.sorted()
}
