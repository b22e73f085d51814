package state

import (
	"testing"

	"pgregory.net/rapid"
)

// Property: after any sequence of sequence operations, every live element's
// back-address names its current container slot, removed elements are not
// live, and no element is owned by two slots.
func TestVecBackAddressCoherence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		w := newAgentWorld()
		var removed []*agent

		ops := rapid.SliceOfN(rapid.IntRange(0, 6), 1, 40).Draw(t, "ops")
		next := 0
		for _, op := range ops {
			n := w.Agents.RawLen()
			switch op {
			case 0: // append
				w.Agents.Append(newAgent(next))
				next++
			case 1: // push front
				w.Agents.PushFront(newAgent(next))
				next++
			case 2: // pop front
				if n > 0 {
					removed = append(removed, w.Agents.PopFront())
				}
			case 3: // pop back
				if n > 0 {
					removed = append(removed, w.Agents.PopBack())
				}
			case 4: // insert at random index
				if n > 0 {
					i := rapid.IntRange(0, n-1).Draw(t, "insert_at")
					w.Agents.Insert(i, newAgent(next))
					next++
				}
			case 5: // overwrite at random index
				if n > 0 {
					i := rapid.IntRange(0, n-1).Draw(t, "set_at")
					removed = append(removed, w.Agents.Get(i))
					w.Agents.Set(i, newAgent(next))
					next++
				}
			case 6: // resize
				w.Agents.Resize(rapid.IntRange(0, n+2).Draw(t, "resize_to"))
			}
		}

		seen := map[*agent]bool{}
		for i := 0; i < w.Agents.RawLen(); i++ {
			a := w.Agents.Get(i)
			if a == nil {
				continue // resize-grown hole
			}
			if !a.Record.live {
				t.Fatalf("element at %d not live", i)
			}
			if a.Record.part != IntKey(i) {
				t.Fatalf("element at %d carries back index %v", i, a.Record.part)
			}
			if seen[a] {
				t.Fatalf("element at %d owned twice", i)
			}
			seen[a] = true
		}
		for _, a := range removed {
			if a != nil && a.Record.live && !seen[a] {
				t.Fatalf("removed element still live outside the container")
			}
		}
	})
}
