// Package depnet maintains the bipartite index between enabled events and
// the state addresses their precondition and rate depend on. Entries live
// exactly as long as the corresponding enabled-event record.
package depnet

import (
	mapset "github.com/deckarep/golang-set/v2"

	"kairos/engine/models"
	"kairos/engine/state"
)

// Network holds, per enabled key, the ordered address sets the most recent
// read-captures of its precondition and enable/reenable touched, plus the
// reverse indexes from address to dependent keys.
type Network struct {
	enable map[models.ClockKey]*state.AddrSet
	rate   map[models.ClockKey]*state.AddrSet

	revEnable map[string]mapset.Set[models.ClockKey]
	revRate   map[string]mapset.Set[models.ClockKey]
}

func New() *Network {
	return &Network{
		enable:    make(map[models.ClockKey]*state.AddrSet),
		rate:      make(map[models.ClockKey]*state.AddrSet),
		revEnable: make(map[string]mapset.Set[models.ClockKey]),
		revRate:   make(map[string]mapset.Set[models.ClockKey]),
	}
}

func indexInto(rev map[string]mapset.Set[models.ClockKey], k models.ClockKey, addrs *state.AddrSet) {
	for _, a := range addrs.Slice() {
		set := rev[a.Encode()]
		if set == nil {
			set = mapset.NewThreadUnsafeSet[models.ClockKey]()
			rev[a.Encode()] = set
		}
		set.Add(k)
	}
}

func unindexFrom(rev map[string]mapset.Set[models.ClockKey], k models.ClockKey, addrs *state.AddrSet) {
	for _, a := range addrs.Slice() {
		if set := rev[a.Encode()]; set != nil {
			set.Remove(k)
			if set.Cardinality() == 0 {
				delete(rev, a.Encode())
			}
		}
	}
}

// Put replaces both dep sets for k, updating the reverse indexes so that a
// key appears under an address iff the address is in its forward set.
func (n *Network) Put(k models.ClockKey, enableDeps, rateDeps *state.AddrSet) {
	if old := n.enable[k]; old != nil {
		unindexFrom(n.revEnable, k, old)
	}
	if old := n.rate[k]; old != nil {
		unindexFrom(n.revRate, k, old)
	}
	n.enable[k] = enableDeps
	n.rate[k] = rateDeps
	indexInto(n.revEnable, k, enableDeps)
	indexInto(n.revRate, k, rateDeps)
}

// Drop removes both dep sets for k.
func (n *Network) Drop(k models.ClockKey) {
	if old := n.enable[k]; old != nil {
		unindexFrom(n.revEnable, k, old)
		delete(n.enable, k)
	}
	if old := n.rate[k]; old != nil {
		unindexFrom(n.revRate, k, old)
		delete(n.rate, k)
	}
}

func (n *Network) GetEnable(k models.ClockKey) *state.AddrSet { return n.enable[k] }
func (n *Network) GetRate(k models.ClockKey) *state.AddrSet   { return n.rate[k] }

// Contains reports whether k has an entry.
func (n *Network) Contains(k models.ClockKey) bool {
	_, ok := n.enable[k]
	return ok
}

func affected(rev map[string]mapset.Set[models.ClockKey], addrs *state.AddrSet) []models.ClockKey {
	union := mapset.NewThreadUnsafeSet[models.ClockKey]()
	for _, a := range addrs.Slice() {
		if set := rev[a.Encode()]; set != nil {
			union = union.Union(set)
		}
	}
	return models.SortKeys(union.ToSlice())
}

// EventsAffectingEnable returns, in key order, every key whose enable deps
// intersect the given addresses.
func (n *Network) EventsAffectingEnable(addrs *state.AddrSet) []models.ClockKey {
	return affected(n.revEnable, addrs)
}

// EventsAffectingRate returns, in key order, every key whose rate deps
// intersect the given addresses.
func (n *Network) EventsAffectingRate(addrs *state.AddrSet) []models.ClockKey {
	return affected(n.revRate, addrs)
}

// Keys returns every tracked key in order.
func (n *Network) Keys() []models.ClockKey {
	keys := make([]models.ClockKey, 0, len(n.enable))
	for k := range n.enable {
		keys = append(keys, k)
	}
	return models.SortKeys(keys)
}

func (n *Network) Len() int { return len(n.enable) }
