package simdb

import (
	"fmt"
)

// ReplicationPolicy is a predicate over a set of localities,
// deciding whether the set satisfies a replication
// configuration (e.g. "at least one survivor per data hall").
type ReplicationPolicy interface {
	// Validate reports whether the group satisfies the
	// policy.
	Validate(group []LocalityData) bool
	Info() string
}

// PolicyOne is satisfied by any non-empty group.
type PolicyOne struct{}

func (p *PolicyOne) Validate(group []LocalityData) bool {
	return len(group) > 0
}

func (p *PolicyOne) Info() string { return "One" }

// PolicyAcross requires Count distinct values of the locality
// attribute Attr, each of whose subgroup satisfies Under.
type PolicyAcross struct {
	Count int
	Attr  string
	Under ReplicationPolicy
}

func (p *PolicyAcross) Validate(group []LocalityData) bool {
	// deterministic grouping: omap, not the builtin map.
	byAttr := newOmap[string, []LocalityData]()
	for _, l := range group {
		v := l.attr(p.Attr)
		if v == "" {
			continue
		}
		cur, _ := byAttr.get2(v)
		byAttr.set(v, append(cur, l))
	}
	satisfied := 0
	for _, sub := range byAttr.all() {
		if p.Under.Validate(sub) {
			satisfied++
		}
	}
	return satisfied >= p.Count
}

func (p *PolicyAcross) Info() string {
	return fmt.Sprintf("Across(%v, %v, %v)", p.Count, p.Attr, p.Under.Info())
}

func localities(procs []*Process) (r []LocalityData) {
	for _, p := range procs {
		r = append(r, p.Locality)
	}
	return
}

func describeZones(ls []LocalityData) string {
	seen := newOmap[string, bool]()
	for _, l := range ls {
		seen.set(l.ZoneID, true)
	}
	r := ""
	sep := ""
	for z := range seen.all() {
		r += sep + z
		sep = ","
	}
	return r
}

func describeDataHalls(ls []LocalityData) string {
	seen := newOmap[string, bool]()
	for _, l := range ls {
		seen.set(l.DataHallID, true)
	}
	r := ""
	sep := ""
	for z := range seen.all() {
		r += sep + z
		sep = ","
	}
	return r
}

// validateAllCombinations checks the tLog anti-quorum: it
// returns false iff some subset of size antiQuorum taken from
// available, merged with the dead set, would validate policy
// (meaning the anti-quorum of unacknowledged tLogs could
// already be lost, pushing the effective dead set over a full
// replica team).
func validateAllCombinations(dead []LocalityData, policy ReplicationPolicy,
	available []LocalityData, antiQuorum int) bool {

	if antiQuorum <= 0 {
		return true
	}
	if antiQuorum > len(available) {
		antiQuorum = len(available)
	}
	idx := make([]int, antiQuorum)
	for i := range idx {
		idx[i] = i
	}
	merged := make([]LocalityData, 0, len(dead)+antiQuorum)
	for {
		merged = merged[:0]
		merged = append(merged, dead...)
		for _, i := range idx {
			merged = append(merged, available[i])
		}
		if policy.Validate(merged) {
			return false
		}
		// next combination, lexicographic.
		i := antiQuorum - 1
		for i >= 0 && idx[i] == len(available)-antiQuorum+i {
			i--
		}
		if i < 0 {
			return true
		}
		idx[i]++
		for j := i + 1; j < antiQuorum; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}
