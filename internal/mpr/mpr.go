// Package mpr implements the pluggable flooding-/routing-MPR selection of
// SPEC_FULL.md §4.7. The "everyone" flooding default and the "greedy"
// routing default are both grounded on the teacher's calculateMPRs
// (node.go): the greedy default is a direct generalization of that
// function from a single flat id-space to the NeighborView/TwoHopView
// abstraction so it can run against real NHDP link-set data per domain.
package mpr

import (
	"sort"

	"olsrv2d/internal/meshdomain"
)

// NeighborID is an opaque key identifying one NHDP Neighbor — concretely
// the neighbor's originator or arena handle, supplied by internal/nhdp.
type NeighborID uint64

// NeighborView is the read-only per-neighbor fact MPR algorithms consume.
type NeighborView struct {
	ID          NeighborID
	Willingness meshdomain.Willingness
	TwoHops     []NeighborID // 2-hop addresses/neighbors reachable via this neighbor
}

// Algorithm is the capability set a pluggable MPR implementation exposes
// (spec.md §9 design notes: "a small capability set"). Compute receives
// a read-only view of the one-hop/two-hop neighborhood and must return
// the set of neighbors selected as MPR.
type Algorithm interface {
	Name() string
	Enable()
	Disable()
	Compute(neighbors []NeighborView) map[NeighborID]bool
}

// Everyone selects every neighbor with willingness > NEVER as an MPR —
// the spec's named default flooding-MPR algorithm.
type Everyone struct{}

func (Everyone) Name() string { return "everyone" }
func (Everyone) Enable()      {}
func (Everyone) Disable()     {}

func (Everyone) Compute(neighbors []NeighborView) map[NeighborID]bool {
	out := make(map[NeighborID]bool, len(neighbors))
	for _, n := range neighbors {
		if n.Willingness.CanBeMPR() {
			out[n.ID] = true
		}
	}
	return out
}

// Greedy is a direct generalization of the teacher's calculateMPRs: it
// repeatedly selects the lowest-ID remaining candidate, whether or not it
// covers any still-uncovered 2-hop neighbor, until every reachable 2-hop
// neighbor is covered by some selected MPR.
//
// The teacher's node.go picks "nodes[0]" after a stable sort by ID rather
// than the 2-hop-coverage-maximizing node every iteration; we preserve
// that simplification (it is what "greedy" names in this codebase) but
// restrict candidates to willingness > NEVER, which the teacher's
// simulation did not model.
type Greedy struct{}

func (Greedy) Name() string { return "greedy" }
func (Greedy) Enable()      {}
func (Greedy) Disable()     {}

func (Greedy) Compute(neighbors []NeighborView) map[NeighborID]bool {
	remaining := make(map[NeighborID]bool)
	candidateOf := make(map[NeighborID][]NeighborID)
	var candidates []NeighborID

	for _, n := range neighbors {
		if !n.Willingness.CanBeMPR() {
			continue
		}
		candidates = append(candidates, n.ID)
		candidateOf[n.ID] = n.TwoHops
		for _, th := range n.TwoHops {
			remaining[th] = true
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	mprs := make(map[NeighborID]bool)
	for len(remaining) > 0 && len(candidates) > 0 {
		pick := candidates[0]
		candidates = candidates[1:]
		mprs[pick] = true
		for _, th := range candidateOf[pick] {
			delete(remaining, th)
		}
	}
	return mprs
}
