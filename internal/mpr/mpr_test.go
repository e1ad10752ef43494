package mpr

import (
	"testing"

	"olsrv2d/internal/meshdomain"
)

// These two cases are adapted directly from the teacher's
// Test_calculateMPRs ("ensure greedy" / "ensure coverage" in
// node_test.go) onto the NeighborView/Algorithm abstraction.
func TestGreedyEnsureGreedy(t *testing.T) {
	neighbors := []NeighborView{
		{ID: 1, Willingness: meshdomain.WillingnessDefault, TwoHops: []NeighborID{3, 4}},
		{ID: 2, Willingness: meshdomain.WillingnessDefault, TwoHops: []NeighborID{3}},
	}
	got := Greedy{}.Compute(neighbors)
	if !got[1] || got[2] {
		t.Fatalf("expected only neighbor 1 selected as MPR, got %v", got)
	}
}

func TestGreedyEnsureCoverage(t *testing.T) {
	neighbors := []NeighborView{
		{ID: 1, Willingness: meshdomain.WillingnessDefault, TwoHops: []NeighborID{3}},
		{ID: 2, Willingness: meshdomain.WillingnessDefault, TwoHops: []NeighborID{4}},
	}
	got := Greedy{}.Compute(neighbors)
	if !got[1] || !got[2] {
		t.Fatalf("expected both neighbors selected to cover disjoint 2-hop sets, got %v", got)
	}
}

func TestEveryoneExcludesNever(t *testing.T) {
	neighbors := []NeighborView{
		{ID: 1, Willingness: meshdomain.WillingnessNever},
		{ID: 2, Willingness: meshdomain.WillingnessDefault},
	}
	got := Everyone{}.Compute(neighbors)
	if got[1] || !got[2] {
		t.Fatalf("expected only neighbor 2 as MPR, got %v", got)
	}
}

func TestGreedyNoMPRsBeforeAnyHello(t *testing.T) {
	got := Greedy{}.Compute(nil)
	if len(got) != 0 {
		t.Fatalf("expected no MPRs with no neighbors, got %v", got)
	}
}
