package routing

import (
	"testing"

	"olsrv2d/internal/meshdomain"
	"olsrv2d/internal/netaddr"
)

func addr(b byte) netaddr.NetAddr {
	return netaddr.New(netaddr.FamilyIPv4, []byte{10, 0, 0, b})
}

func nodeTarget(b byte) Target {
	a := addr(b)
	return Target{Kind: TargetNode, Key: a.String(), Addr: a}
}

// fakeGraph is a tiny, hand-built graph: us -> B (cost 10) -> C (cost 10),
// and us -> C directly (cost 30), so the two-hop path through B should win.
// The ss* fields default to the non-split case (false, true, false); tests
// exercising spec.md §4.9's split pass override them explicitly.
type fakeGraph struct {
	seeds []Seed
	edges map[string][]Edge

	ssNode       bool
	nonSSNode    bool
	ssAttachment bool
}

func (g *fakeGraph) Seeds(meshdomain.ID, netaddr.Family) []Seed { return g.seeds }
func (g *fakeGraph) EdgesFrom(_ meshdomain.ID, _ netaddr.Family, fromKey string) []Edge {
	return g.edges[fromKey]
}
func (g *fakeGraph) HasSourceSpecificNode(meshdomain.ID, netaddr.Family) bool { return g.ssNode }
func (g *fakeGraph) HasNonSourceSpecificNode(meshdomain.ID, netaddr.Family) bool {
	if !g.ssNode && !g.ssAttachment {
		return true // default non-split fixtures never set nonSSNode explicitly
	}
	return g.nonSSNode
}
func (g *fakeGraph) HasSourceSpecificAttachment(meshdomain.ID, netaddr.Family) bool {
	return g.ssAttachment
}

func TestDijkstraPrefersCheaperMultiHopPath(t *testing.T) {
	b, c := nodeTarget(2), nodeTarget(3)
	g := &fakeGraph{
		seeds: []Seed{
			{Target: b, Cost: 10, FirstHopOriginator: addr(2)},
			{Target: c, Cost: 30, FirstHopOriginator: addr(3)},
		},
		edges: map[string][]Edge{
			b.Key: {{To: c, Out: 10}},
		},
	}
	entries := Run(g, meshdomain.FloodingDomain, netaddr.FamilyIPv4)

	var gotC *Entry
	for i := range entries {
		if entries[i].Key.Dst.Equal(c.Addr) {
			gotC = &entries[i]
		}
	}
	if gotC == nil {
		t.Fatalf("expected a route to C")
	}
	if gotC.Cost != 20 {
		t.Fatalf("expected the 2-hop path (cost 20) to beat the direct 1-hop (cost 30), got cost %d", gotC.Cost)
	}
	if gotC.NextOriginator.String() != addr(2).String() {
		t.Fatalf("expected next-hop gateway to be B, got %s", gotC.NextOriginator)
	}
}

// A self-loop edge back to an already-settled target must not reopen it:
// the "done" set emits each target at most once (no negative-weight
// shortcuts exist in this model, so a settled target never needs reopening).
func TestDijkstraNeverRevisitsDoneTarget(t *testing.T) {
	b := nodeTarget(2)
	g := &fakeGraph{
		seeds: []Seed{{Target: b, Cost: 5, FirstHopOriginator: addr(2)}},
		edges: map[string][]Edge{
			b.Key: {{To: b, Out: 1}}, // self-loop must not cause infinite relaxation
		},
	}
	entries := Run(g, meshdomain.FloodingDomain, netaddr.FamilyIPv4)
	count := 0
	for _, e := range entries {
		if e.Key.Dst.Equal(b.Addr) {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one entry for B despite a self-loop edge, got %d", count)
	}
}

// spec.md §4.9: "ss_split = (exists source-specific TcNode) AND (not all
// nodes are source-specific) AND (exists source-specific attachment in
// this domain)". When it holds, the non-ss pass runs first and the ss
// pass reuses its routes to non-ss intermediates as starting paths — so a
// source-specific attachment reachable only through a non-ss node still
// gets a route, even though the ss pass's own candidate set never admits
// that non-ss node directly.
func TestDijkstraSourceSpecificSplitReusesNonSSRoutes(t *testing.T) {
	b, s := nodeTarget(2), nodeTarget(9)
	s.SourceSpecific = true

	ssPrefix := addr(99).WithPrefix(24)
	attach := Target{
		Kind:           TargetAttachment,
		Key:            "attach:ss",
		Addr:           ssPrefix,
		SourceSpecific: true,
		SourcePrefix:   ssPrefix,
	}

	g := &fakeGraph{
		ssNode: true, nonSSNode: true, ssAttachment: true,
		seeds: []Seed{
			{Target: b, Cost: 10, FirstHopOriginator: addr(2)},
			{Target: s, Cost: 3, FirstHopOriginator: addr(9)},
		},
		edges: map[string][]Edge{
			b.Key: {{To: attach, Out: 5}},
		},
	}

	entries := Run(g, meshdomain.FloodingDomain, netaddr.FamilyIPv4)

	var gotAttach *Entry
	for i := range entries {
		if entries[i].Key.Dst.Equal(attach.Addr) {
			gotAttach = &entries[i]
		}
	}
	if gotAttach == nil {
		t.Fatalf("expected a route to the source-specific attachment via the non-ss intermediate B")
	}
	if gotAttach.Cost != 15 {
		t.Fatalf("expected cost 10 (B) + 5 (attachment) = 15, got %d", gotAttach.Cost)
	}
	if !gotAttach.Key.Src.Equal(ssPrefix) {
		t.Fatalf("expected RouteKey.Src set to the attachment's source prefix, got %+v", gotAttach.Key.Src)
	}

	var gotB *Entry
	for i := range entries {
		if entries[i].Key.Dst.Equal(b.Addr) {
			gotB = &entries[i]
		}
	}
	if gotB == nil {
		t.Fatalf("expected the non-ss pass to still emit a plain route to B")
	}
	if gotB.Key.Src.PrefixLen != 0 {
		t.Fatalf("expected B's RouteKey to be non-source-specific")
	}
}

func TestDijkstraTieBreaksByLowerOriginator(t *testing.T) {
	b, c := nodeTarget(5), nodeTarget(2)
	g := &fakeGraph{
		seeds: []Seed{
			{Target: b, Cost: 10, FirstHopOriginator: addr(5)},
			{Target: c, Cost: 10, FirstHopOriginator: addr(2)},
		},
		edges: map[string][]Edge{},
	}
	entries := Run(g, meshdomain.FloodingDomain, netaddr.FamilyIPv4)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// Both have equal cost/hops, so the lower originator (C, 10.0.0.2) is
	// settled and emitted first.
	if !entries[0].Key.Dst.Equal(c.Addr) {
		t.Fatalf("expected the lower originator %s first on a cost/hops tie, got %s", c.Addr, entries[0].Key.Dst)
	}
}
