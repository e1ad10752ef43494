// Package routing implements the multi-domain Dijkstra of
// SPEC_FULL.md §4.9, grounded on
// original_source/src/olsrv2/olsrv2/olsrv2_routing.c's single sorted
// candidate-tree Dijkstra, generalized here onto an abstract Graph seam
// (the daemon wiring layer adapts internal/nhdp and internal/olsrv2 into
// it) so the algorithm itself
// stays independent of their concrete entity types and is unit-testable
// against a fake graph.
package routing

import (
	"container/heap"

	"olsrv2d/internal/meshdomain"
	"olsrv2d/internal/netaddr"
)

// TargetKind distinguishes the three kinds of Dijkstra target (spec.md
// §4.9: "Target ≡ TcNode | TcEndpoint(attachment) | LAN").
type TargetKind int

const (
	TargetNode TargetKind = iota
	TargetAttachment
	TargetLAN
)

// Target is one relaxable or terminal vertex in the Dijkstra run.
type Target struct {
	Kind           TargetKind
	Key            string // stable identity, e.g. originator.String() for nodes
	Addr           netaddr.NetAddr
	SourceSpecific bool
	SourcePrefix   netaddr.NetAddr
}

// Edge is one outgoing relaxation step from a TcNode target.
type Edge struct {
	To  Target
	Out meshdomain.Metric
}

// Seed is a directly (one-hop) reachable target, produced from
// NHDPLinkSet per spec.md §4.9's seeding rule.
type Seed struct {
	Target          Target
	Cost            meshdomain.Metric
	FirstHopOriginator netaddr.NetAddr
	FirstHopIfIndex int
}

// Graph is the read-only view Dijkstra consumes; internal/nhdp and
// internal/olsrv2 are adapted into one by the daemon wiring layer.
type Graph interface {
	Seeds(domain meshdomain.ID, family netaddr.Family) []Seed
	EdgesFrom(domain meshdomain.ID, family netaddr.Family, fromKey string) []Edge
	HasSourceSpecificNode(domain meshdomain.ID, family netaddr.Family) bool
	HasNonSourceSpecificNode(domain meshdomain.ID, family netaddr.Family) bool
	HasSourceSpecificAttachment(domain meshdomain.ID, family netaddr.Family) bool
}

// Entry is one routing table entry produced by a Dijkstra run.
type Entry struct {
	Key            netaddr.RouteKey
	Cost           meshdomain.Metric
	Hops           int
	NextOriginator netaddr.NetAddr // next-hop neighbor originator (gateway)
	LastOriginator netaddr.NetAddr // originator of the node immediately before the destination
	IfIndex        int
}

type candidate struct {
	target    Target
	cost      meshdomain.Metric
	hops      int
	firstOrig netaddr.NetAddr
	firstIf   int
	lastOrig  netaddr.NetAddr

	// fromPrior marks a candidate reseeded from the non-ss pass's own
	// results (spec.md §4.9's "reusing already-computed routes to non-ss
	// intermediates as starting paths"). It bypasses the admits() gate so
	// ss-only edges from a non-ss intermediate still relax, but it is not
	// re-emitted as an Entry — the non-ss pass already emitted it.
	fromPrior bool
}

type candidateHeap []*candidate

func (h candidateHeap) Len() int { return len(h) }
func (h candidateHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.cost != b.cost {
		return a.cost.Less(b.cost)
	}
	if a.hops != b.hops {
		return a.hops < b.hops
	}
	return a.target.Addr.Less(b.target.Addr)
}
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(*candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return c
}

// Run executes the full multi-domain Dijkstra for domain/family, handling
// the source-specific split described in spec.md §4.9.
func Run(g Graph, domain meshdomain.ID, family netaddr.Family) []Entry {
	hasSS := g.HasSourceSpecificNode(domain, family)
	hasNonSS := g.HasNonSourceSpecificNode(domain, family)
	hasSSAttachment := g.HasSourceSpecificAttachment(domain, family)
	ssSplit := hasSS && hasNonSS && hasSSAttachment

	if !ssSplit {
		return runPass(g, domain, family, true, true, nil)
	}
	nonSS := runPass(g, domain, family, true, false, nil)
	ss := runPass(g, domain, family, false, true, nonSS)
	return append(nonSS, ss...)
}

// runPass runs one Dijkstra pass, admitting only targets matching
// (useNonSS, useSS). priorRoutes, when non-nil, seeds the candidate set
// with already-computed non-ss routes so ss-only edges reachable through a
// non-ss intermediate still relax (spec.md §4.9: "reusing already-computed
// routes to non-ss intermediates as starting paths").
func runPass(g Graph, domain meshdomain.ID, family netaddr.Family, useNonSS, useSS bool, priorRoutes []Entry) []Entry {
	admits := func(t Target) bool {
		if t.SourceSpecific {
			return useSS
		}
		return useNonSS
	}

	done := make(map[string]bool)
	best := make(map[string]*candidate)
	var pq candidateHeap

	push := func(c *candidate) {
		if !c.fromPrior && !admits(c.target) {
			return
		}
		if done[c.target.Key] {
			return
		}
		if prev, ok := best[c.target.Key]; ok {
			less := c.cost.Less(prev.cost) ||
				(c.cost == prev.cost && c.hops < prev.hops) ||
				(c.cost == prev.cost && c.hops == prev.hops && c.target.Addr.Less(prev.target.Addr))
			if !less {
				return
			}
		}
		best[c.target.Key] = c
		heap.Push(&pq, c)
	}

	for _, s := range g.Seeds(domain, family) {
		push(&candidate{
			target: s.Target, cost: s.Cost, hops: 1,
			firstOrig: s.FirstHopOriginator, firstIf: s.FirstHopIfIndex,
			lastOrig: s.FirstHopOriginator,
		})
	}
	for _, r := range priorRoutes {
		push(&candidate{
			target:    Target{Kind: TargetNode, Key: r.Key.Dst.String(), Addr: r.Key.Dst},
			cost:      r.Cost,
			hops:      r.Hops,
			firstOrig: r.NextOriginator,
			firstIf:   r.IfIndex,
			lastOrig:  r.LastOriginator,
			fromPrior: true,
		})
	}

	var out []Entry
	for pq.Len() > 0 {
		c := heap.Pop(&pq).(*candidate)
		if done[c.target.Key] {
			continue
		}
		if cur, ok := best[c.target.Key]; ok && cur != c {
			continue // stale entry superseded by a better one
		}
		done[c.target.Key] = true

		if c.hops > 0 && !c.fromPrior {
			out = append(out, Entry{
				Key:            routeKeyFor(c),
				Cost:           c.cost,
				Hops:           c.hops,
				NextOriginator: c.firstOrig,
				LastOriginator: c.lastOrig,
				IfIndex:        c.firstIf,
			})
		}

		if c.target.Kind != TargetNode {
			continue
		}
		for _, e := range g.EdgesFrom(domain, family, c.target.Key) {
			if !e.Out.Known() || !c.cost.Known() {
				continue
			}
			push(&candidate{
				target:    e.To,
				cost:      c.cost.Add(e.Out),
				hops:      c.hops + 1,
				firstOrig: c.firstOrig,
				firstIf:   c.firstIf,
				lastOrig:  c.target.Addr,
			})
		}
	}
	return out
}

func routeKeyFor(c *candidate) netaddr.RouteKey {
	key := netaddr.RouteKey{Dst: c.target.Addr}
	if c.target.SourceSpecific {
		key.Src = c.target.SourcePrefix
	}
	return key
}
