package daemon

import (
	"olsrv2d/internal/meshdomain"
	"olsrv2d/internal/nhdp"
	"olsrv2d/internal/netaddr"
	"olsrv2d/internal/olsrv2"
	"olsrv2d/internal/routing"
)

// graphAdapter bridges internal/nhdp's LinkSet (one-hop seeding) and
// internal/olsrv2's TC database (multi-hop edges/attachments) into the
// single routing.Graph seam Dijkstra consumes, grounded on
// original_source/src/olsrv2/olsrv2/olsrv2_routing.c's combined use of
// the neighbor table for seeding and the topology set for relaxation.
//
// Source-specific routing (spec.md §4.9) is driven by two independent TC
// facts: a TcNode's own self-declared per-domain TcNode.SourceSpecific
// flag, and a TcAttachment's SourcePrefix. HasSourceSpecificNode/
// HasSourceSpecificAttachment below scan the live olsrv2.DB for either, so
// routing.Run's ss-split second pass engages exactly when spec.md §4.9's
// ss_split condition holds.
type graphAdapter struct {
	ls *nhdp.LinkSet
	tc *olsrv2.DB
}

func newGraphAdapter(ls *nhdp.LinkSet, tc *olsrv2.DB) *graphAdapter {
	return &graphAdapter{ls: ls, tc: tc}
}

func (g *graphAdapter) Seeds(domain meshdomain.ID, family netaddr.Family) []routing.Seed {
	var seeds []routing.Seed
	g.ls.Neighbors(func(n *nhdp.Neighbor) {
		if n.SymmetricCount <= 0 || n.Originator.Family != family {
			return
		}
		ds, ok := n.Domains[domain]
		if !ok || !ds.MetricOut.Known() {
			return
		}
		seeds = append(seeds, routing.Seed{
			Target: routing.Target{
				Kind:           routing.TargetNode,
				Key:            n.Originator.String(),
				Addr:           n.Originator,
				SourceSpecific: g.nodeSourceSpecific(n.Originator, domain),
			},
			Cost:               ds.MetricOut,
			FirstHopOriginator: n.Originator,
			FirstHopIfIndex:    ds.BestLinkIfIndex,
		})
	})
	return seeds
}

// nodeSourceSpecific reports the self-declared per-domain source-specific
// flag (spec.md §3) of the TcNode shadowing originator, if one exists yet.
func (g *graphAdapter) nodeSourceSpecific(originator netaddr.NetAddr, domain meshdomain.ID) bool {
	n, ok := g.tc.NodeByOriginator(originator)
	if !ok {
		return false
	}
	return n.SourceSpecific[domain]
}

func (g *graphAdapter) EdgesFrom(domain meshdomain.ID, family netaddr.Family, fromKey string) []routing.Edge {
	n, ok := g.tc.NodeByKey(fromKey)
	if !ok {
		return nil
	}
	var edges []routing.Edge
	for _, e := range n.Edges {
		dm, ok := e.Domains[domain]
		if !ok || !dm.Out.Known() {
			continue
		}
		target, ok := g.tc.NodeByHandle(e.Target)
		if !ok || target.Originator.Family != family {
			continue
		}
		edges = append(edges, routing.Edge{
			To: routing.Target{
				Kind:           routing.TargetNode,
				Key:            target.Originator.String(),
				Addr:           target.Originator,
				SourceSpecific: target.SourceSpecific[domain],
			},
			Out: dm.Out,
		})
	}
	for _, a := range n.Attachments {
		if a.Prefix.Family != family {
			continue
		}
		m, ok := a.Domains[domain]
		if !ok || !m.Known() {
			continue
		}
		edges = append(edges, routing.Edge{
			To: routing.Target{
				Kind:           routing.TargetAttachment,
				Key:            "attach:" + a.Prefix.String(),
				Addr:           a.Prefix,
				SourceSpecific: a.IsSourceSpecific(),
				SourcePrefix:   a.SourcePrefix,
			},
			Out: m,
		})
	}
	return edges
}

// HasSourceSpecificNode reports spec.md §4.9's "exists source-specific
// TcNode": any live TcNode in domain/family with its own SourceSpecific
// flag set.
func (g *graphAdapter) HasSourceSpecificNode(domain meshdomain.ID, family netaddr.Family) bool {
	found := false
	g.tc.Each(func(n *olsrv2.TcNode) {
		if found || n.Originator.Family != family {
			return
		}
		if n.SourceSpecific[domain] {
			found = true
		}
	})
	return found
}

// HasNonSourceSpecificNode reports spec.md §4.9's "not all nodes are
// source-specific": any live, ANSN-backed or direct-neighbor TcNode in
// domain/family without the SourceSpecific flag set.
func (g *graphAdapter) HasNonSourceSpecificNode(domain meshdomain.ID, family netaddr.Family) bool {
	found := false
	g.tc.Each(func(n *olsrv2.TcNode) {
		if found || n.Originator.Family != family {
			return
		}
		if (n.HasAnsn || n.DirectNeighbor) && !n.SourceSpecific[domain] {
			found = true
		}
	})
	return found
}

// HasSourceSpecificAttachment reports spec.md §4.9's "exists
// source-specific attachment in this domain": any live TcAttachment in
// domain/family whose SourcePrefix is set.
func (g *graphAdapter) HasSourceSpecificAttachment(domain meshdomain.ID, family netaddr.Family) bool {
	found := false
	g.tc.Each(func(n *olsrv2.TcNode) {
		if found {
			return
		}
		for _, a := range n.Attachments {
			if a.Prefix.Family != family {
				continue
			}
			if _, ok := a.Domains[domain]; !ok {
				continue
			}
			if a.IsSourceSpecific() {
				found = true
				return
			}
		}
	})
	return found
}
