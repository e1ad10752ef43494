// Package olsrv2 implements OLSRv2TC, the topology-control database of
// SPEC_FULL.md §4.8: per-originator ANSN-gated ingestion of advertised
// neighbor/attachment sets, virtual back-pointer bookkeeping and the
// delayed consistency re-check, grounded on
// original_source/src/olsrv2/olsrv2/olsrv2_routing.c and generalized from
// the teacher's flat TopologyEntry table (node.go's
// topologyTable/updateTopologyTable) into a real node/edge graph with
// arena-backed handles (spec.md §9).
package olsrv2

import (
	"olsrv2d/internal/container"
	"olsrv2d/internal/meshdomain"
	"olsrv2d/internal/netaddr"
	"olsrv2d/internal/sched"
)

// DomainMetric is a directed, per-domain in/out metric pair.
type DomainMetric struct {
	In, Out meshdomain.Metric
}

// TcEdge is one outgoing edge of a TcNode. Virtual marks an edge that was
// synthesized from its inverse direction rather than directly advertised
// in a TC from this edge's own owner (spec.md §3: "virtual is set when
// only the inverse was observed in a TC"); Inverse is the back-pointer to
// the paired edge on the target node, kept in sync by replaceEdges.
type TcEdge struct {
	Target  container.Handle // TcNode handle
	Ansn    uint16
	Domains map[meshdomain.ID]*DomainMetric
	Virtual bool
	Inverse *TcEdge
}

func (e *TcEdge) domain(id meshdomain.ID) *DomainMetric {
	d, ok := e.Domains[id]
	if !ok {
		d = &DomainMetric{In: meshdomain.MetricUnknown, Out: meshdomain.MetricUnknown}
		e.Domains[id] = d
	}
	return d
}

// TcAttachment advertises a node's attached (non-mesh) network. Unlike
// TcEdge, attachments have no inverse direction to synthesize, so spec.md
// §3 gives TcAttachment no virtual flag. SourcePrefix is the endpoint's
// source restriction (spec.md §3 RouteKey: "src prefix of length 0 means
// non-source-specific"); a zero-value SourcePrefix is an ordinary,
// non-source-specific attachment.
type TcAttachment struct {
	Prefix       netaddr.NetAddr
	SourcePrefix netaddr.NetAddr
	Distance     uint8
	Domains      map[meshdomain.ID]meshdomain.Metric
}

func (a *TcAttachment) IsSourceSpecific() bool {
	return a.SourcePrefix.PrefixLen > 0
}

// TcNode is one originator's topology entry (spec.md §4.8). SourceSpecific
// is the per-domain flag spec.md §3 stores on the entity itself: it is
// self-declared by the originator in its own TC (the same way ANSN is),
// marking that, in that domain, this node only belongs to a
// source-restricted sub-topology and should be excluded from the
// non-source-specific Dijkstra pass once a split is underway (spec.md
// §4.9).
type TcNode struct {
	Originator     netaddr.NetAddr
	Ansn           uint16
	HasAnsn        bool
	DirectNeighbor bool
	SourceSpecific map[meshdomain.ID]bool

	Edges       map[string]*TcEdge // keyed by target originator string
	Attachments map[string]*TcAttachment

	validTimer *sched.Timer
	gcTimer    *sched.Timer

	self container.Handle
}

// NeighborAdv is one advertised-neighbor entry inside a received TC
// message.
type NeighborAdv struct {
	Originator netaddr.NetAddr
	Domains    map[meshdomain.ID]DomainMetric
}

// AttachmentAdv is one advertised-attached-network entry. A non-zero
// SourcePrefix marks it source-specific (spec.md §3).
type AttachmentAdv struct {
	Prefix       netaddr.NetAddr
	SourcePrefix netaddr.NetAddr
	Distance     uint8
	Domains      map[meshdomain.ID]meshdomain.Metric
}

// DB is the OLSRv2TC database, one per daemon.
type DB struct {
	wheel *sched.Wheel

	nodes container.Arena[*TcNode]

	// byOriginator maps netaddr.String() to a node handle, ordered by
	// address string so a future longest-match or range-style topology
	// query can walk it directly instead of sorting a plain map's keys.
	byOriginator *container.OrderedMap[string, container.Handle]

	// OnDomainDirty fires whenever ingestion changes a domain's edge or
	// attachment set, per spec.md §4.11's domain_changed signal.
	OnDomainDirty func(domain meshdomain.ID)

	// GCDelayMs bounds the "schedule a delayed re-check to remove truly
	// orphaned virtuals" rule (spec.md §4.8).
	GCDelayMs int64
}

func NewDB(wheel *sched.Wheel) *DB {
	return &DB{
		wheel:        wheel,
		byOriginator: container.New[string, container.Handle](func(a, b string) bool { return a < b }, false),
		GCDelayMs:    5000,
	}
}

func (db *DB) nodeFor(originator netaddr.NetAddr) *TcNode {
	key := originator.String()
	if h, ok := db.byOriginator.Get(key); ok {
		if n, ok := db.nodes.Get(h); ok {
			return n
		}
	}
	n := &TcNode{
		Originator:  originator,
		Edges:       make(map[string]*TcEdge),
		Attachments: make(map[string]*TcAttachment),
	}
	h := db.nodes.Insert(n)
	n.self = h
	db.byOriginator.Put(key, h)
	return n
}

// NodeByOriginator looks up a live TcNode without creating one.
func (db *DB) NodeByOriginator(originator netaddr.NetAddr) (*TcNode, bool) {
	h, ok := db.byOriginator.Get(originator.String())
	if !ok {
		return nil, false
	}
	return db.nodes.Get(h)
}

// NodeByHandle resolves a TcNode handle.
func (db *DB) NodeByHandle(h container.Handle) (*TcNode, bool) {
	return db.nodes.Get(h)
}

// NodeByKey looks up a live TcNode by its originator string key, for
// callers (internal/routing's Graph adapter) that only carry the key from
// a routing.Target rather than the parsed NetAddr.
func (db *DB) NodeByKey(key string) (*TcNode, bool) {
	h, ok := db.byOriginator.Get(key)
	if !ok {
		return nil, false
	}
	return db.nodes.Get(h)
}

// Each iterates every live TcNode.
func (db *DB) Each(fn func(*TcNode)) {
	db.nodes.Each(func(_ container.Handle, n *TcNode) { fn(n) })
}

// SetDirectNeighbor flips a TcNode's direct-neighbor flag when the
// corresponding NHDP Neighbor appears or disappears, per spec.md §4.8
// ("the corresponding TcNode's direct-neighbor flag flips and a domain is
// marked dirty").
func (db *DB) SetDirectNeighbor(originator netaddr.NetAddr, present bool, domain meshdomain.ID) {
	n := db.nodeFor(originator)
	if n.DirectNeighbor == present {
		return
	}
	n.DirectNeighbor = present
	if !present && !n.HasAnsn && len(n.Edges) == 0 && len(n.Attachments) == 0 {
		db.scheduleGC(n)
	}
	if db.OnDomainDirty != nil {
		db.OnDomainDirty(domain)
	}
}

// IngestTC applies one received TC message. sourceSpecific carries the
// originator's own self-declared per-domain source-specific flag (spec.md
// §3 TcNode entity field); a nil or missing entry for a domain means
// false. It returns false if the message's ANSN is older than the one
// already stored (discarded per spec.md §4.8), true if applied.
func (db *DB) IngestTC(originator netaddr.NetAddr, ansn uint16, vtimeMs int64, neighbors []NeighborAdv, attachments []AttachmentAdv, sourceSpecific map[meshdomain.ID]bool) bool {
	n := db.nodeFor(originator)
	if n.HasAnsn && ansnLess(ansn, n.Ansn) {
		return false
	}
	n.Ansn = ansn
	n.HasAnsn = true

	if n.validTimer == nil {
		n.validTimer = db.wheel.New(func() { db.onNodeExpire(n) })
	}
	db.wheel.Set(n.validTimer, vtimeMs, false)

	dirty := make(map[meshdomain.ID]bool)
	db.replaceSourceSpecific(n, sourceSpecific, dirty)
	db.replaceEdges(n, ansn, neighbors, dirty)
	db.replaceAttachments(n, attachments, dirty)

	for dom := range dirty {
		if db.OnDomainDirty != nil {
			db.OnDomainDirty(dom)
		}
	}
	return true
}

func (db *DB) replaceSourceSpecific(n *TcNode, sourceSpecific map[meshdomain.ID]bool, dirty map[meshdomain.ID]bool) {
	if n.SourceSpecific == nil {
		n.SourceSpecific = make(map[meshdomain.ID]bool)
	}
	for dom, want := range sourceSpecific {
		if n.SourceSpecific[dom] != want {
			dirty[dom] = true
		}
		n.SourceSpecific[dom] = want
	}
	for dom, had := range n.SourceSpecific {
		if had && !sourceSpecific[dom] {
			dirty[dom] = true
			n.SourceSpecific[dom] = false
		}
	}
}

func (db *DB) replaceEdges(n *TcNode, ansn uint16, neighbors []NeighborAdv, dirty map[meshdomain.ID]bool) {
	keep := make(map[string]bool, len(neighbors))
	for _, adv := range neighbors {
		key := adv.Originator.String()
		keep[key] = true

		target := db.nodeFor(adv.Originator)
		e, ok := n.Edges[key]
		if !ok {
			e = &TcEdge{Target: target.self, Domains: make(map[meshdomain.ID]*DomainMetric)}
			n.Edges[key] = e
		}
		e.Ansn = ansn
		e.Virtual = false // this direction is now directly observed in a TC
		for dom, m := range adv.Domains {
			d := e.domain(dom)
			if d.In != m.In || d.Out != m.Out {
				dirty[dom] = true
			}
			d.In, d.Out = m.In, m.Out
		}
		db.ensureInverseEdge(n, target, e, dirty)
	}
	for key, e := range n.Edges {
		if keep[key] {
			continue
		}
		for dom := range e.Domains {
			dirty[dom] = true
		}
		delete(n.Edges, key)
		db.onEdgeRemoved(n, e, dirty)
	}
}

// ensureInverseEdge maintains the spec.md §3 TcEdge invariant ("for every
// TcEdge A→B there is a TcEdge B→A; exactly one of them may be virtual at
// a time") after fwd (n→target) was just (re)confirmed by a TC from n.
// If target has no edge back to n yet, one is synthesized as virtual,
// mirroring fwd's cost with direction swapped — this is the "edge from B,
// virtual until C's own TC arrives" state from spec.md §8 scenario S1. If
// target already advertises n itself (its own edge back is non-virtual),
// that edge carries its own authoritative data and is left untouched.
func (db *DB) ensureInverseEdge(n, target *TcNode, fwd *TcEdge, dirty map[meshdomain.ID]bool) {
	invKey := n.Originator.String()
	inv, ok := target.Edges[invKey]
	if !ok {
		inv = &TcEdge{Target: n.self, Domains: make(map[meshdomain.ID]*DomainMetric), Virtual: true}
		target.Edges[invKey] = inv
	}
	if inv.Virtual {
		for dom, m := range fwd.Domains {
			d := inv.domain(dom)
			newIn, newOut := m.Out, m.In
			if d.In != newIn || d.Out != newOut {
				dirty[dom] = true
			}
			d.In, d.Out = newIn, newOut
		}
	}
	fwd.Inverse = inv
	inv.Inverse = fwd
}

// onEdgeRemoved runs after e (n→e.Target) was dropped from n's advertised
// set. Per spec.md §4.8, "the inverse back-pointer of each removed edge is
// left dangling as virtual if its other node still advertises this one":
// if the inverse edge has its own direct evidence (not virtual), it is
// demoted to virtual since n no longer confirms the link back; if the
// inverse only ever existed as a mirror of the edge just removed, nothing
// attests to it at all any more and it is dropped outright. Either way
// the target node may now be an orphan, so the delayed consistency
// re-check is scheduled rather than removing it immediately.
func (db *DB) onEdgeRemoved(n *TcNode, e *TcEdge, dirty map[meshdomain.ID]bool) {
	target, ok := db.nodes.Get(e.Target)
	if !ok {
		return
	}
	invKey := n.Originator.String()
	if inv, ok := target.Edges[invKey]; ok {
		if inv.Virtual {
			for dom := range inv.Domains {
				dirty[dom] = true
			}
			delete(target.Edges, invKey)
		} else {
			inv.Virtual = true
			inv.Inverse = nil
		}
	}
	if !db.hasAnyReference(target) {
		db.scheduleGC(target)
	}
}

func (db *DB) replaceAttachments(n *TcNode, attachments []AttachmentAdv, dirty map[meshdomain.ID]bool) {
	keep := make(map[string]bool, len(attachments))
	for _, adv := range attachments {
		key := adv.Prefix.String()
		keep[key] = true
		a, ok := n.Attachments[key]
		if !ok {
			a = &TcAttachment{Prefix: adv.Prefix, Domains: make(map[meshdomain.ID]meshdomain.Metric)}
			n.Attachments[key] = a
		}
		a.SourcePrefix = adv.SourcePrefix
		a.Distance = adv.Distance
		for dom, m := range adv.Domains {
			if a.Domains[dom] != m {
				dirty[dom] = true
			}
			a.Domains[dom] = m
		}
	}
	for key, a := range n.Attachments {
		if !keep[key] {
			for dom := range a.Domains {
				dirty[dom] = true
			}
			delete(n.Attachments, key)
		}
	}
}

// hasAnyReference reports whether any other node still has an outgoing
// edge to n, or n is itself a direct neighbor or freshly advertised.
func (db *DB) hasAnyReference(n *TcNode) bool {
	if n.DirectNeighbor || n.HasAnsn {
		return true
	}
	referenced := false
	db.nodes.Each(func(_ container.Handle, other *TcNode) {
		if referenced || other == n {
			return
		}
		if _, ok := other.Edges[n.Originator.String()]; ok {
			referenced = true
		}
	})
	return referenced
}

func (db *DB) scheduleGC(n *TcNode) {
	if n.gcTimer == nil {
		n.gcTimer = db.wheel.New(func() { db.tryRemoveOrphan(n) })
	}
	db.wheel.Set(n.gcTimer, db.GCDelayMs, false)
}

func (db *DB) tryRemoveOrphan(n *TcNode) {
	if db.hasAnyReference(n) {
		return
	}
	if len(n.Edges) != 0 || len(n.Attachments) != 0 {
		return
	}
	if n.validTimer != nil {
		db.wheel.Stop(n.validTimer)
	}
	db.byOriginator.Delete(n.Originator.String())
	db.nodes.Remove(n.self)
}

// onNodeExpire runs when a node's validity timer elapses without a
// refreshing TC: its ANSN-backed state is cleared; the node itself is
// only removed once orphaned (spec.md §4.8 consistency rule).
func (db *DB) onNodeExpire(n *TcNode) {
	n.HasAnsn = false
	dirty := make(map[meshdomain.ID]bool)
	for key, e := range n.Edges {
		for dom := range e.Domains {
			dirty[dom] = true
		}
		delete(n.Edges, key)
		db.onEdgeRemoved(n, e, dirty)
	}
	for key, a := range n.Attachments {
		for dom := range a.Domains {
			dirty[dom] = true
		}
		delete(n.Attachments, key)
	}
	for dom := range dirty {
		if db.OnDomainDirty != nil {
			db.OnDomainDirty(dom)
		}
	}
	if !n.DirectNeighbor {
		db.scheduleGC(n)
	}
}
