package nhdp

import (
	"olsrv2d/internal/container"
	"olsrv2d/internal/meshdomain"
	"olsrv2d/internal/mpr"
	"olsrv2d/internal/netaddr"
	"olsrv2d/internal/sched"
)

// LinkSet owns every Link and Neighbor across all interfaces, directly
// generalizing the teacher's Node.oneHopNeighbors/twoHopNeighbors maps
// (node.go) into arenas addressable by stable, generation-checked handles
// (spec.md §9) instead of raw NodeID keys.
type LinkSet struct {
	wheel *sched.Wheel

	links     container.Arena[*Link]
	neighbors container.Arena[*Neighbor]

	// byOriginator maps netaddr.String() to a neighbor handle, ordered by
	// address string so Neighbors-by-prefix style range scans (the viewer's
	// listing, future source-specific lookups) can walk it directly instead
	// of sorting a plain map's keys each time.
	byOriginator *container.OrderedMap[string, container.Handle]

	domains     []meshdomain.ID
	routingMPR  mpr.Algorithm
	floodingMPR mpr.Algorithm

	// OnNeighborChanged fires after a HELLO from the Neighbor is processed,
	// after its symmetric count is decremented, and after its aggregated
	// metrics change; MPR recomputation does not fire it. internal/daemon
	// sets it to mark domains dirty (spec.md §4.8).
	OnNeighborChanged func(n *Neighbor)
}

// NewLinkSet constructs a LinkSet bound to wheel for all NHDP timers, and
// routing/flooding MPR algorithms (internal/mpr.Greedy/Everyone by default).
func NewLinkSet(wheel *sched.Wheel, domains []meshdomain.ID, routingMPR, floodingMPR mpr.Algorithm) *LinkSet {
	return &LinkSet{
		wheel:        wheel,
		byOriginator: container.New[string, container.Handle](func(a, b string) bool { return a < b }, false),
		domains:      domains,
		routingMPR:   routingMPR,
		floodingMPR:  floodingMPR,
	}
}

func (ls *LinkSet) neighborFor(originator netaddr.NetAddr) *Neighbor {
	key := originator.String()
	if h, ok := ls.byOriginator.Get(key); ok {
		if n, ok := ls.neighbors.Get(h); ok {
			return n
		}
	}
	n := &Neighbor{
		Originator: originator,
		Links:      make(map[container.Handle]bool),
		Domains:    make(map[meshdomain.ID]*NeighborDomainState),
	}
	h := ls.neighbors.Insert(n)
	n.self = h
	ls.byOriginator.Put(key, h)
	return n
}

// NewLink creates a PENDING Link on iface for the given remote MAC,
// grounded on the teacher's OneHopNeighborEntry construction inside
// handleHello for a previously-unseen neighbor.
func (ls *LinkSet) NewLink(iface *Interface, remoteMAC netaddr.NetAddr, itimeMs, vtimeMs int64) *Link {
	l := &Link{
		Iface:       iface,
		RemoteMAC:   remoteMAC,
		RemoteAddrs: make(map[string]netaddr.NetAddr),
		TwoHop:      make(map[string]*TwoHopEntry),
		Status:      Pending,
		ITime:       itimeMs,
		VTime:       vtimeMs,
		Domains:     make(map[meshdomain.ID]*DomainLinkState),
	}
	h := ls.links.Insert(l)
	l.self = h
	l.validTimer = ls.wheel.New(func() { ls.onLinkValidityExpire(l) })
	ls.wheel.Set(l.validTimer, vtimeMs, false)
	iface.Links[h] = true
	return l
}

func (ls *LinkSet) linkByMAC(iface *Interface, mac netaddr.NetAddr) *Link {
	for h := range iface.Links {
		l, ok := ls.links.Get(h)
		if ok && l.RemoteMAC.Equal(mac) {
			return l
		}
	}
	return nil
}

// HelloIn is the decoded content of one received HELLO — the packaging of
// RFC6130 address/status TLVs into Go values, independent of the RFC5444
// wire codec (internal/rfc5444 decodes into this shape).
type HelloIn struct {
	Source      netaddr.NetAddr // link-local source address of the packet
	SourceMAC   netaddr.NetAddr
	Originator  netaddr.NetAddr
	Seqno       uint16
	ITimeMs     int64
	VTimeMs     int64
	Willingness map[meshdomain.ID]meshdomain.Willingness
	LinkAddrs   []netaddr.NetAddr // every address the sender advertises on this link
	LostAddrs   []netaddr.NetAddr
	Symmetric   []netaddr.NetAddr // addresses the sender marks SYMMETRIC
	SameIface   bool
}

// HandleHello processes one incoming HELLO, directly generalizing the
// teacher's handleHello/updateOneHopNeighbors/updateTwoHopNeighbors
// (node.go) from a flat id comparison onto the Link state machine: a link
// is created or refreshed as HEARD, promoted to SYMMETRIC when the sender
// lists one of our addresses, and the two-hop set is replaced from the
// HELLO's address list (spec.md §4.5).
func (ls *LinkSet) HandleHello(iface *Interface, in HelloIn) *Link {
	l := ls.linkByMAC(iface, in.SourceMAC)
	if l == nil {
		l = ls.NewLink(iface, in.SourceMAC, in.ITimeMs, in.VTimeMs)
	} else {
		l.ITime, l.VTime = in.ITimeMs, in.VTimeMs
		ls.wheel.Set(l.validTimer, in.VTimeMs, false)
	}
	for _, a := range in.LinkAddrs {
		l.RemoteAddrs[a.String()] = a
	}

	wasSymmetric := l.Status == Symmetric
	sentUsSymmetric := false
	for _, a := range in.Symmetric {
		if ls.weAdvertise(iface, a) {
			sentUsSymmetric = true
			break
		}
	}

	if sentUsSymmetric {
		if l.symTimer == nil {
			l.symTimer = ls.wheel.New(func() { ls.onSymTimerExpire(l) })
		}
		ls.wheel.Set(l.symTimer, in.VTimeMs, false)
		l.Status = Symmetric
	} else if l.Status != Symmetric {
		l.Status = Heard
	}

	if l.HaveLastSeqno && in.Seqno == l.LastSeqno {
		return l // duplicate HELLO, no further state churn
	}
	l.LastSeqno, l.HaveLastSeqno = in.Seqno, true

	ls.rebuildTwoHop(l, in)

	if !in.Originator.IsUnspec() {
		n := ls.neighborFor(in.Originator)
		n.Links[l.self] = true
		l.Neighbor = n.self
		for dom, w := range in.Willingness {
			n.domain(dom).Willingness = w
		}
		if l.Status == Symmetric && !wasSymmetric {
			n.SymmetricCount++
		} else if l.Status != Symmetric && wasSymmetric {
			n.SymmetricCount--
		}
		iface.mprDirty = true
		if ls.OnNeighborChanged != nil {
			ls.OnNeighborChanged(n)
		}
	}

	return l
}

func (ls *LinkSet) weAdvertise(iface *Interface, a netaddr.NetAddr) bool {
	_, ok := iface.LinkAddrs[a.String()]
	return ok
}

// rebuildTwoHop replaces TwoHop with the HELLO's SYMMETRIC address list
// minus our own addresses, each carrying a fresh validity timer — this is
// the teacher's updateTwoHopNeighbors generalized from "list of NodeID"
// to "list of NetAddr with its own vtime".
func (ls *LinkSet) rebuildTwoHop(l *Link, in HelloIn) {
	keep := make(map[string]bool, len(in.Symmetric))
	for _, a := range in.Symmetric {
		if ls.weAdvertise(l.Iface, a) {
			continue // that's us, not a 2-hop neighbor
		}
		key := a.String()
		keep[key] = true
		if e, ok := l.TwoHop[key]; ok {
			ls.wheel.Set(e.validTimer, in.VTimeMs, false)
			continue
		}
		e := &TwoHopEntry{Addr: a, Domains: make(map[meshdomain.ID]*struct{ In, Out meshdomain.Metric })}
		e.validTimer = ls.wheel.New(func() {
			delete(l.TwoHop, key)
		})
		ls.wheel.Set(e.validTimer, in.VTimeMs, false)
		l.TwoHop[key] = e
	}
	for key, e := range l.TwoHop {
		if !keep[key] {
			ls.wheel.Stop(e.validTimer)
			delete(l.TwoHop, key)
		}
	}
}

// onSymTimerExpire demotes a link out of SYMMETRIC when the peer stops
// listing us, without waiting for full validity expiry (spec.md §4.5).
func (ls *LinkSet) onSymTimerExpire(l *Link) {
	if l.Status != Symmetric {
		return
	}
	l.Status = Heard
	ls.demoteNeighborSymmetry(l)
	l.Iface.mprDirty = true
}

func (ls *LinkSet) demoteNeighborSymmetry(l *Link) {
	if !l.Neighbor.Valid() {
		return
	}
	n, ok := ls.neighbors.Get(l.Neighbor)
	if !ok {
		return
	}
	n.SymmetricCount--
	if ls.OnNeighborChanged != nil {
		ls.OnNeighborChanged(n)
	}
}

// onLinkValidityExpire removes a Link whose VTime elapsed without a
// refreshing HELLO (spec.md §4.5, §8 boundary: neighbor removed when its
// last link expires), generalizing the teacher's tick-based neighbor
// eviction in Node.run.
func (ls *LinkSet) onLinkValidityExpire(l *Link) {
	for _, e := range l.TwoHop {
		ls.wheel.Stop(e.validTimer)
	}
	if l.symTimer != nil {
		ls.wheel.Stop(l.symTimer)
	}
	if l.Status == Symmetric {
		ls.demoteNeighborSymmetry(l)
	}
	delete(l.Iface.Links, l.self)

	if l.Neighbor.Valid() {
		if n, ok := ls.neighbors.Get(l.Neighbor); ok {
			delete(n.Links, l.self)
			if len(n.Links) == 0 {
				ls.byOriginator.Delete(n.Originator.String())
				ls.neighbors.Remove(l.Neighbor)
			}
		}
	}
	ls.links.Remove(l.self)
	l.Iface.mprDirty = true
}

// RecomputeMPRIfDirty runs routing- and flooding-MPR selection for iface
// exactly once since the last call if anything invalidated the previous
// selection (spec.md §4.7: "recompute at most once, immediately before
// HELLO emission").
func (ls *LinkSet) RecomputeMPRIfDirty(iface *Interface) {
	if !iface.mprDirty {
		return
	}
	views := ls.neighborViews(iface)
	routingSel := ls.routingMPR.Compute(views)
	floodingSel := ls.floodingMPR.Compute(views)
	for h := range iface.Links {
		l, ok := ls.links.Get(h)
		if !ok || !l.Neighbor.Valid() {
			continue
		}
		for _, dom := range ls.domains {
			ds := l.domain(dom)
			ds.LocalIsFloodingMPR = floodingSel[mpr.NeighborID(neighborKey(l.Neighbor))]
		}
		n, ok := ls.neighbors.Get(l.Neighbor)
		if !ok {
			continue
		}
		sel := routingSel[mpr.NeighborID(neighborKey(l.Neighbor))]
		for _, dom := range ls.domains {
			n.domain(dom).LocalIsMPR = sel
		}
	}
	iface.mprDirty = false
}

// UpdateLinkMetric records a freshly-sampled per-domain in/out metric for
// l (the DAT sampler is the only caller today) and re-aggregates the
// owning Neighbor's best-link metric: the lowest known out-metric across
// every SYMMETRIC link to that neighbor becomes the neighbor's, with
// BestLinkIfIndex following it (spec.md §4.6/§4.9: routing seeds from the
// neighbor's best link, not an arbitrary one). Fires OnNeighborChanged if
// the neighbor's aggregate changed.
func (ls *LinkSet) UpdateLinkMetric(l *Link, dom meshdomain.ID, in, out meshdomain.Metric) {
	ds := l.domain(dom)
	ds.MetricIn, ds.MetricOut = in, out

	if !l.Neighbor.Valid() {
		return
	}
	n, ok := ls.neighbors.Get(l.Neighbor)
	if !ok {
		return
	}
	nd := n.domain(dom)
	prevIn, prevOut := nd.MetricIn, nd.MetricOut

	nd.MetricIn, nd.MetricOut = meshdomain.MetricUnknown, meshdomain.MetricUnknown
	for h := range n.Links {
		link, ok := ls.links.Get(h)
		if !ok || link.Status != Symmetric {
			continue
		}
		lds, ok := link.Domains[dom]
		if !ok || !lds.MetricOut.Known() {
			continue
		}
		if !nd.MetricOut.Known() || lds.MetricOut.Less(nd.MetricOut) {
			nd.MetricOut = lds.MetricOut
			nd.MetricIn = lds.MetricIn
			nd.BestOutLink = h
			nd.BestLinkIfIndex = link.Iface.OS.Index
		}
	}

	if nd.MetricIn != prevIn || nd.MetricOut != prevOut {
		if ls.OnNeighborChanged != nil {
			ls.OnNeighborChanged(n)
		}
	}
}

func neighborKey(h container.Handle) uint64 {
	return uint64(h.Index)<<32 | uint64(h.Gen)
}

func (ls *LinkSet) neighborViews(iface *Interface) []mpr.NeighborView {
	seen := make(map[container.Handle]bool)
	var out []mpr.NeighborView
	for h := range iface.Links {
		l, ok := ls.links.Get(h)
		if !ok || l.Status != Symmetric || !l.Neighbor.Valid() || seen[l.Neighbor] {
			continue
		}
		seen[l.Neighbor] = true
		n, ok := ls.neighbors.Get(l.Neighbor)
		if !ok {
			continue
		}
		var twoHops []mpr.NeighborID
		for _, e := range l.TwoHop {
			twoHops = append(twoHops, mpr.NeighborID(addrKey(e.Addr)))
		}
		will := meshdomain.WillingnessDefault
		if len(ls.domains) > 0 {
			will = n.domain(ls.domains[0]).Willingness
		}
		out = append(out, mpr.NeighborView{
			ID:          mpr.NeighborID(neighborKey(l.Neighbor)),
			Willingness: will,
			TwoHops:     twoHops,
		})
	}
	return out
}

func addrKey(a netaddr.NetAddr) uint64 {
	var k uint64
	for i := 0; i < 8 && i < len(a.Bytes); i++ {
		k = k<<8 | uint64(a.Bytes[i])
	}
	return k
}

// NeighborByHandle resolves a neighbor handle produced during HELLO
// processing, for callers (internal/olsrv2, internal/routing) that need
// the live Neighbor.
func (ls *LinkSet) NeighborByHandle(h container.Handle) (*Neighbor, bool) {
	return ls.neighbors.Get(h)
}

// LinkByHandle resolves a link handle.
func (ls *LinkSet) LinkByHandle(h container.Handle) (*Link, bool) {
	return ls.links.Get(h)
}

// Neighbors iterates every live neighbor.
func (ls *LinkSet) Neighbors(fn func(*Neighbor)) {
	ls.neighbors.Each(func(_ container.Handle, n *Neighbor) { fn(n) })
}

// Links iterates every live link.
func (ls *LinkSet) Links(fn func(*Link)) {
	ls.links.Each(func(_ container.Handle, l *Link) { fn(l) })
}

// SymmetricNeighborCount returns the number of neighbors with at least one
// SYMMETRIC link — an invariant exposed directly for tests and the viewer.
func (ls *LinkSet) SymmetricNeighborCount() int {
	n := 0
	ls.neighbors.Each(func(_ container.Handle, nb *Neighbor) {
		if nb.SymmetricCount > 0 {
			n++
		}
	})
	return n
}
