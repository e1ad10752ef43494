// Package nhdp implements the NHDP one-hop/two-hop link-set state machine
// of SPEC_FULL.md §4.5, generalizing the teacher's flat
// map[NodeID]OneHopNeighborEntry (node.go) into per-interface arenas of
// Link/Neighbor/TwoHopEntry with real validity/symmetry timers instead of
// the teacher's integer tick counters.
package nhdp

import (
	"olsrv2d/internal/container"
	"olsrv2d/internal/meshdomain"
	"olsrv2d/internal/netaddr"
	"olsrv2d/internal/osadapter"
	"olsrv2d/internal/sched"
)

// Status is a Link's position in the NHDP state machine (spec.md §4.5).
type Status int

const (
	Pending Status = iota
	Heard
	Symmetric
	Lost
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Heard:
		return "HEARD"
	case Symmetric:
		return "SYMMETRIC"
	case Lost:
		return "LOST"
	default:
		return "UNKNOWN"
	}
}

// DomainLinkState is the per-domain metric/MPR data a Link carries.
type DomainLinkState struct {
	MetricIn, MetricOut meshdomain.Metric
	NeighIsFloodingMPR  bool
	LocalIsFloodingMPR  bool
}

// Link is one NHDP link, owned by its NHDPInterface (spec.md §3 Link).
type Link struct {
	Iface      *Interface
	RemoteMAC  netaddr.NetAddr
	RemoteAddrs map[string]netaddr.NetAddr
	TwoHop     map[string]*TwoHopEntry

	Status Status

	symTimer    *sched.Timer
	heardTimer  *sched.Timer
	validTimer  *sched.Timer

	ITime, VTime int64 // ms

	Domains map[meshdomain.ID]*DomainLinkState

	LastSeqno    uint16
	HaveLastSeqno bool

	Neighbor container.Handle // handle into the LinkSet's neighbor arena

	self container.Handle // this link's own handle, set on creation
}

func (l *Link) domain(id meshdomain.ID) *DomainLinkState {
	d, ok := l.Domains[id]
	if !ok {
		d = &DomainLinkState{MetricIn: meshdomain.MetricUnknown, MetricOut: meshdomain.MetricUnknown}
		l.Domains[id] = d
	}
	return d
}

// TwoHopEntry is a far-end address reachable via a Link (spec.md §3).
type TwoHopEntry struct {
	Addr          netaddr.NetAddr
	validTimer    *sched.Timer
	Domains       map[meshdomain.ID]*struct{ In, Out meshdomain.Metric }
	SameInterface bool
}

// NeighborDomainState is the per-domain aggregate on a Neighbor.
type NeighborDomainState struct {
	Willingness    meshdomain.Willingness
	MetricIn       meshdomain.Metric
	MetricOut      meshdomain.Metric
	BestOutLink    container.Handle
	BestLinkIfIndex int
	LocalIsMPR     bool
	NeighIsMPR     bool
}

// Neighbor is owned by the LinkSet, one per originator (spec.md §3).
type Neighbor struct {
	Originator    netaddr.NetAddr
	Links         map[container.Handle]bool
	SymmetricCount int
	Domains       map[meshdomain.ID]*NeighborDomainState

	self container.Handle
}

func (n *Neighbor) domain(id meshdomain.ID) *NeighborDomainState {
	d, ok := n.Domains[id]
	if !ok {
		d = &NeighborDomainState{MetricIn: meshdomain.MetricUnknown, MetricOut: meshdomain.MetricUnknown}
		n.Domains[id] = d
	}
	return d
}

// Interface is the NHDP-specific state attached to one OS interface
// (spec.md §3 NHDPInterface).
type Interface struct {
	OS   osadapter.Interface
	Name string

	LinkAddrs map[string]netaddr.NetAddr // local advertised link-addresses

	HelloIntervalMs   int64
	HelloVTimeMs      int64
	RefreshIntervalMs int64

	Links map[container.Handle]bool

	helloTimer *sched.Timer

	// mprDirty gates the MPR-recompute-before-HELLO rule (spec.md §4.5,
	// §4.7): any mutation that invalidates MPR sets this; the actual
	// recompute runs at most once, immediately before HELLO emission.
	mprDirty bool
}
