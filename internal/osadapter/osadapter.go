// Package osadapter defines the seam between the core and the host OS
// (SPEC_FULL.md §1 "OS integration"). The core only ever talks to the
// Adapter interface: interface/address enumeration, up/down and
// MAC/address change notifications, and routable/unspec classifiers. The
// concrete Linux backend lives in linux.go: it enumerates through the
// stdlib net package, uses golang.org/x/sys/unix only to probe for IPv6
// support, and uses github.com/vishvananda/netlink for change
// subscriptions, the way CyberFlameGO-tcp-info, m-lab/tcp-info
// and moby-moby's libnetwork osl package wrap netlink behind a narrow
// interface instead of exposing raw sockets to callers.
package osadapter

import "olsrv2d/internal/netaddr"

// Interface is the OS-adapter's view of one network interface; the core
// holds a weak reference (by Index) plus a changed-listener, per spec.md
// §3 lifecycle rules.
type Interface struct {
	Name       string
	Index      int
	MAC        netaddr.NetAddr
	LinkLocalV4 netaddr.NetAddr
	LinkLocalV6 netaddr.NetAddr
	Addresses  []netaddr.NetAddr
	Up         bool
	Loopback   bool
	Mesh       bool
}

// ChangeKind distinguishes interface/address change notifications.
type ChangeKind int

const (
	InterfaceAdded ChangeKind = iota
	InterfaceChanged
	InterfaceRemoved
	AddressAdded
	AddressRemoved
)

// ChangeEvent is delivered to every registered listener synchronously,
// mirroring the ChangeBus ordering guarantee (spec.md §5).
type ChangeEvent struct {
	Kind      ChangeKind
	Interface Interface
	Address   netaddr.NetAddr
}

// Adapter is the synchronous-query + change-callback surface the core
// consumes. It never blocks beyond a single syscall round trip.
type Adapter interface {
	// Interfaces lists every interface currently known to the OS.
	Interfaces() []Interface
	// InterfaceByName performs a synchronous lookup.
	InterfaceByName(name string) (Interface, bool)
	// Subscribe registers fn to run on every interface/address change;
	// returns an unsubscribe function.
	Subscribe(fn func(ChangeEvent)) (unsubscribe func())
	// IsRoutable reports whether addr is eligible as a route destination
	// (excludes loopback, link-local, multicast).
	IsRoutable(addr netaddr.NetAddr) bool
	// HasIPv6 reports whether the host stack supports IPv6 at all.
	HasIPv6() bool
}
