package nhdp

import (
	"testing"

	"olsrv2d/internal/meshdomain"
	"olsrv2d/internal/mpr"
	"olsrv2d/internal/netaddr"
	"olsrv2d/internal/osadapter"
	"olsrv2d/internal/sched"
)

type fakeClock struct{ ms int64 }

func (c *fakeClock) NowMs() int64 { return c.ms }

func mac(b byte) netaddr.NetAddr {
	return netaddr.New(netaddr.FamilyMAC48, []byte{0, 0, 0, 0, 0, b})
}

func ip4(b byte) netaddr.NetAddr {
	return netaddr.New(netaddr.FamilyIPv4, []byte{10, 0, 0, b})
}

func newTestLinkSet() (*LinkSet, *sched.Wheel, *fakeClock) {
	clk := &fakeClock{}
	wheel := sched.NewWheel(clk)
	ls := NewLinkSet(wheel, []meshdomain.ID{meshdomain.FloodingDomain}, mpr.Greedy{}, mpr.Everyone{})
	return ls, wheel, clk
}

func newTestIface(name string) *Interface {
	iface := NewInterface(osadapter.Interface{Name: name}, 2000, 6000, 2000)
	iface.LinkAddrs[ip4(1).String()] = ip4(1)
	return iface
}

// S1-style scenario: a HELLO that lists our own address as SYMMETRIC
// promotes the link straight to SYMMETRIC and bumps the neighbor's
// symmetric count, matching the teacher's updateOneHopNeighbors contract.
func TestHandleHelloPromotesSymmetric(t *testing.T) {
	ls, _, _ := newTestLinkSet()
	iface := newTestIface("eth0")

	l := ls.HandleHello(iface, HelloIn{
		SourceMAC:  mac(2),
		Originator: ip4(2),
		Seqno:      1,
		ITimeMs:    2000, VTimeMs: 6000,
		LinkAddrs: []netaddr.NetAddr{ip4(2)},
		Symmetric: []netaddr.NetAddr{ip4(1)},
	})
	if l.Status != Symmetric {
		t.Fatalf("expected SYMMETRIC, got %v", l.Status)
	}
	n, ok := ls.NeighborByHandle(l.Neighbor)
	if !ok || n.SymmetricCount != 1 {
		t.Fatalf("expected neighbor symmetric count 1, got %+v", n)
	}
	if ls.SymmetricNeighborCount() != 1 {
		t.Fatalf("expected 1 symmetric neighbor overall")
	}
}

// A HELLO that does not list us stays at HEARD, never SYMMETRIC.
func TestHandleHelloWithoutUsStaysHeard(t *testing.T) {
	ls, _, _ := newTestLinkSet()
	iface := newTestIface("eth0")

	l := ls.HandleHello(iface, HelloIn{
		SourceMAC:  mac(3),
		Originator: ip4(3),
		Seqno:      1,
		ITimeMs:    2000, VTimeMs: 6000,
		LinkAddrs: []netaddr.NetAddr{ip4(3)},
	})
	if l.Status != Heard {
		t.Fatalf("expected HEARD, got %v", l.Status)
	}
}

// Property: SymmetricNeighborCount always equals the number of distinct
// neighbors with at least one SYMMETRIC link (spec.md invariant).
func TestSymmetricCountInvariantAcrossMultipleLinks(t *testing.T) {
	ls, _, _ := newTestLinkSet()
	iface := newTestIface("eth0")

	ls.HandleHello(iface, HelloIn{
		SourceMAC: mac(4), Originator: ip4(4), Seqno: 1,
		ITimeMs: 2000, VTimeMs: 6000,
		LinkAddrs: []netaddr.NetAddr{ip4(4)}, Symmetric: []netaddr.NetAddr{ip4(1)},
	})
	ls.HandleHello(iface, HelloIn{
		SourceMAC: mac(5), Originator: ip4(5), Seqno: 1,
		ITimeMs: 2000, VTimeMs: 6000,
		LinkAddrs: []netaddr.NetAddr{ip4(5)},
	})

	want := 0
	ls.Neighbors(func(n *Neighbor) {
		if n.SymmetricCount > 0 {
			want++
		}
	})
	if got := ls.SymmetricNeighborCount(); got != want {
		t.Fatalf("SymmetricNeighborCount()=%d does not match manual count %d", got, want)
	}
	if want != 1 {
		t.Fatalf("expected exactly 1 symmetric neighbor, got %d", want)
	}
}

// S4-style boundary: once a link's validity timer elapses without a
// refreshing HELLO, the link is removed and, since it was the neighbor's
// only link, the neighbor disappears too.
func TestLinkValidityExpiryRemovesNeighbor(t *testing.T) {
	ls, wheel, clk := newTestLinkSet()
	iface := newTestIface("eth0")

	l := ls.HandleHello(iface, HelloIn{
		SourceMAC: mac(6), Originator: ip4(6), Seqno: 1,
		ITimeMs: 2000, VTimeMs: 6000,
		LinkAddrs: []netaddr.NetAddr{ip4(6)}, Symmetric: []netaddr.NetAddr{ip4(1)},
	})
	nh := l.Neighbor
	if ls.SymmetricNeighborCount() != 1 {
		t.Fatalf("expected neighbor to be up before expiry")
	}

	clk.ms += 6000
	wheel.DrainDue()

	if _, ok := ls.NeighborByHandle(nh); ok {
		t.Fatalf("expected neighbor to be removed after validity expiry")
	}
	if ls.SymmetricNeighborCount() != 0 {
		t.Fatalf("expected 0 symmetric neighbors after expiry")
	}
	if len(iface.Links) != 0 {
		t.Fatalf("expected interface's link set emptied after expiry")
	}
}

// A duplicate HELLO (same seqno) must not mutate the two-hop set or churn
// MPR recompute state — matching RFC6130's "ignore retransmitted HELLO".
func TestDuplicateHelloIsIgnored(t *testing.T) {
	ls, _, _ := newTestLinkSet()
	iface := newTestIface("eth0")

	in := HelloIn{
		SourceMAC: mac(7), Originator: ip4(7), Seqno: 9,
		ITimeMs: 2000, VTimeMs: 6000,
		LinkAddrs: []netaddr.NetAddr{ip4(7)}, Symmetric: []netaddr.NetAddr{ip4(1), ip4(8)},
	}
	ls.HandleHello(iface, in)
	l := ls.HandleHello(iface, in)
	if len(l.TwoHop) != 1 {
		t.Fatalf("expected exactly one 2-hop entry (ip4(8)), got %d", len(l.TwoHop))
	}
}
