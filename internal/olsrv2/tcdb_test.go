package olsrv2

import (
	"testing"

	"olsrv2d/internal/meshdomain"
	"olsrv2d/internal/netaddr"
	"olsrv2d/internal/sched"
)

type fakeClock struct{ ms int64 }

func (c *fakeClock) NowMs() int64 { return c.ms }

func origin(b byte) netaddr.NetAddr {
	return netaddr.New(netaddr.FamilyIPv4, []byte{192, 168, 0, b})
}

func newTestDB() (*DB, *sched.Wheel, *fakeClock) {
	clk := &fakeClock{}
	wheel := sched.NewWheel(clk)
	return NewDB(wheel), wheel, clk
}

func TestIngestTCDiscardsOlderAnsn(t *testing.T) {
	db, _, _ := newTestDB()
	o := origin(1)

	if !db.IngestTC(o, 10, 30000, nil, nil, nil) {
		t.Fatalf("expected first TC to be applied")
	}
	if db.IngestTC(o, 9, 30000, nil, nil, nil) {
		t.Fatalf("expected an older ANSN to be discarded")
	}
	n, ok := db.NodeByOriginator(o)
	if !ok || n.Ansn != 10 {
		t.Fatalf("expected stored ANSN to remain 10, got %+v", n)
	}
}

func TestIngestTCReplacesEdgeSet(t *testing.T) {
	db, _, _ := newTestDB()
	o := origin(1)
	dirtyDomains := map[meshdomain.ID]bool{}
	db.OnDomainDirty = func(d meshdomain.ID) { dirtyDomains[d] = true }

	db.IngestTC(o, 1, 30000, []NeighborAdv{
		{Originator: origin(2), Domains: map[meshdomain.ID]DomainMetric{0: {In: 10, Out: 10}}},
		{Originator: origin(3), Domains: map[meshdomain.ID]DomainMetric{0: {In: 20, Out: 20}}},
	}, nil, nil)

	n, _ := db.NodeByOriginator(o)
	if len(n.Edges) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(n.Edges))
	}

	// Second TC drops origin(3) from the advertised set.
	db.IngestTC(o, 2, 30000, []NeighborAdv{
		{Originator: origin(2), Domains: map[meshdomain.ID]DomainMetric{0: {In: 10, Out: 10}}},
	}, nil, nil)

	if len(n.Edges) != 1 {
		t.Fatalf("expected edge to origin(3) removed, got %d edges", len(n.Edges))
	}
	if !dirtyDomains[0] {
		t.Fatalf("expected domain 0 marked dirty by edge churn")
	}
}

// S-style boundary: a node whose validity timer expires loses its
// ANSN-backed edges/attachments, but the TcNode itself survives removal
// until the delayed orphan re-check confirms nothing still references it.
func TestNodeExpiryThenDelayedOrphanRemoval(t *testing.T) {
	db, wheel, clk := newTestDB()
	db.GCDelayMs = 1000
	o := origin(9)

	db.IngestTC(o, 1, 5000, nil, nil, nil)
	clk.ms += 5000
	wheel.DrainDue()

	n, ok := db.NodeByOriginator(o)
	if !ok {
		t.Fatalf("expected node to still exist immediately after expiry")
	}
	if n.HasAnsn {
		t.Fatalf("expected HasAnsn cleared on expiry")
	}

	clk.ms += 1000
	wheel.DrainDue()

	if _, ok := db.NodeByOriginator(o); ok {
		t.Fatalf("expected orphaned node removed after the GC delay")
	}
}

func TestDirectNeighborKeepsNodeAliveAcrossExpiry(t *testing.T) {
	db, wheel, clk := newTestDB()
	db.GCDelayMs = 1000
	o := origin(11)

	db.SetDirectNeighbor(o, true, meshdomain.FloodingDomain)
	db.IngestTC(o, 1, 5000, nil, nil, nil)

	clk.ms += 5000
	wheel.DrainDue()
	clk.ms += 1000
	wheel.DrainDue()

	if _, ok := db.NodeByOriginator(o); !ok {
		t.Fatalf("expected direct-neighbor node to survive TC expiry")
	}
}

// S1-style: B advertises C before C advertises anyone back. The edge
// B->C is real (directly observed); its inverse C->B is synthesized as
// virtual so the spec.md §3 TcEdge invariant holds even though C has not
// yet been heard from directly.
func TestIngestTCSynthesizesVirtualInverseEdge(t *testing.T) {
	db, _, _ := newTestDB()
	b, c := origin(2), origin(3)

	db.IngestTC(b, 1, 30000, []NeighborAdv{
		{Originator: c, Domains: map[meshdomain.ID]DomainMetric{0: {In: 5, Out: 5}}},
	}, nil, nil)

	bNode, _ := db.NodeByOriginator(b)
	cNode, _ := db.NodeByOriginator(c)

	fwd, ok := bNode.Edges[c.String()]
	if !ok {
		t.Fatalf("expected edge B->C to exist")
	}
	if fwd.Virtual {
		t.Fatalf("expected B->C to be non-virtual (directly observed)")
	}

	inv, ok := cNode.Edges[b.String()]
	if !ok {
		t.Fatalf("expected synthesized inverse edge C->B to exist")
	}
	if !inv.Virtual {
		t.Fatalf("expected C->B to be virtual until C's own TC arrives")
	}
	if fwd.Inverse != inv || inv.Inverse != fwd {
		t.Fatalf("expected back-pointers to pair fwd and inv")
	}

	// Once C sends its own TC advertising B, both directions become real.
	db.IngestTC(c, 1, 30000, []NeighborAdv{
		{Originator: b, Domains: map[meshdomain.ID]DomainMetric{0: {In: 5, Out: 5}}},
	}, nil, nil)

	if bNode.Edges[c.String()].Virtual {
		t.Fatalf("expected B->C to remain non-virtual")
	}
	if cNode.Edges[b.String()].Virtual {
		t.Fatalf("expected C->B to become non-virtual once C's own TC confirms it")
	}
}

// spec.md §3 property: for every TcEdge A->B there exists a TcEdge B->A,
// and at most one of the pair is virtual at a time.
func TestTcEdgeInvariantHoldsAcrossChurn(t *testing.T) {
	db, _, _ := newTestDB()
	a, b := origin(4), origin(5)

	db.IngestTC(a, 1, 30000, []NeighborAdv{
		{Originator: b, Domains: map[meshdomain.ID]DomainMetric{0: {In: 1, Out: 1}}},
	}, nil, nil)
	db.IngestTC(b, 1, 30000, []NeighborAdv{
		{Originator: a, Domains: map[meshdomain.ID]DomainMetric{0: {In: 1, Out: 1}}},
	}, nil, nil)

	aNode, _ := db.NodeByOriginator(a)
	bNode, _ := db.NodeByOriginator(b)
	checkPaired := func() {
		ab, ok1 := aNode.Edges[b.String()]
		ba, ok2 := bNode.Edges[a.String()]
		if !ok1 || !ok2 {
			t.Fatalf("expected both A->B and B->A to exist")
		}
		if ab.Virtual && ba.Virtual {
			t.Fatalf("at most one of A->B/B->A may be virtual at a time")
		}
	}
	checkPaired()

	// A stops advertising B; B still advertises A. Per spec.md §4.8 the
	// surviving inverse (B->A) is left dangling as virtual.
	db.IngestTC(a, 2, 30000, nil, nil, nil)

	if _, ok := aNode.Edges[b.String()]; ok {
		t.Fatalf("expected A->B removed")
	}
	ba, ok := bNode.Edges[a.String()]
	if !ok {
		t.Fatalf("expected B->A to survive as a dangling virtual edge")
	}
	if !ba.Virtual {
		t.Fatalf("expected B->A demoted to virtual once A stopped confirming it")
	}
}

func TestLocalAnsnBumpsMonotonically(t *testing.T) {
	var a LocalAnsn
	if a.Value() != 0 {
		t.Fatalf("expected initial ANSN 0")
	}
	first := a.Bump()
	second := a.Bump()
	if second != first+1 {
		t.Fatalf("expected monotonic bump, got %d then %d", first, second)
	}
}
