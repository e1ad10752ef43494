package routeinstall

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"olsrv2d/internal/meshdomain"
	"olsrv2d/internal/netaddr"
	"olsrv2d/internal/sched"
)

type fakeClock struct{ ms int64 }

func (c *fakeClock) NowMs() int64 { return c.ms }

func addr(b byte) netaddr.NetAddr {
	return netaddr.New(netaddr.FamilyIPv4, []byte{10, 0, 0, b})
}

func gw(b byte) netaddr.NetAddr {
	return netaddr.New(netaddr.FamilyIPv4, []byte{192, 168, 0, b})
}

type call struct {
	op string
	r  Route
}

type fakeBackend struct {
	calls []call
	// failAdd/failDel, when set for a route key, make that op fail for the
	// key on every call.
	failAdd map[netaddr.RouteKey]bool
	failDel map[netaddr.RouteKey]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		failAdd: make(map[netaddr.RouteKey]bool),
		failDel: make(map[netaddr.RouteKey]bool),
	}
}

func (b *fakeBackend) RouteAdd(r Route) error {
	b.calls = append(b.calls, call{"add", r})
	if b.failAdd[r.Key] {
		return errTest
	}
	return nil
}

func (b *fakeBackend) RouteDel(r Route) error {
	b.calls = append(b.calls, call{"del", r})
	if b.failDel[r.Key] {
		return errTest
	}
	return nil
}

var errTest = &testErr{}

type testErr struct{}

func (*testErr) Error() string { return "backend failure" }

func newTestInstaller() (*Installer, *fakeBackend, *sched.Wheel, *fakeClock) {
	clk := &fakeClock{}
	wheel := sched.NewWheel(clk)
	backend := newFakeBackend()
	log := logrus.New()
	log.SetOutput(io.Discard)
	inst := NewInstaller(backend, wheel, log.WithField("test", true))
	return inst, backend, wheel, clk
}

func singleHop(key netaddr.RouteKey, g netaddr.NetAddr, ifIndex int) DesiredRoute {
	return DesiredRoute{Route: Route{Key: key, Gateway: g, IfIndex: ifIndex}, Hops: 1}
}

func multiHop(key netaddr.RouteKey, g netaddr.NetAddr, ifIndex int) DesiredRoute {
	return DesiredRoute{Route: Route{Key: key, Gateway: g, IfIndex: ifIndex}, Hops: 2}
}

func TestApplyOrdersPhasesRemovedMultiAddedSingleAddedMultiRemovedSingle(t *testing.T) {
	inst, backend, _, _ := newTestInstaller()

	keyB := netaddr.RouteKey{Dst: addr(2)}
	keyC := netaddr.RouteKey{Dst: addr(3)}
	keyD := netaddr.RouteKey{Dst: addr(4)}
	keyE := netaddr.RouteKey{Dst: addr(5)}

	// Seed an initial table: keyB (multi-hop, to be removed), keyE
	// (single-hop, to be removed).
	inst.apply(meshdomain.FloodingDomain, []DesiredRoute{
		multiHop(keyB, gw(2), 1),
		singleHop(keyE, gw(5), 1),
	})
	backend.calls = nil

	// Next desired table drops B and E, adds C (single-hop) and D
	// (multi-hop).
	inst.apply(meshdomain.FloodingDomain, []DesiredRoute{
		singleHop(keyC, gw(3), 1),
		multiHop(keyD, gw(4), 1),
	})

	if len(backend.calls) != 4 {
		t.Fatalf("expected 4 backend calls, got %d: %+v", len(backend.calls), backend.calls)
	}
	want := []struct {
		op  string
		key netaddr.RouteKey
	}{
		{"del", keyB}, // removed multi-hop first
		{"add", keyC}, // added single-hop
		{"add", keyD}, // added multi-hop
		{"del", keyE}, // removed single-hop last
	}
	for i, w := range want {
		if backend.calls[i].op != w.op || backend.calls[i].r.Key != w.key {
			t.Fatalf("call %d: expected %s %v, got %s %v", i, w.op, w.key, backend.calls[i].op, backend.calls[i].r.Key)
		}
	}
}

func TestSubmitAddFailureDropsFromInstalledState(t *testing.T) {
	inst, backend, _, _ := newTestInstaller()
	key := netaddr.RouteKey{Dst: addr(9)}
	backend.failAdd[key] = true

	inst.apply(meshdomain.FloodingDomain, []DesiredRoute{singleHop(key, gw(9), 1)})

	if _, ok := inst.installed[meshdomain.FloodingDomain][key]; ok {
		t.Fatalf("expected failed add to not end up in installed state")
	}
}

func TestSubmitDelFailureKeepsRouteInInstalledState(t *testing.T) {
	inst, backend, _, _ := newTestInstaller()
	key := netaddr.RouteKey{Dst: addr(9)}

	inst.apply(meshdomain.FloodingDomain, []DesiredRoute{singleHop(key, gw(9), 1)})

	backend.failDel[key] = true
	inst.apply(meshdomain.FloodingDomain, nil) // desired table now empty

	got, ok := inst.installed[meshdomain.FloodingDomain][key]
	if !ok {
		t.Fatalf("expected route to remain installed after a failed delete")
	}
	if !got.Gateway.Equal(gw(9)) {
		t.Fatalf("expected the reverted route to retain its prior gateway")
	}
}

func TestFrozenSuppressesBackendCallsButRecordsDesiredState(t *testing.T) {
	inst, backend, _, _ := newTestInstaller()
	key := netaddr.RouteKey{Dst: addr(7)}

	inst.SetFrozen(true)
	inst.apply(meshdomain.FloodingDomain, []DesiredRoute{singleHop(key, gw(7), 1)})

	if len(backend.calls) != 0 {
		t.Fatalf("expected no backend calls while frozen, got %+v", backend.calls)
	}
	if _, ok := inst.installed[meshdomain.FloodingDomain][key]; ok {
		t.Fatalf("expected installed state untouched while frozen")
	}
	if _, ok := inst.desired[meshdomain.FloodingDomain][key]; !ok {
		t.Fatalf("expected desired state recorded while frozen")
	}

	inst.SetFrozen(false)

	if len(backend.calls) != 1 || backend.calls[0].op != "add" {
		t.Fatalf("expected unfreeze to push the one accumulated add, got %+v", backend.calls)
	}
	if _, ok := inst.installed[meshdomain.FloodingDomain][key]; !ok {
		t.Fatalf("expected installed state updated after unfreeze")
	}
}

func TestRequestApplyCoalescesThroughHoldOffTimer(t *testing.T) {
	inst, backend, wheel, clk := newTestInstaller()
	key := netaddr.RouteKey{Dst: addr(1)}

	inst.RequestApply(meshdomain.FloodingDomain, []DesiredRoute{singleHop(key, gw(1), 1)})
	inst.RequestApply(meshdomain.FloodingDomain, []DesiredRoute{singleHop(key, gw(2), 1)})

	if len(backend.calls) != 0 {
		t.Fatalf("expected no backend calls before the hold-off timer fires")
	}

	clk.ms += inst.HoldOffMs
	wheel.DrainDue()

	if len(backend.calls) != 1 {
		t.Fatalf("expected exactly one coalesced add once the hold-off fires, got %+v", backend.calls)
	}
	if !backend.calls[0].r.Gateway.Equal(gw(2)) {
		t.Fatalf("expected the last-requested gateway to win the coalescing window")
	}
}

func TestUnchangedRouteIsNotReSubmitted(t *testing.T) {
	inst, backend, _, _ := newTestInstaller()
	key := netaddr.RouteKey{Dst: addr(1)}

	inst.apply(meshdomain.FloodingDomain, []DesiredRoute{singleHop(key, gw(1), 1)})
	backend.calls = nil
	inst.apply(meshdomain.FloodingDomain, []DesiredRoute{singleHop(key, gw(1), 1)})

	if len(backend.calls) != 0 {
		t.Fatalf("expected no backend calls for an unchanged route, got %+v", backend.calls)
	}
}
