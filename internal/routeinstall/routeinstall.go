// Package routeinstall implements RouteInstaller (SPEC_FULL.md §4.10): a
// diff between the last-installed and newly-computed route table per
// domain, emitted as four ordered phases, submitted to the OS via
// github.com/vishvananda/netlink with ESRCH/EEXIST treated as success
// (grounded on the netlink route-mutation patterns visible in
// moby-moby's libnetwork osl package and unai-ttxu-felix's ifacemonitor
// in the example pack), plus a rate-limit timer and a 100ms coalescing
// hold-off.
package routeinstall

import (
	"net"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"

	"olsrv2d/internal/errkind"
	"olsrv2d/internal/meshdomain"
	"olsrv2d/internal/netaddr"
	"olsrv2d/internal/sched"
)

// Route is one desired route, domain-agnostic at this layer.
type Route struct {
	Key      netaddr.RouteKey
	Gateway  netaddr.NetAddr
	IfIndex  int
	Distance int
	Protocol int
	Table    int
}

// DesiredRoute augments Route with the hop count RouteInstaller needs to
// classify it as single- or multi-hop for phase ordering.
type DesiredRoute struct {
	Route
	Hops int
}

func (d DesiredRoute) isMultiHop() bool { return d.Hops > 1 }

// Backend abstracts OS route mutation so tests don't touch netlink.
type Backend interface {
	RouteAdd(r Route) error
	RouteDel(r Route) error
}

// NetlinkBackend is the production Backend.
type NetlinkBackend struct{}

func toNetlinkRoute(r Route) *netlink.Route {
	dst := r.Key.Dst.IP()
	nr := &netlink.Route{
		LinkIndex: r.IfIndex,
		Dst:       &net.IPNet{IP: dst, Mask: net.CIDRMask(int(r.Key.Dst.PrefixLen), len(dst)*8)},
		Priority:  r.Distance,
		Protocol:  netlink.RouteProtocol(r.Protocol),
		Table:     r.Table,
	}
	if !r.Gateway.IsUnspec() {
		nr.Gw = r.Gateway.IP()
	}
	return nr
}

func (NetlinkBackend) RouteAdd(r Route) error {
	if err := netlink.RouteAdd(toNetlinkRoute(r)); err != nil {
		if err == syscall.EEXIST {
			return nil
		}
		return errkind.Wrap(errkind.RouteOpError, err.Error())
	}
	return nil
}

func (NetlinkBackend) RouteDel(r Route) error {
	if err := netlink.RouteDel(toNetlinkRoute(r)); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return errkind.Wrap(errkind.RouteOpError, err.Error())
	}
	return nil
}

// Installer holds the last successfully-installed table per domain and
// coordinates diffing, rate-limiting and freeze semantics.
type Installer struct {
	backend Backend
	wheel   *sched.Wheel
	log     *logrus.Entry

	installed map[meshdomain.ID]map[netaddr.RouteKey]DesiredRoute
	desired   map[meshdomain.ID]map[netaddr.RouteKey]DesiredRoute

	Frozen bool

	rateLimitTimer *sched.Timer
	holdOffTimer   *sched.Timer
	RateLimitMs    int64
	HoldOffMs      int64

	pending map[meshdomain.ID][]DesiredRoute
}

func NewInstaller(backend Backend, wheel *sched.Wheel, log *logrus.Entry) *Installer {
	inst := &Installer{
		backend:     backend,
		wheel:       wheel,
		log:         log,
		installed:   make(map[meshdomain.ID]map[netaddr.RouteKey]DesiredRoute),
		desired:     make(map[meshdomain.ID]map[netaddr.RouteKey]DesiredRoute),
		pending:     make(map[meshdomain.ID][]DesiredRoute),
		RateLimitMs: 1000,
		HoldOffMs:   100,
	}
	inst.rateLimitTimer = wheel.New(inst.applyAllPending)
	inst.holdOffTimer = wheel.New(inst.applyAllPending)
	return inst
}

// RequestApply queues desired as the new table for domain and arms the
// coalescing hold-off timer (spec.md §4.10: "a delayed trigger hold-off of
// 100ms is used immediately after a parameter-change to let multiple
// events coalesce").
func (inst *Installer) RequestApply(domain meshdomain.ID, desired []DesiredRoute) {
	inst.pending[domain] = desired
	if !inst.wheel.IsActive(inst.rateLimitTimer) {
		inst.wheel.Set(inst.rateLimitTimer, inst.RateLimitMs, false)
	}
	inst.wheel.Set(inst.holdOffTimer, inst.HoldOffMs, false)
}

func (inst *Installer) applyAllPending() {
	for domain, desired := range inst.pending {
		inst.apply(domain, desired)
	}
	inst.pending = make(map[meshdomain.ID][]DesiredRoute)
}

// apply diffs the newly-requested table against the last table actually
// pushed to the kernel and submits the four ordered phases (spec.md §4.10).
// When Frozen, the desired state is still recorded so unfreezing can re-diff
// it against whatever is still installed.
func (inst *Installer) apply(domain meshdomain.ID, desired []DesiredRoute) {
	next := make(map[netaddr.RouteKey]DesiredRoute, len(desired))
	for _, d := range desired {
		next[d.Key] = d
	}
	inst.desired[domain] = next

	if inst.Frozen {
		return
	}

	prev := inst.installed[domain]
	var removedMulti, addedSingle, addedMulti, removedSingle []DesiredRoute

	for key, old := range prev {
		if _, ok := next[key]; !ok {
			if old.isMultiHop() {
				removedMulti = append(removedMulti, old)
			} else {
				removedSingle = append(removedSingle, old)
			}
		}
	}
	for key, d := range next {
		if old, ok := prev[key]; ok && routeEqual(old, d) {
			continue
		}
		if d.isMultiHop() {
			addedMulti = append(addedMulti, d)
		} else {
			addedSingle = append(addedSingle, d)
		}
	}

	for _, r := range removedMulti {
		inst.submitDel(domain, r, next, prev)
	}
	for _, r := range addedSingle {
		inst.submitAdd(domain, r, next)
	}
	for _, r := range addedMulti {
		inst.submitAdd(domain, r, next)
	}
	for _, r := range removedSingle {
		inst.submitDel(domain, r, next, prev)
	}

	inst.installed[domain] = next
}

func routeEqual(a, b DesiredRoute) bool {
	return a.Gateway.Equal(b.Gateway) && a.IfIndex == b.IfIndex && a.Distance == b.Distance && a.Hops == b.Hops
}

// submitAdd pushes r to the backend; on failure it is dropped from next so
// the recorded installed state doesn't claim a route that isn't there.
func (inst *Installer) submitAdd(domain meshdomain.ID, r DesiredRoute, next map[netaddr.RouteKey]DesiredRoute) {
	if err := inst.backend.RouteAdd(r.Route); err != nil {
		inst.log.WithError(err).WithField("domain", domain).Warn("route add failed, reverting optimistic state")
		delete(next, r.Key)
	}
}

// submitDel removes r from the backend; on failure it is restored into next
// from its last-known state in prev, since the kernel still has it.
func (inst *Installer) submitDel(domain meshdomain.ID, r DesiredRoute, next, prev map[netaddr.RouteKey]DesiredRoute) {
	if err := inst.backend.RouteDel(r.Route); err != nil {
		inst.log.WithError(err).WithField("domain", domain).Warn("route delete failed, reverting optimistic state")
		next[r.Key] = prev[r.Key]
	}
}

// SetFrozen toggles the freeze-routes flag; unfreezing re-diffs the last
// requested desired state against the kernel (spec.md §4.10).
func (inst *Installer) SetFrozen(frozen bool) {
	wasFrozen := inst.Frozen
	inst.Frozen = frozen
	if wasFrozen && !frozen {
		for domain, d := range inst.desired {
			inst.apply(domain, routesOf(d))
		}
	}
}

func routesOf(m map[netaddr.RouteKey]DesiredRoute) []DesiredRoute {
	out := make([]DesiredRoute, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	return out
}
