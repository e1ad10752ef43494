// Package daemon wires every core component (SPEC_FULL.md §1's component
// list) into one running olsrv2d instance: one Scheduler/Wheel/Dispatcher,
// one SocketSet, one RFC5444Fabric, one Layer2 database, one NHDP
// LinkSet plus per-interface state, per-link DAT samplers, one OLSRv2TC
// database, one RouteInstaller and the ChangeBus connecting them,
// generalizing the teacher's single Node/Controller pairing (node.go,
// controller_test.go) from one flat neighbor table into the layered
// component set SPEC_FULL.md describes.
package daemon

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"olsrv2d/internal/changebus"
	"olsrv2d/internal/config"
	"olsrv2d/internal/dat"
	"olsrv2d/internal/layer2"
	"olsrv2d/internal/meshdomain"
	"olsrv2d/internal/mpr"
	"olsrv2d/internal/netaddr"
	"olsrv2d/internal/nhdp"
	"olsrv2d/internal/olsrv2"
	"olsrv2d/internal/osadapter"
	"olsrv2d/internal/rfc5444"
	"olsrv2d/internal/routeinstall"
	"olsrv2d/internal/routing"
	"olsrv2d/internal/sched"
	"olsrv2d/internal/sockets"
	"olsrv2d/internal/viewer"
)

// linkKey identifies one DAT sampler: an interface plus the remote
// address that stands in for its link-layer identity on that link.
type linkKey struct {
	iface string
	addr  string
}

// Daemon owns every live component for one olsrv2d process.
type Daemon struct {
	cfg *config.Config
	log *logrus.Entry
	os  osadapter.Adapter

	Wheel *sched.Wheel
	Disp  *sched.Dispatcher
	Sched *sched.Scheduler

	Sockets *sockets.Set
	Codec   ExtensionCodec
	Fabric  *rfc5444.Fabric
	Layer2  *layer2.DB
	Bus     *changebus.Bus

	LinkSet *nhdp.LinkSet
	Ifaces  map[string]*nhdp.Interface

	TC        *olsrv2.DB
	LocalAnsn map[meshdomain.ID]*olsrv2.LocalAnsn
	graph     *graphAdapter

	Installer *routeinstall.Installer
	Viewer    *viewer.Server

	domains        []meshdomain.ID
	willingness    map[meshdomain.ID]meshdomain.Willingness
	sourceSpecific map[meshdomain.ID]bool

	samples map[linkKey]*dat.Sample

	// Originator is this node's stable identity, one address per
	// family it participates in.
	Originator map[netaddr.Family]netaddr.NetAddr

	helloSeq      map[string]uint16
	helloTimers   map[string]*sched.Timer
	refreshTimers map[string]*sched.Timer

	tcTimer      *sched.Timer
	TCIntervalMs int64
	TCValidityMs int64

	routingTimer     *sched.Timer
	RoutingHoldOffMs int64

	RouteTable    int
	RouteProtocol int
	RouteDistance int

	// recvIfName carries the interface a packet was just received on
	// from onSocketReceive into the registered rfc5444.Consumer
	// callbacks, which the Fabric's Consumer signature does not itself
	// carry (it only passes the packet's source address). Safe because
	// the Scheduler drives everything from one cooperative loop with no
	// concurrent dispatch.
	recvIfName string

	unsubscribe func()
}

// New constructs a Daemon; callers provide every OS-facing seam (osadapter
// the interface/address view, sockets.Backend the raw socket syscalls, a
// sched.Waiter poller, a routeinstall.Backend for kernel route mutation,
// an ExtensionCodec for the NHDP/OLSRv2TC message bodies, and an
// rfc5444.Writer/Reader for packet framing) so the wiring here is exactly
// as testable as each component already is on its own.
func New(
	cfg *config.Config,
	os osadapter.Adapter,
	sockBackend sockets.Backend,
	waiter sched.Waiter,
	routeBackend routeinstall.Backend,
	codec ExtensionCodec,
	writer rfc5444.Writer,
	reader rfc5444.Reader,
	clock sched.Clock,
	originator map[netaddr.Family]netaddr.NetAddr,
	log *logrus.Entry,
) *Daemon {
	wheel := sched.NewWheel(clock)
	disp := sched.NewDispatcher(waiter)
	domains := domainsFrom(cfg)

	d := &Daemon{
		cfg:              cfg,
		log:              log,
		os:               os,
		Wheel:            wheel,
		Disp:             disp,
		Codec:            codec,
		Layer2:           layer2.NewDB(),
		Bus:              changebus.New(),
		Ifaces:           make(map[string]*nhdp.Interface),
		LocalAnsn:        make(map[meshdomain.ID]*olsrv2.LocalAnsn),
		domains:          domains,
		willingness:      willingnessFrom(cfg),
		sourceSpecific:   sourceSpecificFrom(cfg),
		samples:          make(map[linkKey]*dat.Sample),
		Originator:       originator,
		helloSeq:         make(map[string]uint16),
		helloTimers:      make(map[string]*sched.Timer),
		refreshTimers:    make(map[string]*sched.Timer),
		TCIntervalMs:     2000,
		TCValidityMs:     6000,
		RoutingHoldOffMs: 250,
		RouteTable:       cfg.Routing.TableID,
		RouteProtocol:    cfg.Routing.ProtocolID,
		RouteDistance:    cfg.Routing.Distance,
	}
	if d.RouteTable == 0 {
		d.RouteTable = 254
	}
	if d.RouteProtocol == 0 {
		d.RouteProtocol = 100
	}

	d.Sched = sched.NewScheduler(wheel, disp)

	d.Sockets = sockets.NewSet(sockBackend, disp, log.WithField("component", "sockets"))
	d.Sockets.OnReceive = d.onSocketReceive

	d.Fabric = rfc5444.NewFabric(wheel, clock, writer, reader)
	d.Fabric.IsFloodingMPRForSender = d.isFloodingMPRForSender
	d.Fabric.RegisterConsumer(rfc5444.Consumer{Priority: 0, Protocol: rfc5444.ProtocolNHDP, Handle: d.handleHelloMessage})
	d.Fabric.RegisterConsumer(rfc5444.Consumer{Priority: 10, Protocol: rfc5444.ProtocolOLSRv2, Handle: d.handleTCMessage})

	d.LinkSet = nhdp.NewLinkSet(wheel, domains, mprAlgorithmFor(cfg), mpr.Everyone{})
	d.LinkSet.OnNeighborChanged = d.onNeighborChanged

	d.TC = olsrv2.NewDB(wheel)
	d.TC.OnDomainDirty = func(dom meshdomain.ID) { d.Bus.DomainChanged(dom, false) }
	for _, dom := range domains {
		d.LocalAnsn[dom] = &olsrv2.LocalAnsn{}
	}

	d.graph = newGraphAdapter(d.LinkSet, d.TC)

	d.Installer = routeinstall.NewInstaller(routeBackend, wheel, log.WithField("component", "routeinstall"))

	d.Bus.OnDomainChanged = func(meshdomain.ID, bool) { d.armRouting() }
	d.Bus.OnMetricUpdate = func(meshdomain.ID) { d.armRouting() }

	d.routingTimer = wheel.New(d.recomputeRouting)
	d.tcTimer = wheel.New(d.sendTC)
	wheel.Set(d.tcTimer, d.TCIntervalMs, true)

	d.Viewer = viewer.New(d, log.WithField("component", "viewer"))

	return d
}

// Start syncs every currently-known OS interface that has a matching
// config entry, subscribes to further OS changes, and blocks in the
// scheduler loop until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) {
	for _, osIface := range d.os.Interfaces() {
		if icfg, ok := d.interfaceConfigFor(osIface.Name); ok {
			d.AddInterface(osIface, icfg)
		}
	}
	d.unsubscribe = d.os.Subscribe(d.onOSChange)
	d.Sched.Run(ctx)
}

// Stop unregisters the OS change subscription; callers cancel ctx
// separately to stop the scheduler loop itself.
func (d *Daemon) Stop() {
	if d.unsubscribe != nil {
		d.unsubscribe()
	}
}

// ReloadInterfaces applies a newly-loaded Config: interfaces present in
// next but not currently tracked (or whose settings changed) are brought
// up/refreshed via AddInterface; interfaces no longer listed are torn
// down via RemoveInterface. This is the seam internal/config.Manager's
// OnChange callback drives on SIGHUP (spec.md §7 ConfigReject note: a
// config section that fails validation upstream of this call never
// reaches here, so this method itself cannot partially fail).
func (d *Daemon) ReloadInterfaces(next *config.Config) {
	d.cfg = next
	d.sourceSpecific = sourceSpecificFrom(next)

	wanted := make(map[string]config.InterfaceConfig, len(next.Interfaces))
	for _, ic := range next.Interfaces {
		wanted[ic.Name] = ic
	}
	for name := range d.Ifaces {
		if _, ok := wanted[name]; !ok {
			d.RemoveInterface(name)
		}
	}
	for name, icfg := range wanted {
		osIface, ok := d.os.InterfaceByName(name)
		if !ok {
			continue
		}
		d.AddInterface(osIface, icfg)
	}
}

func (d *Daemon) interfaceConfigFor(name string) (config.InterfaceConfig, bool) {
	for _, ic := range d.cfg.Interfaces {
		if ic.Name == name {
			return ic, true
		}
	}
	return config.InterfaceConfig{}, false
}

func (d *Daemon) onOSChange(ev osadapter.ChangeEvent) {
	switch ev.Kind {
	case osadapter.InterfaceAdded, osadapter.InterfaceChanged, osadapter.AddressAdded, osadapter.AddressRemoved:
		if icfg, ok := d.interfaceConfigFor(ev.Interface.Name); ok {
			d.AddInterface(ev.Interface, icfg)
		}
	case osadapter.InterfaceRemoved:
		d.RemoveInterface(ev.Interface.Name)
	}
}

// AddInterface brings up NHDP/DAT/socket/fabric state for osIface. Called
// both from Start's initial sync and from onOSChange; re-invoking it for
// an interface already tracked only refreshes its sockets (address/up
// changes), matching spec.md §8.5's "interfaces are added, changed or
// removed independently of the daemon's own lifecycle" rule.
func (d *Daemon) AddInterface(osIface osadapter.Interface, icfg config.InterfaceConfig) {
	if _, exists := d.Ifaces[osIface.Name]; exists {
		d.applySockets(osIface, icfg)
		return
	}

	helloIntervalMs := durMs(icfg.HelloInterval, 2000)
	helloVTimeMs := durMs(icfg.HelloValidity, 6000)
	refreshMs := durMs(icfg.RefreshInterval, 2000)
	aggMs := durMs(icfg.AggregationInterval, rfc5444.DefaultAggregationIntervalMs)

	iface := nhdp.NewInterface(osIface, helloIntervalMs, helloVTimeMs, refreshMs)
	for _, a := range osIface.Addresses {
		iface.LinkAddrs[a.String()] = a
	}
	d.Ifaces[osIface.Name] = iface

	d.applySockets(osIface, icfg)
	d.addFabricTargets(osIface, aggMs)

	ht := d.Wheel.New(func() { d.sendHello(iface) })
	d.Wheel.Set(ht, helloIntervalMs, true)
	d.helloTimers[osIface.Name] = ht

	rt := d.Wheel.New(func() { d.refreshInterfaceMetrics(iface) })
	d.Wheel.Set(rt, refreshMs, true)
	d.refreshTimers[osIface.Name] = rt
}

// RemoveInterface tears down everything AddInterface brought up, per
// spec.md §8.5 ("SocketSet tears down both family sockets on that
// interface" plus the fabric targets and NHDP timers that reference it).
func (d *Daemon) RemoveInterface(name string) {
	if t, ok := d.helloTimers[name]; ok {
		d.Wheel.Stop(t)
		delete(d.helloTimers, name)
	}
	if t, ok := d.refreshTimers[name]; ok {
		d.Wheel.Stop(t)
		delete(d.refreshTimers, name)
	}
	delete(d.Ifaces, name)
	d.Sockets.TeardownInterface(name)
	d.Fabric.RemoveTarget(fabricTargetName(name, netaddr.FamilyIPv4))
	d.Fabric.RemoveTarget(fabricTargetName(name, netaddr.FamilyIPv6))
}

func (d *Daemon) applySockets(osIface osadapter.Interface, icfg config.InterfaceConfig) {
	var acl sockets.ACL
	for _, s := range icfg.ACL {
		a, err := netaddr.ParseCIDR(s)
		if err != nil {
			d.log.WithError(err).WithField("entry", s).Warn("skipping unparseable ACL entry")
			continue
		}
		acl.Allow = append(acl.Allow, a)
	}

	for _, family := range []netaddr.Family{netaddr.FamilyIPv4, netaddr.FamilyIPv6} {
		fc := sockets.FamilyConfig{
			Family:         family,
			ReceiveACL:     acl,
			UnicastPort:    int(icfg.UnicastPort),
			MulticastPort:  int(icfg.MulticastPort),
			MulticastGroup: familyMulticastGroup(family),
			TTL:            int(icfg.MulticastTTL),
			DSCP:           int(icfg.DSCP),
			RawIP:          icfg.RawIPMode,
			LoopMulticast:  icfg.LoopMulticast,
		}
		if err := d.Sockets.ApplyConfig(osIface, fc); err != nil {
			d.log.WithError(err).WithField("iface", osIface.Name).Warn("socket apply_config failed")
		}
	}
}

func (d *Daemon) addFabricTargets(osIface osadapter.Interface, aggMs int64) {
	for _, family := range []netaddr.Family{netaddr.FamilyIPv4, netaddr.FamilyIPv6} {
		if !hasFamily(osIface, family) {
			continue
		}
		ifName := osIface.Name
		fam := family
		d.Fabric.AddTarget(&rfc5444.Target{
			Name:                  fabricTargetName(ifName, fam),
			AggregationIntervalMs: aggMs,
			Flooding:              true,
			Send: func(b []byte) error {
				return d.Sockets.Send(ifName, fam, familyMulticastGroup(fam), multicastPortFor(d, ifName), b)
			},
		})
	}
}

func multicastPortFor(d *Daemon, ifName string) int {
	if ic, ok := d.interfaceConfigFor(ifName); ok && ic.MulticastPort > 0 {
		return int(ic.MulticastPort)
	}
	return 698
}

func (d *Daemon) onSocketReceive(ifName string, family netaddr.Family, src netaddr.NetAddr, payload []byte) {
	d.recvIfName = ifName
	if err := d.Fabric.HandleInbound(src, payload, false); err != nil {
		d.log.WithError(err).WithField("iface", ifName).Warn("failed to decode inbound packet")
	}
}

func (d *Daemon) handleHelloMessage(src netaddr.NetAddr, msg rfc5444.Message) bool {
	iface, ok := d.Ifaces[d.recvIfName]
	if !ok {
		return false
	}
	in, err := d.Codec.DecodeHello(msg.Body)
	if err != nil {
		d.log.WithError(err).WithField("iface", iface.Name).Warn("failed to decode HELLO body")
		return false
	}
	in.Source = src
	// There is no link-layer MAC visible at the UDP-socket transport
	// layer this daemon uses; the packet's source address stands in as
	// the per-link identity HELLO processing keys on.
	in.SourceMAC = src
	in.Originator = msg.Originator
	in.Seqno = msg.Seqno
	in.SameIface = true

	l := d.LinkSet.HandleHello(iface, in)
	if l != nil {
		d.sampleFor(iface.Name, l.RemoteMAC).OnPacketReceived(in.Seqno)
	}
	return false
}

func (d *Daemon) handleTCMessage(_ netaddr.NetAddr, msg rfc5444.Message) bool {
	ansn, neighbors, attachments, sourceSpecific, err := d.Codec.DecodeTC(msg.Body)
	if err != nil {
		d.log.WithError(err).Warn("failed to decode TC body")
		return false
	}
	d.TC.IngestTC(msg.Originator, ansn, d.TCValidityMs, neighbors, attachments, sourceSpecific)
	return false
}

func (d *Daemon) sendHello(iface *nhdp.Interface) {
	seq := d.helloSeq[iface.Name]
	d.helloSeq[iface.Name] = seq + 1

	out := d.LinkSet.BuildHello(iface, seq, d.willingness)
	body := d.Codec.EncodeHello(out)
	msg := rfc5444.Message{
		Protocol:   rfc5444.ProtocolNHDP,
		Originator: d.primaryOriginator(),
		Seqno:      seq,
		HopLimit:   1,
		Body:       body,
	}
	for _, family := range []netaddr.Family{netaddr.FamilyIPv4, netaddr.FamilyIPv6} {
		if !hasFamily(iface.OS, family) {
			continue
		}
		d.Fabric.Enqueue(fabricTargetName(iface.Name, family), msg)
	}
}

func (d *Daemon) sendTC() {
	for _, dom := range d.domains {
		if dom == meshdomain.FloodingDomain {
			continue
		}
		la, ok := d.LocalAnsn[dom]
		if !ok {
			continue
		}
		neighbors := d.collectNeighborAdvs(dom)
		if len(neighbors) == 0 {
			continue
		}
		body := d.Codec.EncodeTC(la.Value(), neighbors, nil, d.sourceSpecific)
		msg := rfc5444.Message{
			Protocol:   rfc5444.ProtocolOLSRv2,
			Originator: d.primaryOriginator(),
			Seqno:      d.Fabric.NextMsgSeqno(rfc5444.ProtocolOLSRv2),
			HopLimit:   255,
			Body:       body,
		}
		for ifName, iface := range d.Ifaces {
			for _, family := range []netaddr.Family{netaddr.FamilyIPv4, netaddr.FamilyIPv6} {
				if !hasFamily(iface.OS, family) {
					continue
				}
				d.Fabric.Enqueue(fabricTargetName(ifName, family), msg)
			}
		}
	}
}

func (d *Daemon) collectNeighborAdvs(dom meshdomain.ID) []olsrv2.NeighborAdv {
	var advs []olsrv2.NeighborAdv
	d.LinkSet.Neighbors(func(n *nhdp.Neighbor) {
		if n.SymmetricCount <= 0 {
			return
		}
		ds, ok := n.Domains[dom]
		if !ok || !ds.MetricOut.Known() {
			return
		}
		advs = append(advs, olsrv2.NeighborAdv{
			Originator: n.Originator,
			Domains:    map[meshdomain.ID]olsrv2.DomainMetric{dom: {In: ds.MetricIn, Out: ds.MetricOut}},
		})
	})
	return advs
}

func (d *Daemon) onNeighborChanged(n *nhdp.Neighbor) {
	for _, dom := range d.domains {
		if dom == meshdomain.FloodingDomain {
			continue
		}
		d.TC.SetDirectNeighbor(n.Originator, n.SymmetricCount > 0, dom)
		d.Bus.MetricUpdate(dom)
	}
}

func (d *Daemon) isFloodingMPRForSender(sender netaddr.NetAddr) bool {
	isMPR := false
	d.LinkSet.Links(func(l *nhdp.Link) {
		if isMPR {
			return
		}
		if _, ok := l.RemoteAddrs[sender.String()]; !ok {
			return
		}
		if ds, ok := l.Domains[meshdomain.FloodingDomain]; ok && ds.LocalIsFloodingMPR {
			isMPR = true
		}
	})
	return isMPR
}

func (d *Daemon) armRouting() {
	if !d.Wheel.IsActive(d.routingTimer) {
		d.Wheel.Set(d.routingTimer, d.RoutingHoldOffMs, false)
	}
}

func (d *Daemon) recomputeRouting() {
	for _, dom := range d.Bus.DirtyDomains() {
		if dom == meshdomain.FloodingDomain {
			continue
		}
		var entries []routing.Entry
		entries = append(entries, routing.Run(d.graph, dom, netaddr.FamilyIPv4)...)
		entries = append(entries, routing.Run(d.graph, dom, netaddr.FamilyIPv6)...)

		desired := make([]routeinstall.DesiredRoute, 0, len(entries))
		for _, e := range entries {
			desired = append(desired, routeinstall.DesiredRoute{
				Route: routeinstall.Route{
					Key:      e.Key,
					Gateway:  e.NextOriginator,
					IfIndex:  e.IfIndex,
					Distance: d.RouteDistance,
					Protocol: d.RouteProtocol,
					Table:    d.RouteTable,
				},
				Hops: e.Hops,
			})
		}
		d.Installer.RequestApply(dom, desired)
	}

	for _, dom := range d.Bus.PendingAnsnBumps() {
		if la, ok := d.LocalAnsn[dom]; ok {
			la.Bump()
		}
	}
	d.Bus.Drain()
}

// sampleFor returns (creating if absent) the DAT sampler for one link,
// configured from that interface's DATConfig.
func (d *Daemon) sampleFor(ifName string, addr netaddr.NetAddr) *dat.Sample {
	key := linkKey{iface: ifName, addr: addr.String()}
	s, ok := d.samples[key]
	if !ok {
		dc := d.datConfigFor(ifName)
		s = dat.NewSample(lossExponentFromString(dc.LossExponent), dc.MICEnabled)
		d.samples[key] = s
	}
	return s
}

func (d *Daemon) datConfigFor(ifName string) config.DATConfig {
	if ic, ok := d.interfaceConfigFor(ifName); ok {
		return ic.DAT
	}
	return config.DATConfig{}
}

// refreshInterfaceMetrics closes the DAT sampling interval for every
// SYMMETRIC link on iface and, if the resulting metric changed, pushes it
// into the NHDP link-set's per-domain aggregate (spec.md §4.6's "one
// interface refresh cycle" cadence).
func (d *Daemon) refreshInterfaceMetrics(iface *nhdp.Interface) {
	for h := range iface.Links {
		l, ok := d.LinkSet.LinkByHandle(h)
		if !ok || l.Status != nhdp.Symmetric {
			continue
		}
		s := d.sampleFor(iface.Name, l.RemoteMAC)

		rxBitrate, haveBitrate := d.layer2Int(iface.Name, l.RemoteMAC, dat.SlotRxBitrate)
		s.CloseInterval(rxBitrate, haveBitrate)

		ext := d.layer2LossSignals(iface.Name, l.RemoteMAC)
		throughputRaw, haveThroughput := d.layer2Int(iface.Name, l.RemoteMAC, dat.SlotThroughput)
		throughput := meshdomain.Metric(throughputRaw)

		metric, changed := s.Compute(ext, throughput, haveThroughput)
		d.writeDATObservations(iface.Name, l.RemoteMAC, s, ext)
		if !changed {
			continue
		}
		for _, dom := range d.domains {
			if dom == meshdomain.FloodingDomain {
				continue
			}
			// The local sampler only observes this link's inbound
			// direction; the true outbound cost needs the peer's own
			// measurement, which would arrive over the same HELLO
			// link-metric TLV the RFC5444 byte codec (out of scope
			// here) would carry. Until that round trip exists, both
			// directions report the locally-observed value.
			d.LinkSet.UpdateLinkMetric(l, dom, metric, metric)
		}
	}
	d.Fabric.PurgeExpired()
}

func (d *Daemon) layer2Int(ifName string, addr netaddr.NetAddr, idx layer2SlotIndex) (int64, bool) {
	data, ok := d.Layer2.Query(ifName, addr, nil, idx, true)
	if !ok {
		return 0, false
	}
	return data.Int, true
}

func (d *Daemon) layer2LossSignals(ifName string, addr netaddr.NetAddr) dat.LossSignals {
	var sig dat.LossSignals
	if data, ok := d.Layer2.Query(ifName, addr, nil, dat.SlotBroadcastLoss, true); ok {
		sig.Layer2BroadcastLossPerMille = data.Int
		sig.HasBroadcastLoss = true
	}
	if data, ok := d.Layer2.Query(ifName, addr, nil, dat.SlotRLQ, true); ok {
		sig.RLQPerMille = data.Int
		sig.HasRLQ = true
	}
	return sig
}

// writeDATObservations publishes this sampler's own probed-success ratio,
// and (absent an external RLQ signal) its own RLQ estimate derived from
// the same ratio, back into Layer2DB under dat.Origin, so every consumer
// of those slots sees a single coherent metric surface regardless of
// whether a declarative or hardware-reported origin also exists
// (spec.md §4.6).
func (d *Daemon) writeDATObservations(ifName string, addr netaddr.NetAddr, s *dat.Sample, ext dat.LossSignals) {
	p, ok := s.ProbedSuccess()
	if !ok {
		return
	}
	net := d.Layer2.NetAdd(ifName)
	nb := d.Layer2.NeighAdd(net, addr, nil)

	d.Layer2.DataSetNeigh(net, nb, dat.SlotProbedSuccess, dat.Origin, layer2.Data{
		Type: layer2.SlotInt, Int: p, Scale: 1000, Unit: "o/oo",
	})
	if !ext.HasRLQ {
		d.Layer2.DataSetNeigh(net, nb, dat.SlotRLQ, dat.Origin, layer2.Data{
			Type: layer2.SlotInt, Int: p, Scale: 1000, Unit: "o/oo",
		})
	}
	d.Layer2.CommitNeigh(net, nb)
}

func (d *Daemon) primaryOriginator() netaddr.NetAddr {
	if o, ok := d.Originator[netaddr.FamilyIPv4]; ok && !o.IsUnspec() {
		return o
	}
	if o, ok := d.Originator[netaddr.FamilyIPv6]; ok {
		return o
	}
	return netaddr.NetAddr{}
}

// --- viewer.Source ---

func (d *Daemon) Links() []viewer.LinkView {
	var out []viewer.LinkView
	d.LinkSet.Links(func(l *nhdp.Link) {
		lv := viewer.LinkView{Interface: l.Iface.Name, Remote: l.RemoteMAC.String(), Status: l.Status.String()}
		if n, ok := d.LinkSet.NeighborByHandle(l.Neighbor); ok {
			lv.Neighbor = n.Originator.String()
		}
		out = append(out, lv)
	})
	return out
}

func (d *Daemon) Neighbors() []viewer.NeighborView {
	var out []viewer.NeighborView
	d.LinkSet.Neighbors(func(n *nhdp.Neighbor) {
		out = append(out, viewer.NeighborView{Originator: n.Originator.String(), SymmetricLinks: n.SymmetricCount})
	})
	return out
}

func (d *Daemon) TcNodes() []viewer.TcNodeView {
	var out []viewer.TcNodeView
	d.TC.Each(func(n *olsrv2.TcNode) {
		v := viewer.TcNodeView{Originator: n.Originator.String(), Ansn: n.Ansn, DirectNeighbor: n.DirectNeighbor}
		for _, e := range n.Edges {
			if target, ok := d.TC.NodeByHandle(e.Target); ok {
				v.Edges = append(v.Edges, target.Originator.String())
			}
		}
		out = append(out, v)
	})
	return out
}

func (d *Daemon) Routes() []viewer.RouteView {
	var out []viewer.RouteView
	for _, dom := range d.domains {
		if dom == meshdomain.FloodingDomain {
			continue
		}
		for _, family := range []netaddr.Family{netaddr.FamilyIPv4, netaddr.FamilyIPv6} {
			for _, e := range routing.Run(d.graph, dom, family) {
				out = append(out, viewer.RouteView{
					Destination: e.Key.Dst.String(),
					Source:      e.Key.Src.String(),
					NextHop:     e.NextOriginator.String(),
					Cost:        int32(e.Cost),
					Hops:        e.Hops,
					Domain:      uint8(dom),
				})
			}
		}
	}
	return out
}

func (d *Daemon) Counters() viewer.Counters {
	return viewer.Counters{
		"symmetric_neighbors": int64(d.LinkSet.SymmetricNeighborCount()),
	}
}

// --- small helpers ---

// layer2SlotIndex avoids importing internal/layer2 into this file just
// for the type alias used by layer2Int's signature.
type layer2SlotIndex = layer2.SlotIndex

func durMs(d time.Duration, def int64) int64 {
	if d <= 0 {
		return def
	}
	return d.Milliseconds()
}

func hasFamily(iface osadapter.Interface, family netaddr.Family) bool {
	for _, a := range iface.Addresses {
		if a.Family == family {
			return true
		}
	}
	return false
}

func fabricTargetName(ifName string, family netaddr.Family) string {
	if family == netaddr.FamilyIPv6 {
		return ifName + "-v6"
	}
	return ifName + "-v4"
}

func familyMulticastGroup(family netaddr.Family) netaddr.NetAddr {
	switch family {
	case netaddr.FamilyIPv4:
		return netaddr.New(netaddr.FamilyIPv4, []byte{224, 0, 0, 109})
	case netaddr.FamilyIPv6:
		return netaddr.New(netaddr.FamilyIPv6, []byte{0xff, 0x02, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x6d})
	default:
		return netaddr.NetAddr{}
	}
}

func domainsFrom(cfg *config.Config) []meshdomain.ID {
	seen := map[meshdomain.ID]bool{meshdomain.FloodingDomain: true}
	domains := []meshdomain.ID{meshdomain.FloodingDomain}
	for _, dc := range cfg.Domains {
		id := meshdomain.ID(dc.ID)
		if seen[id] {
			continue
		}
		seen[id] = true
		domains = append(domains, id)
	}
	if len(domains) == 1 {
		domains = append(domains, meshdomain.ID(1))
	}
	return domains
}

func willingnessFrom(cfg *config.Config) map[meshdomain.ID]meshdomain.Willingness {
	out := make(map[meshdomain.ID]meshdomain.Willingness)
	for _, dc := range cfg.Domains {
		id := meshdomain.ID(dc.ID)
		if dc.LocalWillingness > 0 {
			out[id] = meshdomain.Willingness(dc.LocalWillingness)
		} else {
			out[id] = meshdomain.WillingnessDefault
		}
	}
	if len(cfg.Domains) == 0 {
		out[meshdomain.ID(1)] = meshdomain.WillingnessDefault
	}
	return out
}

// sourceSpecificFrom collects this node's own per-domain source-specific
// declaration (spec.md §3 TcNode field) from config, to be self-advertised
// in this node's own TC the same way ANSN is.
func sourceSpecificFrom(cfg *config.Config) map[meshdomain.ID]bool {
	out := make(map[meshdomain.ID]bool)
	for _, dc := range cfg.Domains {
		if dc.SourceSpecific {
			out[meshdomain.ID(dc.ID)] = true
		}
	}
	return out
}

func mprAlgorithmFor(cfg *config.Config) mpr.Algorithm {
	for _, dc := range cfg.Domains {
		if dc.MPRName == "everyone" {
			return mpr.Everyone{}
		}
	}
	return mpr.Greedy{}
}

func lossExponentFromString(s string) dat.LossExponent {
	switch s {
	case "quadratic":
		return dat.ExpQuadratic
	case "cubic":
		return dat.ExpCubic
	case "dynamic":
		return dat.ExpDynamic
	default:
		return dat.ExpLinear
	}
}
