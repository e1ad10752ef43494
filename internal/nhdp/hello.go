package nhdp

import (
	"olsrv2d/internal/container"
	"olsrv2d/internal/meshdomain"
	"olsrv2d/internal/netaddr"
	"olsrv2d/internal/osadapter"
)

// HelloOut mirrors HelloIn but is built for transmission; internal/rfc5444
// turns it into address/status TLVs inside one RFC6130 HELLO message.
type HelloOut struct {
	Seqno       uint16
	ITimeMs     int64
	VTimeMs     int64
	Willingness map[meshdomain.ID]meshdomain.Willingness
	LinkAddrs   []netaddr.NetAddr
	Symmetric   []netaddr.NetAddr
	Heard       []netaddr.NetAddr
	Lost        []netaddr.NetAddr
}

// NewInterface registers iface with the LinkSet's per-interface bookkeeping,
// grounded on the teacher's per-Node hello/refresh ticker setup in NewNode.
func NewInterface(os osadapter.Interface, helloIntervalMs, helloVTimeMs, refreshIntervalMs int64) *Interface {
	return &Interface{
		OS:                os,
		Name:              os.Name,
		LinkAddrs:         make(map[string]netaddr.NetAddr),
		HelloIntervalMs:   helloIntervalMs,
		HelloVTimeMs:      helloVTimeMs,
		RefreshIntervalMs: refreshIntervalMs,
		Links:             make(map[container.Handle]bool),
	}
}

// BuildHello composes the outgoing HELLO for iface from its Link set,
// directly generalizing the teacher's sendHello (which just dumped every
// known one-hop neighbor's id) into RFC6130's HEARD/SYMMETRIC/LOST address
// partition.
func (ls *LinkSet) BuildHello(iface *Interface, seqno uint16, willingness map[meshdomain.ID]meshdomain.Willingness) HelloOut {
	ls.RecomputeMPRIfDirty(iface)

	out := HelloOut{
		Seqno:       seqno,
		ITimeMs:     iface.HelloIntervalMs,
		VTimeMs:     iface.HelloVTimeMs,
		Willingness: willingness,
	}
	for _, a := range iface.LinkAddrs {
		out.LinkAddrs = append(out.LinkAddrs, a)
	}
	for h := range iface.Links {
		l, ok := ls.links.Get(h)
		if !ok {
			continue
		}
		for _, a := range l.RemoteAddrs {
			switch l.Status {
			case Symmetric:
				out.Symmetric = append(out.Symmetric, a)
			case Heard:
				out.Heard = append(out.Heard, a)
			case Lost:
				out.Lost = append(out.Lost, a)
			}
		}
	}
	return out
}
