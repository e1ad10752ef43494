//go:build linux

package osadapter

import (
	"net"
	"sync"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"olsrv2d/internal/netaddr"
)

// linuxAdapter enumerates interfaces via the stdlib net package (itself
// backed by rtnetlink on Linux) and subscribes to live link/address
// changes via github.com/vishvananda/netlink's subscription API, the same
// split m-lab/tcp-info and CyberFlameGO-tcp-info use between a one-shot
// inetdiag dump and a netlink.Subscribe stream.
type linuxAdapter struct {
	mu        sync.Mutex
	listeners []func(ChangeEvent)
	hasIPv6   bool
}

// NewLinux creates the production OS adapter and starts its change
// watcher. If netlink subscription fails (e.g. inside unprivileged test
// containers) the error is ignored and no change events are delivered;
// the synchronous queries keep working.
func NewLinux() Adapter {
	a := &linuxAdapter{hasIPv6: probeIPv6()}
	go a.watch()
	return a
}

func probeIPv6() bool {
	_, err := unix.Socket(unix.AF_INET6, unix.SOCK_DGRAM, 0)
	return err == nil
}

func (a *linuxAdapter) Interfaces() []Interface {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil
	}
	out := make([]Interface, 0, len(ifs))
	for _, ifc := range ifs {
		out = append(out, toInterface(ifc))
	}
	return out
}

func (a *linuxAdapter) InterfaceByName(name string) (Interface, bool) {
	ifc, err := net.InterfaceByName(name)
	if err != nil {
		return Interface{}, false
	}
	return toInterface(*ifc), true
}

func toInterface(ifc net.Interface) Interface {
	out := Interface{
		Name:     ifc.Name,
		Index:    ifc.Index,
		Up:       ifc.Flags&net.FlagUp != 0,
		Loopback: ifc.Flags&net.FlagLoopback != 0,
	}
	if len(ifc.HardwareAddr) == 6 {
		out.MAC = netaddr.New(netaddr.FamilyMAC48, ifc.HardwareAddr)
	}
	addrs, err := ifc.Addrs()
	if err != nil {
		return out
	}
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		na, ok := netaddr.FromIP(ipn.IP)
		if !ok {
			continue
		}
		ones, _ := ipn.Mask.Size()
		na = na.WithPrefix(uint8(ones))
		out.Addresses = append(out.Addresses, na)
		if ipn.IP.IsLinkLocalUnicast() {
			if na.Family == netaddr.FamilyIPv4 {
				out.LinkLocalV4 = na
			} else {
				out.LinkLocalV6 = na
			}
		}
	}
	return out
}

func (a *linuxAdapter) watch() {
	linkCh := make(chan netlink.LinkUpdate)
	addrCh := make(chan netlink.AddrUpdate)
	done := make(chan struct{})
	defer close(done)

	_ = netlink.LinkSubscribe(linkCh, done)
	_ = netlink.AddrSubscribe(addrCh, done)

	for {
		select {
		case upd, ok := <-linkCh:
			if !ok {
				return
			}
			a.notifyLink(upd)
		case upd, ok := <-addrCh:
			if !ok {
				return
			}
			a.notifyAddr(upd)
		}
	}
}

func (a *linuxAdapter) notifyLink(upd netlink.LinkUpdate) {
	kind := InterfaceChanged
	if upd.Header.Type == unix.RTM_DELLINK {
		kind = InterfaceRemoved
	} else if upd.Header.Type == unix.RTM_NEWLINK {
		kind = InterfaceAdded
	}
	ifc, _ := a.InterfaceByName(upd.Link.Attrs().Name)
	a.dispatch(ChangeEvent{Kind: kind, Interface: ifc})
}

func (a *linuxAdapter) notifyAddr(upd netlink.AddrUpdate) {
	na, ok := netaddr.FromIP(upd.LinkAddress.IP)
	if !ok {
		return
	}
	kind := AddressAdded
	if !upd.NewAddr {
		kind = AddressRemoved
	}
	a.dispatch(ChangeEvent{Kind: kind, Address: na})
}

func (a *linuxAdapter) dispatch(ev ChangeEvent) {
	a.mu.Lock()
	listeners := append([]func(ChangeEvent){}, a.listeners...)
	a.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func (a *linuxAdapter) Subscribe(fn func(ChangeEvent)) func() {
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	idx := len(a.listeners) - 1
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if idx < len(a.listeners) {
			a.listeners[idx] = func(ChangeEvent) {}
		}
	}
}

func (a *linuxAdapter) IsRoutable(addr netaddr.NetAddr) bool {
	ip := addr.IP()
	if ip == nil {
		return false
	}
	return !ip.IsLoopback() && !ip.IsLinkLocalUnicast() && !ip.IsMulticast() && !ip.IsUnspecified()
}

func (a *linuxAdapter) HasIPv6() bool { return a.hasIPv6 }
