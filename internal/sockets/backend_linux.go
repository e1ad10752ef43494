//go:build linux

package sockets

import (
	"syscall"

	"golang.org/x/sys/unix"

	"olsrv2d/internal/errkind"
	"olsrv2d/internal/netaddr"
)

// UnixBackend is the production Backend: a non-blocking UDP (or raw-IP)
// socket per family, multicast membership and DSCP/TTL options set via
// golang.org/x/sys/unix the way m-lab/tcp-info and moby-moby's libnetwork
// osl package configure sockets below the Go net package's abstraction.
type UnixBackend struct{}

func (UnixBackend) Open(cfg FamilyConfig, ifIndex int, local netaddr.NetAddr) (int, error) {
	domain := unix.AF_INET
	if cfg.Family == netaddr.FamilyIPv6 {
		domain = unix.AF_INET6
	}
	sockType := unix.SOCK_DGRAM
	proto := 0
	if cfg.RawIP {
		sockType = unix.SOCK_RAW
		proto = unix.IPPROTO_UDP
	}
	fd, err := unix.Socket(domain, sockType, proto)
	if err != nil {
		return -1, errkind.Wrap(errkind.FatalIO, err.Error())
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, errkind.Wrap(errkind.FatalIO, err.Error())
	}

	if cfg.Family == netaddr.FamilyIPv4 {
		if cfg.TTL > 0 {
			unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TTL, cfg.TTL)
			unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, cfg.TTL)
		}
		if cfg.DSCP > 0 {
			unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, cfg.DSCP<<2)
		}
		unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_LOOP, boolInt(cfg.LoopMulticast))
	} else {
		if cfg.TTL > 0 {
			unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_UNICAST_HOPS, cfg.TTL)
			unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_HOPS, cfg.TTL)
		}
		if cfg.DSCP > 0 {
			unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, cfg.DSCP<<2)
		}
		unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_LOOP, boolInt(cfg.LoopMulticast))
	}
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)

	if err := bindTo(fd, cfg, local); err != nil {
		unix.Close(fd)
		return -1, errkind.Wrap(errkind.FatalIO, err.Error())
	}
	if !cfg.MulticastGroup.IsUnspec() {
		if err := joinMulticast(fd, cfg, ifIndex); err != nil {
			unix.Close(fd)
			return -1, errkind.Wrap(errkind.FatalIO, err.Error())
		}
	}
	return fd, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func bindTo(fd int, cfg FamilyConfig, local netaddr.NetAddr) error {
	port := cfg.UnicastPort
	if cfg.Family == netaddr.FamilyIPv4 {
		var addr [4]byte
		copy(addr[:], local.Bytes[:4])
		return unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: addr})
	}
	var addr [16]byte
	copy(addr[:], local.Bytes[:16])
	return unix.Bind(fd, &unix.SockaddrInet6{Port: port, Addr: addr})
}

func joinMulticast(fd int, cfg FamilyConfig, ifIndex int) error {
	if cfg.Family == netaddr.FamilyIPv4 {
		mreq := &unix.IPMreq{}
		copy(mreq.Multiaddr[:], cfg.MulticastGroup.Bytes[:4])
		return unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq)
	}
	mreq := &unix.IPv6Mreq{Interface: uint32(ifIndex)}
	copy(mreq.Multiaddr[:], cfg.MulticastGroup.Bytes[:16])
	return unix.SetsockoptIPv6Mreq(fd, unix.IPPROTO_IPV6, unix.IPV6_JOIN_GROUP, mreq)
}

func (UnixBackend) SendTo(fd int, dest netaddr.NetAddr, port int, b []byte) (int, error) {
	var sa unix.Sockaddr
	if dest.Family == netaddr.FamilyIPv4 {
		var addr [4]byte
		copy(addr[:], dest.Bytes[:4])
		sa = &unix.SockaddrInet4{Port: port, Addr: addr}
	} else {
		var addr [16]byte
		copy(addr[:], dest.Bytes[:16])
		sa = &unix.SockaddrInet6{Port: port, Addr: addr}
	}
	err := unix.Sendto(fd, b, 0, sa)
	if err == nil {
		return len(b), nil
	}
	return 0, classify(err)
}

func (UnixBackend) RecvFrom(fd int, buf []byte) (int, netaddr.NetAddr, error) {
	n, from, err := unix.Recvfrom(fd, buf, 0)
	if err != nil {
		return 0, netaddr.NetAddr{}, classify(err)
	}
	switch sa := from.(type) {
	case *unix.SockaddrInet4:
		return n, netaddr.New(netaddr.FamilyIPv4, sa.Addr[:]), nil
	case *unix.SockaddrInet6:
		return n, netaddr.New(netaddr.FamilyIPv6, sa.Addr[:]), nil
	default:
		return n, netaddr.NetAddr{}, nil
	}
}

func (UnixBackend) Close(fd int) error {
	return unix.Close(fd)
}

// classify maps raw syscall errnos onto the errkind taxonomy (spec.md §7).
func classify(err error) error {
	switch err {
	case syscall.EAGAIN, syscall.EINTR:
		return errkind.Wrap(errkind.TransientIO, err.Error())
	case syscall.EBADF:
		return errkind.Wrap(errkind.FatalIO, err.Error())
	case syscall.EPERM:
		return errkind.Wrap(errkind.PermissionRateLimited, err.Error())
	default:
		return err
	}
}
