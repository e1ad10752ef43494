// Package sockets implements SocketSet (SPEC_FULL.md §4.2): one managed
// UDP socket per (interface, address family), ACL-filtered on receive,
// with a send backlog for EAGAIN/EINTR, EBADF teardown-and-reopen, and
// EPERM rate-limited warnings. The OS syscall surface is abstracted behind
// Backend so the state machine here is testable without real fds, the way
// internal/osadapter splits linuxAdapter from Fake.
package sockets

import (
	"bytes"
	"time"

	"github.com/sirupsen/logrus"

	"olsrv2d/internal/errkind"
	"olsrv2d/internal/netaddr"
	"olsrv2d/internal/osadapter"
	"olsrv2d/internal/ratelimit"
	"olsrv2d/internal/sched"
)

// ACL is a source-address allow-list; an empty ACL permits everything.
type ACL struct {
	Allow []netaddr.NetAddr
}

// Permits reports whether src matches one of the allowed prefixes.
func (a ACL) Permits(src netaddr.NetAddr) bool {
	if len(a.Allow) == 0 {
		return true
	}
	for _, p := range a.Allow {
		if prefixContains(p, src) {
			return true
		}
	}
	return false
}

func prefixContains(prefix, addr netaddr.NetAddr) bool {
	if prefix.Family != addr.Family {
		return false
	}
	bits := int(prefix.PrefixLen)
	if bits == 0 {
		return true
	}
	full := bits / 8
	rem := bits % 8
	pb, ab := prefix.Bytes, addr.Bytes
	if !bytes.Equal(pb[:full], ab[:full]) {
		return false
	}
	if rem == 0 {
		return true
	}
	mask := byte(0xFF << (8 - rem))
	return pb[full]&mask == ab[full]&mask
}

// FamilyConfig is the per-(interface, family) socket configuration of
// spec.md §4.2's apply_config.
type FamilyConfig struct {
	Family         netaddr.Family
	ReceiveACL     ACL
	BindACL        ACL // candidate local bind addresses; empty permits any
	UnicastPort    int
	MulticastPort  int
	MulticastGroup netaddr.NetAddr
	TTL            int
	DSCP           int
	RawIP          bool
	LoopMulticast  bool
	InputBufferMax int
}

func (c FamilyConfig) inputBufferMax() int {
	if c.InputBufferMax <= 0 {
		return 65535
	}
	return c.InputBufferMax
}

// pendingSend is one backlog entry: destination, port and payload.
type pendingSend struct {
	dest netaddr.NetAddr
	port int
	data []byte
}

// socket is one live (interface, family) endpoint.
type socket struct {
	fd      int
	ifName  string
	ifIndex int
	cfg     FamilyConfig
	local   netaddr.NetAddr

	backlog    []pendingSend
	writeArmed bool

	permRL *ratelimit.Limiter
}

// Backend abstracts the raw socket syscalls so Set is unit-testable; the
// production implementation lives in backend_linux.go.
type Backend interface {
	Open(cfg FamilyConfig, ifIndex int, local netaddr.NetAddr) (fd int, err error)
	SendTo(fd int, dest netaddr.NetAddr, port int, b []byte) (n int, err error)
	RecvFrom(fd int, buf []byte) (n int, src netaddr.NetAddr, err error)
	Close(fd int) error
}

// Set owns every live socket, keyed by interface name and family.
type Set struct {
	backend Backend
	disp    *sched.Dispatcher
	log     *logrus.Entry

	sockets map[string]map[netaddr.Family]*socket

	// OnReceive is invoked for every datagram that survives ACL
	// filtering; ifName and family identify the socket it arrived on.
	OnReceive func(ifName string, family netaddr.Family, src netaddr.NetAddr, payload []byte)
}

func NewSet(backend Backend, disp *sched.Dispatcher, log *logrus.Entry) *Set {
	return &Set{
		backend: backend,
		disp:    disp,
		log:     log,
		sockets: make(map[string]map[netaddr.Family]*socket),
	}
}

// ApplyConfig opens, reconfigures or tears down the (iface, family)
// socket per spec.md §4.2: "when the interface is down or the configured
// family lacks any acceptable address, the socket is torn down; it is
// re-opened when conditions become satisfied."
func (s *Set) ApplyConfig(iface osadapter.Interface, cfg FamilyConfig) error {
	byFamily := s.sockets[iface.Name]
	if byFamily == nil {
		byFamily = make(map[netaddr.Family]*socket)
		s.sockets[iface.Name] = byFamily
	}
	existing := byFamily[cfg.Family]

	local, ok := s.selectBindAddress(iface, cfg)
	if !iface.Up || !ok {
		if existing != nil {
			s.teardown(iface.Name, cfg.Family, existing)
		}
		return nil
	}

	if existing != nil && existing.local.Equal(local) && sameSocketShape(existing.cfg, cfg) {
		existing.cfg = cfg // non-shape fields (ACLs, ports beyond bind) may still refresh
		return nil
	}
	if existing != nil {
		s.teardown(iface.Name, cfg.Family, existing)
	}

	fd, err := s.backend.Open(cfg, iface.Index, local)
	if err != nil {
		return errkind.Wrap(errkind.FatalIO, err.Error())
	}
	sk := &socket{
		fd: fd, ifName: iface.Name, ifIndex: iface.Index,
		cfg: cfg, local: local,
		permRL: ratelimit.New(ratelimitWindow, ratelimitThreshold),
	}
	byFamily[cfg.Family] = sk
	if err := s.disp.AddSocket(fd, true, false, func(flags sched.ReadyFlags) {
		s.handleReady(iface.Name, cfg.Family, flags)
	}); err != nil {
		return errkind.Wrap(errkind.FatalIO, err.Error())
	}
	return nil
}

// sameSocketShape reports whether two configs describe the same bound fd
// (port/TTL/DSCP/raw-mode); ACL/buffer changes alone don't need a rebind.
func sameSocketShape(a, b FamilyConfig) bool {
	return a.UnicastPort == b.UnicastPort &&
		a.MulticastPort == b.MulticastPort &&
		a.TTL == b.TTL &&
		a.DSCP == b.DSCP &&
		a.RawIP == b.RawIP &&
		a.MulticastGroup.Equal(b.MulticastGroup)
}

// selectBindAddress picks the first of iface's addresses in cfg.Family
// matching cfg.BindACL (or the first of that family if BindACL is empty).
func (s *Set) selectBindAddress(iface osadapter.Interface, cfg FamilyConfig) (netaddr.NetAddr, bool) {
	for _, a := range iface.Addresses {
		if a.Family != cfg.Family {
			continue
		}
		if cfg.BindACL.Permits(a) {
			return a, true
		}
	}
	return netaddr.NetAddr{}, false
}

func (s *Set) teardown(ifName string, family netaddr.Family, sk *socket) {
	s.disp.Remove(sk.fd)
	s.backend.Close(sk.fd)
	delete(s.sockets[ifName], family)
}

// TeardownInterface tears down every family socket on ifName (spec.md
// §8.5: "SocketSet tears down both family sockets on that interface").
func (s *Set) TeardownInterface(ifName string) {
	for family, sk := range s.sockets[ifName] {
		s.teardown(ifName, family, sk)
	}
}

// Send implements spec.md §4.2's send(target, bytes): immediate sendto
// when the backlog is empty, backlog-and-enable-write-ready on
// EAGAIN/EINTR, rate-limited warning on EPERM, teardown-and-reopen left to
// the caller on EBADF (the socket itself is closed here; ApplyConfig must
// be invoked again to reopen it, per spec.md §4.2's failure model).
func (s *Set) Send(ifName string, family netaddr.Family, dest netaddr.NetAddr, port int, data []byte) error {
	sk := s.socketFor(ifName, family)
	if sk == nil {
		return errkind.Wrap(errkind.FatalIO, "no socket open for "+ifName)
	}
	if len(sk.backlog) > 0 {
		sk.backlog = append(sk.backlog, pendingSend{dest: dest, port: port, data: data})
		return nil
	}
	return s.trySend(ifName, sk, pendingSend{dest: dest, port: port, data: data})
}

// trySend attempts one send, classifying the error per spec.md §4.2/§7.
func (s *Set) trySend(ifName string, sk *socket, p pendingSend) error {
	_, err := s.backend.SendTo(sk.fd, p.dest, p.port, p.data)
	if err == nil {
		return nil
	}
	switch {
	case errkind.Is(err, errkind.TransientIO):
		sk.backlog = append(sk.backlog, p)
		s.armWrite(ifName, sk, true)
		return nil
	case errkind.Is(err, errkind.PermissionRateLimited):
		if allow, summary := sk.permRL.Event(); allow {
			s.log.WithField("iface", ifName).WithField("dest", p.dest.String()).Warn("send permission denied")
		} else if summary != "" {
			s.log.WithField("iface", ifName).Warn(summary)
		}
		return nil
	case errkind.Is(err, errkind.FatalIO):
		s.teardown(ifName, sk.cfg.Family, sk)
		return err
	default:
		s.log.WithError(err).WithField("iface", ifName).Warn("send failed")
		return err
	}
}

func (s *Set) armWrite(ifName string, sk *socket, on bool) {
	if sk.writeArmed == on {
		return
	}
	sk.writeArmed = on
	s.disp.SetWrite(sk.fd, on)
}

func (s *Set) socketFor(ifName string, family netaddr.Family) *socket {
	byFamily, ok := s.sockets[ifName]
	if !ok {
		return nil
	}
	return byFamily[family]
}

func (s *Set) handleReady(ifName string, family netaddr.Family, flags sched.ReadyFlags) {
	sk := s.socketFor(ifName, family)
	if sk == nil {
		return
	}
	if flags&sched.Readable != 0 {
		s.drainReadable(ifName, sk)
	}
	if flags&sched.Writable != 0 {
		s.flushBacklog(ifName, sk)
	}
}

// drainReadable reads datagrams until the backend reports no more data,
// dropping any that exceed the configured input-buffer size (the buffer is
// one byte larger, so an oversized datagram reads as more than the limit)
// and any source the ACL rejects. Dropped datagrams are not reported to
// OnReceive or to any other layer.
func (s *Set) drainReadable(ifName string, sk *socket) {
	limit := sk.cfg.inputBufferMax()
	buf := make([]byte, limit+1)
	for {
		n, src, err := s.backend.RecvFrom(sk.fd, buf)
		if err != nil {
			if errkind.Is(err, errkind.TransientIO) {
				return
			}
			if errkind.Is(err, errkind.FatalIO) {
				s.teardown(ifName, sk.cfg.Family, sk)
				return
			}
			s.log.WithError(err).WithField("iface", ifName).Warn("recv failed")
			return
		}
		if n == 0 {
			return
		}
		if n > limit {
			continue
		}
		if !sk.cfg.ReceiveACL.Permits(src) {
			continue
		}
		if s.OnReceive != nil {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			s.OnReceive(ifName, sk.cfg.Family, src, payload)
		}
	}
}

// flushBacklog drains queued sends until the backend reports EAGAIN again
// or the backlog empties, per spec.md §4.2.
func (s *Set) flushBacklog(ifName string, sk *socket) {
	for len(sk.backlog) > 0 {
		p := sk.backlog[0]
		_, err := s.backend.SendTo(sk.fd, p.dest, p.port, p.data)
		if err != nil {
			if errkind.Is(err, errkind.TransientIO) {
				return
			}
			if errkind.Is(err, errkind.PermissionRateLimited) {
				if allow, summary := sk.permRL.Event(); allow {
					s.log.WithField("iface", ifName).Warn("send permission denied")
				} else if summary != "" {
					s.log.WithField("iface", ifName).Warn(summary)
				}
				sk.backlog = sk.backlog[1:]
				continue
			}
			if errkind.Is(err, errkind.FatalIO) {
				s.teardown(ifName, sk.cfg.Family, sk)
				return
			}
			s.log.WithError(err).WithField("iface", ifName).Warn("backlog send failed")
			sk.backlog = sk.backlog[1:]
			continue
		}
		sk.backlog = sk.backlog[1:]
	}
	s.armWrite(ifName, sk, false)
}

const (
	ratelimitWindow    = time.Minute
	ratelimitThreshold = 10
)
