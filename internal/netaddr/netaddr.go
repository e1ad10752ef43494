// Package netaddr implements the tagged-address type shared by every core
// component: originators, link addresses, 2-hop addresses and route keys
// are all NetAddr values.
package netaddr

import (
	"bytes"
	"fmt"
	"net"
)

// Family identifies the address kind carried by a NetAddr.
type Family byte

const (
	FamilyUnspec Family = iota
	FamilyIPv4
	FamilyIPv6
	FamilyMAC48
	FamilyEUI64
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	case FamilyMAC48:
		return "mac48"
	case FamilyEUI64:
		return "eui64"
	default:
		return "unspec"
	}
}

// byteLen returns the number of significant address bytes for a family.
func (f Family) byteLen() int {
	switch f {
	case FamilyIPv4:
		return 4
	case FamilyIPv6:
		return 16
	case FamilyMAC48:
		return 6
	case FamilyEUI64:
		return 8
	default:
		return 0
	}
}

// NetAddr is a fixed-size, comparable tagged address: family, bytes and a
// prefix length. New sets PrefixLen to the full address width (a host
// address); Equal compares PrefixLen while EqualAddress ignores it;
// RouteKey uses PrefixLen for network matches.
type NetAddr struct {
	Family    Family
	Bytes     [16]byte
	Len       uint8
	PrefixLen uint8
}

// New builds a NetAddr from raw bytes, defaulting PrefixLen to the full
// address width.
func New(fam Family, raw []byte) NetAddr {
	var a NetAddr
	a.Family = fam
	a.Len = uint8(fam.byteLen())
	copy(a.Bytes[:a.Len], raw)
	a.PrefixLen = a.Len * 8
	return a
}

// WithPrefix returns a copy of a with the prefix length replaced.
func (a NetAddr) WithPrefix(prefixLen uint8) NetAddr {
	a.PrefixLen = prefixLen
	return a
}

// FromIP converts a net.IP into a NetAddr, choosing v4/v6 by length.
func FromIP(ip net.IP) (NetAddr, bool) {
	if v4 := ip.To4(); v4 != nil {
		return New(FamilyIPv4, v4), true
	}
	if v6 := ip.To16(); v6 != nil {
		return New(FamilyIPv6, v6), true
	}
	return NetAddr{}, false
}

// IP converts a NetAddr back to a net.IP; zero value for non-IP families.
func (a NetAddr) IP() net.IP {
	switch a.Family {
	case FamilyIPv4, FamilyIPv6:
		out := make(net.IP, a.Len)
		copy(out, a.Bytes[:a.Len])
		return out
	default:
		return nil
	}
}

func (a NetAddr) slice() []byte { return a.Bytes[:a.Len] }

// Equal compares family, address bytes and prefix length.
func (a NetAddr) Equal(b NetAddr) bool {
	return a.Family == b.Family && a.PrefixLen == b.PrefixLen && bytes.Equal(a.slice(), b.slice())
}

// EqualAddress compares family and address bytes only, ignoring prefix.
func (a NetAddr) EqualAddress(b NetAddr) bool {
	return a.Family == b.Family && bytes.Equal(a.slice(), b.slice())
}

// Less provides a total, deterministic order: by family, then by address
// bytes, then by prefix length. Used as the Dijkstra tie-break comparator
// (SPEC_FULL.md §4.9) and as an OrderedMap key comparator.
func (a NetAddr) Less(b NetAddr) bool {
	if a.Family != b.Family {
		return a.Family < b.Family
	}
	if c := bytes.Compare(a.slice(), b.slice()); c != 0 {
		return c < 0
	}
	return a.PrefixLen < b.PrefixLen
}

func (a NetAddr) IsUnspec() bool {
	return a.Family == FamilyUnspec || len(a.slice()) == 0
}

// IsLinkLocal reports whether a is an IPv4 169.254.0.0/16 or IPv6
// fe80::/10 link-local address; used by the RFC5444 unicast-virtual-
// interface source filter (spec.md §4.3).
func (a NetAddr) IsLinkLocal() bool {
	switch a.Family {
	case FamilyIPv4:
		return a.Bytes[0] == 169 && a.Bytes[1] == 254
	case FamilyIPv6:
		return a.Bytes[0] == 0xfe && (a.Bytes[1]&0xc0) == 0x80
	default:
		return false
	}
}

func (a NetAddr) String() string {
	switch a.Family {
	case FamilyIPv4, FamilyIPv6:
		ipStr := a.IP().String()
		if int(a.PrefixLen) != int(a.Len)*8 {
			return fmt.Sprintf("%s/%d", ipStr, a.PrefixLen)
		}
		return ipStr
	case FamilyMAC48, FamilyEUI64:
		return net.HardwareAddr(a.slice()).String()
	default:
		return "unspec"
	}
}

// ParseCIDR parses s ("10.0.0.0/24", "fe80::/64" or a bare address) into a
// NetAddr prefix, for config surfaces (ACLs, bind addresses) that carry
// addresses as strings.
func ParseCIDR(s string) (NetAddr, error) {
	if ip, ipnet, err := net.ParseCIDR(s); err == nil {
		ones, _ := ipnet.Mask.Size()
		a, ok := FromIP(ip)
		if !ok {
			return NetAddr{}, fmt.Errorf("netaddr: unparseable address in %q", s)
		}
		return a.WithPrefix(uint8(ones)), nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return NetAddr{}, fmt.Errorf("netaddr: invalid address %q", s)
	}
	a, ok := FromIP(ip)
	if !ok {
		return NetAddr{}, fmt.Errorf("netaddr: unparseable address %q", s)
	}
	return a, nil
}

// RouteKey is (destination prefix, source prefix); a zero-length source
// prefix means the route is not source-specific.
type RouteKey struct {
	Dst NetAddr
	Src NetAddr
}

func (k RouteKey) SourceSpecific() bool { return k.Src.PrefixLen > 0 }

func (k RouteKey) Less(o RouteKey) bool {
	if !k.Dst.Equal(o.Dst) {
		return k.Dst.Less(o.Dst)
	}
	return k.Src.Less(o.Src)
}

func (k RouteKey) String() string {
	if k.SourceSpecific() {
		return fmt.Sprintf("%s from %s", k.Dst, k.Src)
	}
	return k.Dst.String()
}
