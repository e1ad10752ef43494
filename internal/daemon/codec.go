package daemon

import (
	"bytes"
	"encoding/gob"

	"olsrv2d/internal/meshdomain"
	"olsrv2d/internal/netaddr"
	"olsrv2d/internal/nhdp"
	"olsrv2d/internal/olsrv2"
)

// ExtensionCodec turns the NHDP/OLSRv2TC extension values into the opaque
// rfc5444.Message.Body bytes the fabric carries, and back. The RFC5444
// byte-level TLV codec itself is out of scope here (spec.md Non-goals), so
// this is the seam olsrv2d's core talks through instead of importing a
// TLV encoder directly — the daemon wiring layer is the only consumer,
// exactly the way internal/rfc5444's own Writer/Reader seam is exercised
// in its tests by codecEchoCount rather than a real byte codec.
type ExtensionCodec interface {
	EncodeHello(out nhdp.HelloOut) []byte
	DecodeHello(body []byte) (nhdp.HelloIn, error)
	EncodeTC(ansn uint16, neighbors []olsrv2.NeighborAdv, attachments []olsrv2.AttachmentAdv, sourceSpecific map[meshdomain.ID]bool) []byte
	DecodeTC(body []byte) (ansn uint16, neighbors []olsrv2.NeighborAdv, attachments []olsrv2.AttachmentAdv, sourceSpecific map[meshdomain.ID]bool, err error)
}

// gobExtensionCodec is a stand-in ExtensionCodec: since no TLV-encoding
// library appears anywhere in the example pack and the real RFC6130/
// RFC7181 TLV encoding is explicitly excluded, this uses stdlib
// encoding/gob to round-trip the same Go values an eventual real codec
// would decode off the wire. It is not meant to be wire-compatible with
// any other OLSRv2 implementation.
type gobExtensionCodec struct{}

func newGobExtensionCodec() *gobExtensionCodec { return &gobExtensionCodec{} }

// NewDefaultExtensionCodec returns the production ExtensionCodec: there is
// no TLV-encoding library anywhere in the example pack and the real
// RFC6130/RFC7181 TLV encoding is explicitly out of scope (spec.md §1),
// so cmd/olsrv2d wires this stand-in rather than a bespoke byte codec.
func NewDefaultExtensionCodec() ExtensionCodec { return newGobExtensionCodec() }

type helloWire struct {
	Seqno       uint16
	ITimeMs     int64
	VTimeMs     int64
	Willingness map[meshdomain.ID]meshdomain.Willingness
	LinkAddrs   []netaddr.NetAddr
	Symmetric   []netaddr.NetAddr
	Heard       []netaddr.NetAddr
	Lost        []netaddr.NetAddr
}

func (gobExtensionCodec) EncodeHello(out nhdp.HelloOut) []byte {
	w := helloWire{
		Seqno: out.Seqno, ITimeMs: out.ITimeMs, VTimeMs: out.VTimeMs,
		Willingness: out.Willingness, LinkAddrs: out.LinkAddrs,
		Symmetric: out.Symmetric, Heard: out.Heard, Lost: out.Lost,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return nil
	}
	return buf.Bytes()
}

func (gobExtensionCodec) DecodeHello(body []byte) (nhdp.HelloIn, error) {
	var w helloWire
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&w); err != nil {
		return nhdp.HelloIn{}, err
	}
	// Source/SourceMAC/Originator/SameIface are filled in by the caller
	// from the Message envelope and the socket's reported source, not
	// carried in the gob payload.
	return nhdp.HelloIn{
		Seqno: w.Seqno, ITimeMs: w.ITimeMs, VTimeMs: w.VTimeMs,
		Willingness: w.Willingness, LinkAddrs: w.LinkAddrs,
		Symmetric: w.Symmetric, LostAddrs: w.Lost,
	}, nil
}

type tcWire struct {
	Ansn           uint16
	Neighbors      []olsrv2.NeighborAdv
	Attachments    []olsrv2.AttachmentAdv
	SourceSpecific map[meshdomain.ID]bool
}

func (gobExtensionCodec) EncodeTC(ansn uint16, neighbors []olsrv2.NeighborAdv, attachments []olsrv2.AttachmentAdv, sourceSpecific map[meshdomain.ID]bool) []byte {
	w := tcWire{Ansn: ansn, Neighbors: neighbors, Attachments: attachments, SourceSpecific: sourceSpecific}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return nil
	}
	return buf.Bytes()
}

func (gobExtensionCodec) DecodeTC(body []byte) (uint16, []olsrv2.NeighborAdv, []olsrv2.AttachmentAdv, map[meshdomain.ID]bool, error) {
	var w tcWire
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&w); err != nil {
		return 0, nil, nil, nil, err
	}
	return w.Ansn, w.Neighbors, w.Attachments, w.SourceSpecific, nil
}
