package rfc5444

import (
	"bytes"
	"encoding/gob"
)

// GobCodec is the production Writer+Reader: since the RFC5444 byte-level
// TLV codec is explicitly out of scope and no TLV-encoding library appears
// anywhere in the example pack, this round-trips packets with stdlib
// encoding/gob instead of a wire format compatible with any other OLSRv2
// implementation. It carries the packet sequence number as an ordinary gob
// field rather than a TLV.
type GobCodec struct{}

type gobPacket struct {
	Messages []Message
	Seqno    uint16
	HaveSeq  bool
}

func (GobCodec) EncodePacket(msgs []Message, pktSeqno uint16, havePktSeqno bool) ([]byte, error) {
	var buf bytes.Buffer
	p := gobPacket{Messages: msgs, Seqno: pktSeqno, HaveSeq: havePktSeqno}
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (GobCodec) DecodePacket(raw []byte) ([]Message, uint16, bool, error) {
	var p gobPacket
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&p); err != nil {
		return nil, 0, false, err
	}
	return p.Messages, p.Seqno, p.HaveSeq, nil
}
