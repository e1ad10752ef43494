// Package rfc5444 implements the RFC5444 multi-message/multi-TLV packet
// framing of SPEC_FULL.md §4.3: per-target message aggregation, packet and
// message sequence numbers, processed/forwarded duplicate-sets and
// priority-ordered tlv-block consumers. The byte-level TLV codec itself is
// out of scope (spec.md Non-goals); Writer/Reader are the seam the core
// talks through, grounded on the teacher's HelloMessage/TCMessage
// String()-based wire representation (message.go) generalized into a
// pluggable codec interface.
package rfc5444

import (
	"sort"

	"olsrv2d/internal/container"
	"olsrv2d/internal/netaddr"
	"olsrv2d/internal/sched"
)

// Message is one RFC5444 message, decoded or pending encoding. Body is
// opaque to the fabric; tlv-block consumers (internal/nhdp, internal/olsrv2,
// internal/dat) interpret it according to Protocol.
type Message struct {
	Protocol   string
	Originator netaddr.NetAddr
	Seqno      uint16
	HopLimit   uint8
	HopCount   uint8
	Body       []byte
}

// Writer encodes a batch of messages bound for one target into one packet
// payload; pktSeqno/havePktSeqno controls the optional packet sequence
// number TLV (spec.md §6).
type Writer interface {
	EncodePacket(msgs []Message, pktSeqno uint16, havePktSeqno bool) ([]byte, error)
}

// Reader decodes one received packet payload back into its messages.
type Reader interface {
	DecodePacket(raw []byte) (msgs []Message, pktSeqno uint16, havePktSeqno bool, err error)
}

// Consumer is a registered tlv-block handler with a declared priority;
// lower priorities run first and may stop further propagation for that
// message (spec.md §9 design notes).
type Consumer struct {
	Priority int
	Protocol string // "" matches every protocol
	Handle   func(src netaddr.NetAddr, msg Message) (stopPropagation bool)
}

// Target is one outbound aggregation point — typically one (interface,
// family) pair, or a dedicated unicast virtual interface.
type Target struct {
	Name                  string
	AggregationIntervalMs int64
	Flooding              bool // eligible as a forwarding re-emission target
	Send                  func(packet []byte) error

	// MaxPacketBytes bounds the encoded packet handed to Send; 0 leaves it
	// unbounded. A flush that would exceed it is dropped rather than sent
	// truncated (spec.md §4.3's "one packet per flush" framing implies a
	// single datagram, so a caller that oversubscribes one target's
	// aggregation interval loses that flush instead of fragmenting it).
	MaxPacketBytes int

	queue        []Message
	timer        *sched.Timer
	pktSeqno     uint16
	pktSeqnoRefs int
}

type dupKey struct {
	originator string
	seqno      uint16
}

// Fabric is one RFC5444Fabric instance, spanning every target and
// protocol on the daemon.
type Fabric struct {
	wheel  *sched.Wheel
	clock  sched.Clock
	writer Writer
	reader Reader

	targets map[string]*Target

	consumers []Consumer

	msgSeq map[string]uint16 // protocol -> next sequence number

	processed map[dupKey]int64 // expiry-ms
	forwarded map[dupKey]int64

	// IsFloodingMPRForSender reports whether the local node is selected
	// as flooding-MPR by sender — the forwarding predicate's first
	// conjunct (spec.md §4.3).
	IsFloodingMPRForSender func(sender netaddr.NetAddr) bool
}

func NewFabric(wheel *sched.Wheel, clock sched.Clock, writer Writer, reader Reader) *Fabric {
	return &Fabric{
		wheel:     wheel,
		clock:     clock,
		writer:    writer,
		reader:    reader,
		targets:   make(map[string]*Target),
		msgSeq:    make(map[string]uint16),
		processed: make(map[dupKey]int64),
		forwarded: make(map[dupKey]int64),
	}
}

// AddTarget registers target t, whose AggregationIntervalMs defaults to
// DefaultAggregationIntervalMs if zero.
func (f *Fabric) AddTarget(t *Target) {
	if t.AggregationIntervalMs <= 0 {
		t.AggregationIntervalMs = DefaultAggregationIntervalMs
	}
	t.timer = f.wheel.New(func() { f.flush(t) })
	f.targets[t.Name] = t
}

func (f *Fabric) RemoveTarget(name string) {
	if t, ok := f.targets[name]; ok {
		f.wheel.Stop(t.timer)
		delete(f.targets, name)
	}
}

// EnablePacketSeqno/DisablePacketSeqno refcount the packet-sequence-number
// TLV per target (spec.md §6: "presence per target is controlled by a
// reference count").
func (f *Fabric) EnablePacketSeqno(target string) {
	if t, ok := f.targets[target]; ok {
		t.pktSeqnoRefs++
	}
}

func (f *Fabric) DisablePacketSeqno(target string) {
	if t, ok := f.targets[target]; ok && t.pktSeqnoRefs > 0 {
		t.pktSeqnoRefs--
	}
}

// NextMsgSeqno returns and advances protocol's message sequence counter.
func (f *Fabric) NextMsgSeqno(protocol string) uint16 {
	n := f.msgSeq[protocol]
	f.msgSeq[protocol] = n + 1
	return n
}

// RegisterConsumer inserts c into the priority-ordered consumer list.
func (f *Fabric) RegisterConsumer(c Consumer) {
	f.consumers = append(f.consumers, c)
	sort.SliceStable(f.consumers, func(i, j int) bool { return f.consumers[i].Priority < f.consumers[j].Priority })
}

// Enqueue queues msg for target and arms its aggregation timer if this is
// the first message queued since the last flush (spec.md §4.3: "when any
// extension calls 'message generated' on a target, the fabric arms that
// target's aggregation timer").
func (f *Fabric) Enqueue(target string, msg Message) {
	t, ok := f.targets[target]
	if !ok {
		return
	}
	first := len(t.queue) == 0
	t.queue = append(t.queue, msg)
	if first {
		f.wheel.Set(t.timer, t.AggregationIntervalMs, false)
	}
}

// FlushNow forces an immediate flush of target, bypassing the aggregation
// timer — used for the "shorten the interval for urgency" override
// (spec.md §4.3).
func (f *Fabric) FlushNow(target string) {
	if t, ok := f.targets[target]; ok {
		f.wheel.Stop(t.timer)
		f.flush(t)
	}
}

func (f *Fabric) flush(t *Target) {
	if len(t.queue) == 0 {
		return
	}
	msgs := t.queue
	t.queue = nil

	havePktSeqno := t.pktSeqnoRefs > 0
	seqno := t.pktSeqno
	if havePktSeqno {
		t.pktSeqno++
	}
	packet, err := f.writer.EncodePacket(msgs, seqno, havePktSeqno)
	if err != nil || t.Send == nil {
		return
	}

	buf := container.NewAutoBuffer(t.MaxPacketBytes)
	_, _ = buf.Write(packet)
	if buf.Err() != nil {
		return
	}
	_ = t.Send(buf.Bytes())
}

// HandleInbound decodes raw as received from src and dispatches every
// message to the registered consumers in priority order, then applies the
// forwarding predicate. isUnicastVirtual drops packets whose source is
// link-local, per spec.md §4.3's unicast-virtual-interface filter.
func (f *Fabric) HandleInbound(src netaddr.NetAddr, raw []byte, isUnicastVirtual bool) error {
	if isUnicastVirtual && src.IsLinkLocal() {
		return nil
	}
	msgs, _, _, err := f.reader.DecodePacket(raw)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		f.dispatch(src, m)
	}
	return nil
}

func (f *Fabric) dispatch(src netaddr.NetAddr, m Message) {
	key := dupKey{originator: m.Originator.String(), seqno: m.Seqno}
	now := f.clock.NowMs()

	if exp, seen := f.processed[key]; seen && exp > now {
		return // already processed this (originator, seqno)
	}
	f.processed[key] = now + DefaultDuplicateSetValidityMs

	for _, c := range f.consumers {
		if c.Protocol != "" && c.Protocol != m.Protocol {
			continue
		}
		if c.Handle(src, m) {
			break
		}
	}

	f.maybeForward(src, m)
}

// maybeForward re-emits m to every flooding target if the forwarding
// predicate holds: hop-limit > 1, hop-count < hop-limit, the local node is
// flooding-MPR for src, and the forwarded-duplicate-set still admits
// (originator, seqno) (spec.md §4.3).
func (f *Fabric) maybeForward(src netaddr.NetAddr, m Message) {
	if m.HopLimit <= 1 || m.HopCount >= m.HopLimit {
		return
	}
	if f.IsFloodingMPRForSender == nil || !f.IsFloodingMPRForSender(src) {
		return
	}
	key := dupKey{originator: m.Originator.String(), seqno: m.Seqno}
	now := f.clock.NowMs()
	if exp, seen := f.forwarded[key]; seen && exp > now {
		return
	}
	f.forwarded[key] = now + DefaultDuplicateSetValidityMs

	out := m
	out.HopCount = m.HopCount + 1
	for _, t := range f.targets {
		if !t.Flooding {
			continue
		}
		f.Enqueue(t.Name, out)
	}
}

// PurgeExpired drops duplicate-set entries whose validity has elapsed;
// callers run this periodically (e.g. from a refresh timer) to bound
// memory, matching the teacher's periodic-tick cleanup style in Node.run.
func (f *Fabric) PurgeExpired() {
	now := f.clock.NowMs()
	for k, exp := range f.processed {
		if exp <= now {
			delete(f.processed, k)
		}
	}
	for k, exp := range f.forwarded {
		if exp <= now {
			delete(f.forwarded, k)
		}
	}
}
