package rfc5444

import (
	"testing"

	"olsrv2d/internal/netaddr"
	"olsrv2d/internal/sched"
)

type testClock struct{ ms int64 }

func (c *testClock) NowMs() int64 { return c.ms }

// codecEchoCount is a Writer+Reader test double that just records how many
// messages it was asked to encode/decode, since the real byte codec is out
// of scope here (spec.md Non-goals).
type codecEchoCount struct {
	encodedBatches [][]Message
	decodeQueue    [][]Message
}

func (c *codecEchoCount) EncodePacket(msgs []Message, pktSeqno uint16, have bool) ([]byte, error) {
	c.encodedBatches = append(c.encodedBatches, msgs)
	return []byte{byte(len(msgs))}, nil
}

func (c *codecEchoCount) DecodePacket(raw []byte) ([]Message, uint16, bool, error) {
	if len(c.decodeQueue) == 0 {
		return nil, 0, false, nil
	}
	next := c.decodeQueue[0]
	c.decodeQueue = c.decodeQueue[1:]
	return next, 0, false, nil
}

func ip(b byte) netaddr.NetAddr { return netaddr.New(netaddr.FamilyIPv4, []byte{10, 0, 0, b}) }

func TestAggregationBatchesMessagesInOneFlush(t *testing.T) {
	clk := &testClock{}
	wheel := sched.NewWheel(clk)
	codec := &codecEchoCount{}
	f := NewFabric(wheel, clk, codec, codec)

	var sent [][]byte
	f.AddTarget(&Target{Name: "eth0", AggregationIntervalMs: 100, Flooding: true, Send: func(p []byte) error {
		sent = append(sent, p)
		return nil
	}})

	f.Enqueue("eth0", Message{Protocol: ProtocolNHDP, Originator: ip(1), Seqno: 1})
	f.Enqueue("eth0", Message{Protocol: ProtocolNHDP, Originator: ip(1), Seqno: 2})

	clk.ms += 100
	wheel.DrainDue()

	if len(sent) != 1 {
		t.Fatalf("expected exactly one flushed packet, got %d", len(sent))
	}
	if len(codec.encodedBatches) != 1 || len(codec.encodedBatches[0]) != 2 {
		t.Fatalf("expected one batch of 2 messages, got %+v", codec.encodedBatches)
	}
}

// codecFixedSize always encodes to a payload of exactly n bytes,
// regardless of content, so tests can exercise Target.MaxPacketBytes
// deterministically.
type codecFixedSize struct{ n int }

func (c codecFixedSize) EncodePacket(msgs []Message, pktSeqno uint16, have bool) ([]byte, error) {
	return make([]byte, c.n), nil
}

func (c codecFixedSize) DecodePacket(raw []byte) ([]Message, uint16, bool, error) {
	return nil, 0, false, nil
}

// TestFlushDropsPacketExceedingMaxPacketBytes exercises the
// AutoBuffer-backed MaxPacketBytes guard: a flush whose encoded packet
// exceeds the target's configured cap is dropped rather than sent
// truncated, and a subsequent flush within the cap still goes through.
func TestFlushDropsPacketExceedingMaxPacketBytes(t *testing.T) {
	clk := &testClock{}
	wheel := sched.NewWheel(clk)
	big := codecFixedSize{n: 10}
	f := NewFabric(wheel, clk, big, big)

	var sent [][]byte
	f.AddTarget(&Target{
		Name: "eth0", AggregationIntervalMs: 100, Flooding: true,
		MaxPacketBytes: 5,
		Send: func(p []byte) error {
			sent = append(sent, p)
			return nil
		},
	})

	f.Enqueue("eth0", Message{Protocol: ProtocolNHDP, Originator: ip(1), Seqno: 1})
	clk.ms += 100
	wheel.DrainDue()

	if len(sent) != 0 {
		t.Fatalf("expected the oversized flush to be dropped, got %d sent packets", len(sent))
	}

	small := codecFixedSize{n: 5}
	f.writer = small
	f.Enqueue("eth0", Message{Protocol: ProtocolNHDP, Originator: ip(1), Seqno: 2})
	clk.ms += 100
	wheel.DrainDue()

	if len(sent) != 1 {
		t.Fatalf("expected the in-budget flush to go through, got %d sent packets", len(sent))
	}
}

func TestDuplicateMessageNotDispatchedTwice(t *testing.T) {
	clk := &testClock{}
	wheel := sched.NewWheel(clk)
	codec := &codecEchoCount{}
	f := NewFabric(wheel, clk, codec, codec)

	calls := 0
	f.RegisterConsumer(Consumer{Priority: 0, Handle: func(src netaddr.NetAddr, m Message) bool {
		calls++
		return false
	}})

	msg := Message{Protocol: ProtocolNHDP, Originator: ip(2), Seqno: 5}
	codec.decodeQueue = [][]Message{{msg}, {msg}}

	f.HandleInbound(ip(9), nil, false)
	f.HandleInbound(ip(9), nil, false)

	if calls != 1 {
		t.Fatalf("expected exactly 1 dispatch for a duplicate (originator,seqno), got %d", calls)
	}
}

func TestForwardingRequiresFloodingMPRAndHopBudget(t *testing.T) {
	clk := &testClock{}
	wheel := sched.NewWheel(clk)
	codec := &codecEchoCount{}
	f := NewFabric(wheel, clk, codec, codec)
	f.IsFloodingMPRForSender = func(netaddr.NetAddr) bool { return true }

	var sent [][]byte
	f.AddTarget(&Target{Name: "eth0", AggregationIntervalMs: 100, Flooding: true, Send: func(p []byte) error {
		sent = append(sent, p)
		return nil
	}})

	msg := Message{Protocol: ProtocolOLSRv2, Originator: ip(3), Seqno: 1, HopLimit: 3, HopCount: 0}
	codec.decodeQueue = [][]Message{{msg}}
	f.HandleInbound(ip(4), nil, false)

	clk.ms += 100
	wheel.DrainDue()

	if len(sent) != 1 {
		t.Fatalf("expected the message to be forwarded onto the flooding target, got %d sends", len(sent))
	}

	f.IsFloodingMPRForSender = func(netaddr.NetAddr) bool { return false }
	codec.decodeQueue = [][]Message{{{Protocol: ProtocolOLSRv2, Originator: ip(3), Seqno: 2, HopLimit: 3, HopCount: 0}}}
	f.HandleInbound(ip(4), nil, false)

	clk.ms += 100
	wheel.DrainDue()

	if len(sent) != 1 {
		t.Fatalf("expected no forward when this node is not a flooding MPR for the sender, got %d sends", len(sent))
	}
}

func TestForwardingRespectsHopLimit(t *testing.T) {
	clk := &testClock{}
	wheel := sched.NewWheel(clk)
	codec := &codecEchoCount{}
	f := NewFabric(wheel, clk, codec, codec)
	f.IsFloodingMPRForSender = func(netaddr.NetAddr) bool { return true }

	var sent [][]byte
	f.AddTarget(&Target{Name: "eth0", AggregationIntervalMs: 100, Flooding: true, Send: func(p []byte) error {
		sent = append(sent, p)
		return nil
	}})

	msg := Message{Protocol: ProtocolOLSRv2, Originator: ip(5), Seqno: 1, HopLimit: 2, HopCount: 2}
	codec.decodeQueue = [][]Message{{msg}}
	f.HandleInbound(ip(6), nil, false)

	clk.ms += 100
	wheel.DrainDue()

	if len(sent) != 0 {
		t.Fatalf("expected no forward once hop-count reaches hop-limit, got %d sends", len(sent))
	}
}

func TestLinkLocalSourceFilteredOnUnicastVirtualInterface(t *testing.T) {
	clk := &testClock{}
	wheel := sched.NewWheel(clk)
	codec := &codecEchoCount{}
	f := NewFabric(wheel, clk, codec, codec)

	calls := 0
	f.RegisterConsumer(Consumer{Handle: func(netaddr.NetAddr, Message) bool { calls++; return false }})
	codec.decodeQueue = [][]Message{{{Protocol: ProtocolNHDP, Originator: ip(7), Seqno: 1}}}

	linkLocal := netaddr.New(netaddr.FamilyIPv4, []byte{169, 254, 1, 1})
	f.HandleInbound(linkLocal, nil, true)

	if calls != 0 {
		t.Fatalf("expected link-local source to be dropped on the unicast virtual interface")
	}
}
