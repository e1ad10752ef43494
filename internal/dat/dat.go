// Package dat implements the Directional Airtime link-metric sampler of
// SPEC_FULL.md §4.6, grounded on
// original_source/src/nhdp/ff_dat_metric/ff_dat_metric.c: a ring of N
// (default 32) packet-rx buckets, a lost-HELLO timer, median-bitrate and
// a three-signal loss combiner feeding an RFC7181-encoded metric.
package dat

import (
	"sort"

	"olsrv2d/internal/layer2"
	"olsrv2d/internal/meshdomain"
	"olsrv2d/internal/rfc7181metric"
)

const (
	// RingSize is N, the number of sampling-interval buckets retained.
	RingSize = 32

	// BaseSpeed is the reference bitrate (kbit/s) bitrate_cost is scaled
	// against; original_source uses the 802.11 basic rate, here exposed
	// as a constant matching a conservative default.
	BaseSpeed = 1024

	// Range bounds bitrate_cost's quantisation as a 1..Range integer.
	Range = 1024

	// successScaleMax is the full-success value of every success signal
	// (per-mille scale).
	successScaleMax = 1000
)

// LossExponent selects how aggressively loss_cost penalizes imperfect
// delivery (spec.md §6 DATMetric config surface).
type LossExponent int

const (
	ExpLinear LossExponent = iota
	ExpQuadratic
	ExpCubic
	ExpDynamic
)

// Origin is the Layer2 origin DAT uses to write probed-success and RLQ
// observations back, kept deliberately low-priority so any higher-
// priority external origin (hardware RLQ, a declarative layer2 config
// entry) wins ties, per SPEC_FULL.md §9 Open Question 3.
var Origin = &layer2.Origin{Name: "dat", Priority: 10, Proactive: false}

// Layer2 slot indices DAT reads from and writes to.
const (
	SlotRxBitrate      layer2.SlotIndex = 1001
	SlotBroadcastLoss  layer2.SlotIndex = 1002
	SlotRLQ            layer2.SlotIndex = 1003
	SlotThroughput     layer2.SlotIndex = 1004
	SlotProbedSuccess  layer2.SlotIndex = 1005
)

type bucket struct {
	received     int
	total        int
	rawRxBitrate int64 // kbit/s; 0 = unknown, closed at interval-end
	hasBitrate   bool
}

// Sample is one link's DAT state, grounded 1:1 on
// ff_dat_metric.c's per-link `dat_link_data` struct.
type Sample struct {
	ring        [RingSize]bucket
	activeIdx   int
	lastSeqno   uint16
	haveLastSeq bool

	missedHellos int

	lossExponentCfg LossExponent
	neighborhoodSz  int // link-local neighborhood size, feeds dynamic exponent and MIC
	micEnabled      bool

	lastLossCost meshdomain.Metric // for hysteresis

	reportedMetricIn meshdomain.Metric
}

func NewSample(exp LossExponent, micEnabled bool) *Sample {
	return &Sample{lossExponentCfg: exp, micEnabled: micEnabled}
}

// OnPacketReceived updates the ring on receipt of a packet carrying
// seqno; delta = (seqno - lastSeqno) mod 2^16 is added to the active
// bucket's total, and 1 to its received count (spec.md §4.6).
func (s *Sample) OnPacketReceived(seqno uint16) {
	b := &s.ring[s.activeIdx]
	if s.haveLastSeq {
		delta := int(uint16(seqno - s.lastSeqno))
		if delta == 0 {
			delta = 1
		}
		b.total += delta
	} else {
		b.total++
	}
	b.received++
	s.lastSeqno = seqno
	s.haveLastSeq = true
}

// OnHelloLostTimeout is invoked when the hello-lost timer fires; it
// increments missedHellos. Callers re-arm the timer for hello-interval.
func (s *Sample) OnHelloLostTimeout() {
	s.missedHellos++
}

// CloseInterval closes the active bucket (recording rawRxBitrate as
// observed from Layer2 at close) and advances to the next bucket,
// matching the "one interface refresh cycle" sampling cadence.
func (s *Sample) CloseInterval(rawRxBitrate int64, haveBitrate bool) {
	s.ring[s.activeIdx].rawRxBitrate = rawRxBitrate
	s.ring[s.activeIdx].hasBitrate = haveBitrate
	s.activeIdx = (s.activeIdx + 1) % RingSize
	s.ring[s.activeIdx] = bucket{}
}

// medianNonzeroBitrate returns the median of every bucket with a known,
// non-zero bitrate sample, or ok=false if none exist (spec.md §8
// boundary: all-zero ring -> median "unknown").
func (s *Sample) medianNonzeroBitrate() (int64, bool) {
	var vals []int64
	for _, b := range s.ring {
		if b.hasBitrate && b.rawRxBitrate > 0 {
			vals = append(vals, b.rawRxBitrate)
		}
	}
	if len(vals) == 0 {
		return 0, false
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	return vals[len(vals)/2], true
}

func ceilDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// bitrateCost computes round_up(BaseSpeed/median) scaled into [1,Range]
// then inverted to (1000*Range)/rx_rate, or ok=false if unknown.
func (s *Sample) bitrateCost() (int64, bool) {
	median, ok := s.medianNonzeroBitrate()
	if !ok {
		return 0, false
	}
	scaled := ceilDiv(BaseSpeed, median)
	if scaled < 1 {
		scaled = 1
	}
	if scaled > Range {
		scaled = Range
	}
	return int64(1000*Range) / scaled, true
}

// probedSuccess computes (a): 1000*received/total over every bucket in
// the ring, valid only if received*Range > total (enough samples to
// trust the ratio). While missedHellos > 0, the effective received count
// is scaled by (RingSize-missedHellos)/RingSize (spec.md §4.6).
func (s *Sample) ProbedSuccess() (int64, bool) {
	return s.probedSuccess()
}

func (s *Sample) probedSuccess() (int64, bool) {
	var received, total int
	for _, b := range s.ring {
		received += b.received
		total += b.total
	}
	if s.missedHellos > 0 {
		missed := s.missedHellos
		if missed > RingSize {
			missed = RingSize
		}
		received = received * (RingSize - missed) / RingSize
	}
	if total == 0 || received*Range <= total {
		return 0, false
	}
	return int64(1000*received) / int64(total), true
}

// LossSignals carries the externally-observed (a)(b)(c) success signals
// layer2 overlay data may supply in addition to (or instead of) the
// probed signal.
type LossSignals struct {
	Layer2BroadcastLossPerMille int64 // (b): 1000 - this value
	HasBroadcastLoss            bool
	RLQPerMille                  int64 // (c)
	HasRLQ                       bool
}

// lossExponentFor resolves the configured/dynamic exponent.
func (s *Sample) lossExponentFor() int {
	switch s.lossExponentCfg {
	case ExpLinear:
		return 1
	case ExpQuadratic:
		return 2
	case ExpCubic:
		return 3
	case ExpDynamic:
		switch {
		case s.neighborhoodSz <= 1:
			return 1
		case s.neighborhoodSz <= 4:
			return 2
		default:
			return 3
		}
	default:
		return 1
	}
}

// lossCost computes the combined, exponentiated, inverted, hysteresis-
// applied loss cost (spec.md §4.6). The three signals are averaged
// equally per SPEC_FULL.md §4.6/§9 Open Question 2.
func (s *Sample) lossCost(ext LossSignals) meshdomain.Metric {
	var sum, n int64
	if p, ok := s.probedSuccess(); ok {
		sum += p
		n++
	}
	if ext.HasBroadcastLoss {
		sum += successScaleMax - ext.Layer2BroadcastLossPerMille
		n++
	}
	if ext.HasRLQ {
		sum += ext.RLQPerMille
		n++
	}
	if n == 0 {
		return meshdomain.MetricUnknown
	}
	mean := sum / n

	exp := s.lossExponentFor()
	successScaled := mean
	for i := 1; i < exp; i++ {
		successScaled = successScaled * mean / successScaleMax
	}
	if successScaled <= 0 {
		successScaled = 1
	}

	raw := int64(1_000_000) / successScaled
	result := meshdomain.Metric(raw)

	// Hysteresis: keep the previous value if within +-100 of it.
	if s.lastLossCost.Known() {
		diff := int64(result) - int64(s.lastLossCost)
		if diff > -100 && diff < 100 {
			return s.lastLossCost
		}
	}
	s.lastLossCost = result
	return result
}

// Compute runs the full DATMetric pipeline and returns the final,
// RFC7181-round-tripped metric-in for the link plus whether it changed
// from the previously reported value (used to trigger domain-dirty).
func (s *Sample) Compute(ext LossSignals, l2Throughput meshdomain.Metric, haveL2Throughput bool) (meshdomain.Metric, bool) {
	loss := s.lossCost(ext)

	var throughput meshdomain.Metric
	if haveL2Throughput {
		throughput = l2Throughput
	} else if bc, ok := s.bitrateCost(); ok && loss.Known() {
		throughput = meshdomain.Metric(bc * int64(loss) / 1000)
	} else {
		throughput = loss // fall back to loss-only when bitrate unknown
	}

	mic := meshdomain.Metric(1000)
	if s.micEnabled && s.neighborhoodSz > 1 {
		mic = meshdomain.Metric(s.neighborhoodSz * 1000)
	}

	var finalRaw meshdomain.Metric
	if throughput.Known() {
		finalRaw = meshdomain.Metric(int64(throughput) * int64(mic) / 1_000_000)
	} else {
		finalRaw = meshdomain.MetricUnknown
	}

	clamped := rfc7181metric.Clamp(int(finalRaw))
	encoded := rfc7181metric.Encode(clamped)
	reported := meshdomain.Metric(rfc7181metric.Decode(encoded))

	changed := reported != s.reportedMetricIn
	s.reportedMetricIn = reported
	return reported, changed
}

// SetNeighborhoodSize updates the link-local neighborhood size used by
// the dynamic exponent and MIC penalty.
func (s *Sample) SetNeighborhoodSize(n int) { s.neighborhoodSz = n }

func (s *Sample) MissedHellos() int { return s.missedHellos }

func (s *Sample) ResetMissedHellos() { s.missedHellos = 0 }
