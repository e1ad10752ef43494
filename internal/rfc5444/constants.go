package rfc5444

// Protocol names tag Message.Protocol and key the per-protocol message
// sequence counters and duplicate-sets (spec.md §4.3).
const (
	ProtocolNHDP   = "nhdp"
	ProtocolOLSRv2 = "olsrv2"
)

// TLV extension numbers, allocated per RFC7181/RFC6130 and echoed here so
// internal/nhdp, internal/olsrv2 and internal/dat can tag their TLVs
// without importing each other (SPEC_FULL.md §6).
const (
	ExtNHDP        = 0
	ExtOLSRv2TC    = 1
	ExtDATMetric   = 2 // per-domain: ExtDATMetric + domain id
)

// DefaultAggregationIntervalMs is the fallback per-target aggregation
// window (spec.md §4.3).
const DefaultAggregationIntervalMs = 100

// DefaultDuplicateSetValidityMs bounds how long a (originator, seqno) is
// remembered in the processed/forwarded duplicate-sets; chosen to exceed
// any plausible NHDP/OLSRv2 retransmission window.
const DefaultDuplicateSetValidityMs = 30_000
