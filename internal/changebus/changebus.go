// Package changebus implements the ChangeBus of SPEC_FULL.md §4.11:
// per-entity-class observer lists with synchronous, registration-ordered
// delivery, plus the three higher-level derived signals (metric_update,
// mpr_update, domain_changed) with ANSN-bump coalescing. Grounded on the
// teacher's direct function-call notification style in node.go (handlers
// invoke updateOneHopNeighbors/calculateMPRs inline) generalized into a
// registered-observer-list bus so unrelated subsystems don't need to call
// each other directly.
package changebus

import "olsrv2d/internal/meshdomain"

// Class identifies the kind of entity an event concerns.
type Class int

const (
	ClassLayer2Net Class = iota
	ClassLayer2Neigh
	ClassNHDPLink
	ClassNHDPInterface
	ClassOLSRv2Originator
	ClassDomain
)

// Kind is the event's verb.
type Kind int

const (
	Added Kind = iota
	Changed
	Removed
)

// Event is delivered synchronously to every observer of its Class.
type Event struct {
	Class   Class
	Kind    Kind
	Subject any // the entity (or its key), class-specific
}

// Bus holds one observer list per Class plus the coalesced
// domain-dirty/ANSN-bump bookkeeping for the derived signals.
type Bus struct {
	observers map[Class][]func(Event)

	dirtyDomains map[meshdomain.ID]bool
	ansnBump     map[meshdomain.ID]bool

	// OnMetricUpdate, OnMPRUpdate and OnDomainChanged are invoked by the
	// corresponding derived-signal methods after bookkeeping; the wiring
	// layer (internal/daemon) subscribes here rather than to a raw Class
	// to get the deduplicated/coalesced view.
	OnMetricUpdate  func(domain meshdomain.ID)
	OnMPRUpdate     func(domain meshdomain.ID)
	OnDomainChanged func(domain meshdomain.ID, bumpAnsn bool)
}

func New() *Bus {
	return &Bus{
		observers:    make(map[Class][]func(Event)),
		dirtyDomains: make(map[meshdomain.ID]bool),
		ansnBump:     make(map[meshdomain.ID]bool),
	}
}

// Subscribe registers fn for every event of class, run in registration
// order (spec.md §4.11: "Subscribers run synchronously in registration
// order").
func (b *Bus) Subscribe(class Class, fn func(Event)) {
	b.observers[class] = append(b.observers[class], fn)
}

// Publish delivers e to every subscriber of e.Class before returning
// (spec.md §5: "All observer callbacks for one event fire before the next
// event is published to any observer").
func (b *Bus) Publish(e Event) {
	for _, fn := range b.observers[e.Class] {
		fn(e)
	}
}

// MetricUpdate is the metric_update(domain) derived signal: per-Neighbor
// best-link/out-metric aggregation has already happened in the caller (it
// lives in internal/nhdp, which owns the Neighbor data); this just
// notifies and marks the domain dirty for the next Dijkstra run.
func (b *Bus) MetricUpdate(domain meshdomain.ID) {
	b.dirtyDomains[domain] = true
	if b.OnMetricUpdate != nil {
		b.OnMetricUpdate(domain)
	}
}

// MPRUpdate is the mpr_update(domain) derived signal.
func (b *Bus) MPRUpdate(domain meshdomain.ID) {
	if b.OnMPRUpdate != nil {
		b.OnMPRUpdate(domain)
	}
}

// DomainChanged is domain_changed(domain, bump_ansn); idempotent, and
// bumpAnsn coalesces into a single ANSN increment per pending Dijkstra run
// (spec.md §4.11). The actual increment happens in
// internal/olsrv2.LocalAnsn.Bump, invoked by the caller once per drained
// coalescing window via PendingAnsnBumps.
func (b *Bus) DomainChanged(domain meshdomain.ID, bumpAnsn bool) {
	wasDirty := b.dirtyDomains[domain]
	b.dirtyDomains[domain] = true
	if bumpAnsn {
		b.ansnBump[domain] = true
	}
	if wasDirty && !bumpAnsn {
		return // idempotent: already marked dirty, nothing new to bump
	}
	if b.OnDomainChanged != nil {
		b.OnDomainChanged(domain, bumpAnsn)
	}
}

// DirtyDomains returns every domain marked dirty since the last Drain.
func (b *Bus) DirtyDomains() []meshdomain.ID {
	out := make([]meshdomain.ID, 0, len(b.dirtyDomains))
	for d := range b.dirtyDomains {
		out = append(out, d)
	}
	return out
}

// PendingAnsnBumps returns every domain with a coalesced pending ANSN bump
// since the last Drain.
func (b *Bus) PendingAnsnBumps() []meshdomain.ID {
	out := make([]meshdomain.ID, 0, len(b.ansnBump))
	for d := range b.ansnBump {
		out = append(out, d)
	}
	return out
}

// Drain clears the dirty/bump bookkeeping; callers invoke this after a
// Dijkstra run (and any resulting ANSN bump) have consumed it.
func (b *Bus) Drain() {
	b.dirtyDomains = make(map[meshdomain.ID]bool)
	b.ansnBump = make(map[meshdomain.ID]bool)
}
