// Package layer2 implements the Layer2 database of SPEC_FULL.md §4.4: a
// process-wide store of interfaces/neighbors/destinations/IPs with typed
// data slots overlaid by multi-origin priority, grounded on
// original_source/src/base/oonf_layer2.c's net/neigh/data-slot model.
package layer2

import (
	"sync"

	"olsrv2d/internal/netaddr"
)

// Origin is a priority-tagged writer identity. Writes to a slot are
// accepted iff the slot is empty, the writer already owns it, or the
// writer's priority is >= the incumbent's (spec.md §4.4, §9 Open
// Question 3: on equal priority the new writer replaces the incumbent).
type Origin struct {
	Name       string
	Priority   int
	Proactive  bool
}

// SlotType tags the semantic type carried by a Layer2Data slot.
type SlotType int

const (
	SlotInt SlotType = iota
	SlotBool
	SlotAddr
)

// SlotIndex identifies one well-known data slot. Concrete indices are
// assigned by consumers (DAT uses Slot indices for rx-bitrate, broadcast
// loss and RLQ; see internal/dat).
type SlotIndex int

// Data is one tagged-union value plus its writing origin.
type Data struct {
	Type   SlotType
	Int    int64 // fixed-point; Scale/Unit describe the encoding
	Scale  int64
	Unit   string
	Bool   bool
	Addr   netaddr.NetAddr
	Origin *Origin
	set    bool
}

func (d Data) IsSet() bool { return d.set }

// slots is a small fixed map keyed by SlotIndex; most objects carry only
// a handful of populated slots so a map beats a dense array here, unlike
// the teacher's raw struct fields.
type slots map[SlotIndex]Data

// DataSet attempts to write val into m[idx] under origin, honoring the
// priority-gate rule. Returns true if the value changed.
func (m slots) dataSet(idx SlotIndex, origin *Origin, val Data) bool {
	cur, exists := m[idx]
	if exists && cur.set {
		if cur.Origin != nil && origin != nil && origin.Priority < cur.Origin.Priority {
			return false
		}
	}
	val.Origin = origin
	val.set = true
	if exists && cur == val {
		return false
	}
	m[idx] = val
	return true
}

func (m slots) dataReset(idx SlotIndex) {
	delete(m, idx)
}

func (m slots) empty() bool { return len(m) == 0 }

// Neigh is one layer-2 neighbor, keyed by (MAC, LID) within its Net.
type Neigh struct {
	MAC          netaddr.NetAddr
	LID          []byte
	slots        slots
	Destinations map[string]netaddr.NetAddr // proxied MACs, keyed by String()
	RemoteIPs    map[string]netaddr.NetAddr
	NextHopV4    netaddr.NetAddr
	NextHopV6    netaddr.NetAddr
}

func newNeigh(mac netaddr.NetAddr, lid []byte) *Neigh {
	return &Neigh{
		MAC:          mac,
		LID:          append([]byte(nil), lid...),
		slots:        make(slots),
		Destinations: make(map[string]netaddr.NetAddr),
		RemoteIPs:    make(map[string]netaddr.NetAddr),
	}
}

func neighKey(mac netaddr.NetAddr, lid []byte) string {
	return mac.String() + "#" + string(lid)
}

// Net is one Layer2Net, keyed by interface name.
type Net struct {
	IfName    string
	slots     slots
	LocalIPs  map[string]netaddr.NetAddr
	RemoteIPs map[string]netaddr.NetAddr
	neighs    map[string]*Neigh
}

func newNet(ifName string) *Net {
	return &Net{
		IfName:    ifName,
		slots:     make(slots),
		LocalIPs:  make(map[string]netaddr.NetAddr),
		RemoteIPs: make(map[string]netaddr.NetAddr),
		neighs:    make(map[string]*Neigh),
	}
}

// EventKind distinguishes DB publish events.
type EventKind int

const (
	ObjectChanged EventKind = iota
	ObjectRemoved
)

// Event is published to subscribers on every commit.
type Event struct {
	Kind EventKind
	Net  string
	MAC  netaddr.NetAddr // zero if the event concerns the Net itself
}

// DB is the process-wide Layer2 database.
type DB struct {
	mu      sync.Mutex
	origins map[string]*Origin
	nets    map[string]*Net
	subs    []func(Event)
}

func NewDB() *DB {
	return &DB{
		origins: make(map[string]*Origin),
		nets:    make(map[string]*Net),
	}
}

func (db *DB) OriginAdd(o *Origin) { db.mu.Lock(); defer db.mu.Unlock(); db.origins[o.Name] = o }
func (db *DB) OriginRemove(name string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.origins, name)
}

func (db *DB) NetAdd(ifName string) *Net {
	db.mu.Lock()
	defer db.mu.Unlock()
	if n, ok := db.nets[ifName]; ok {
		return n
	}
	n := newNet(ifName)
	db.nets[ifName] = n
	return n
}

func (db *DB) NetGet(ifName string) (*Net, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	n, ok := db.nets[ifName]
	return n, ok
}

func (db *DB) NetRemove(ifName string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.nets, ifName)
	db.publishLocked(Event{Kind: ObjectRemoved, Net: ifName})
}

func (db *DB) NeighAdd(n *Net, mac netaddr.NetAddr, lid []byte) *Neigh {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := neighKey(mac, lid)
	if nb, ok := n.neighs[key]; ok {
		return nb
	}
	nb := newNeigh(mac, lid)
	n.neighs[key] = nb
	return nb
}

func (db *DB) NeighGet(n *Net, mac netaddr.NetAddr, lid []byte) (*Neigh, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	nb, ok := n.neighs[neighKey(mac, lid)]
	return nb, ok
}

func (db *DB) NeighRemove(n *Net, mac netaddr.NetAddr, lid []byte) {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := neighKey(mac, lid)
	delete(n.neighs, key)
	db.publishLocked(Event{Kind: ObjectRemoved, Net: n.IfName, MAC: mac})
}

// DataSetNeigh writes val to slot idx on neigh under origin. Returns
// whether the value actually changed.
func (db *DB) DataSetNeigh(n *Net, nb *Neigh, idx SlotIndex, origin *Origin, val Data) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return nb.slots.dataSet(idx, origin, val)
}

// DataSetNet writes val to slot idx on net's interface-wide default.
func (db *DB) DataSetNet(n *Net, idx SlotIndex, origin *Origin, val Data) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return n.slots.dataSet(idx, origin, val)
}

func (db *DB) DataReset(n *Net, nb *Neigh, idx SlotIndex) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if nb != nil {
		nb.slots.dataReset(idx)
	} else {
		n.slots.dataReset(idx)
	}
}

// Relabel renames the origin tag on every slot of obj currently owned by
// from to to, without changing the stored values (spec.md §4.4 relabel).
func (db *DB) RelabelNeigh(nb *Neigh, from, to *Origin) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for idx, d := range nb.slots {
		if d.Origin == from {
			d.Origin = to
			nb.slots[idx] = d
		}
	}
}

// Commit publishes OBJECT_REMOVED if net/neigh has gone fully empty
// (no slots, no sub-objects) or OBJECT_CHANGED otherwise.
func (db *DB) CommitNet(n *Net) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if n.slots.empty() && len(n.neighs) == 0 {
		delete(db.nets, n.IfName)
		db.publishLocked(Event{Kind: ObjectRemoved, Net: n.IfName})
		return
	}
	db.publishLocked(Event{Kind: ObjectChanged, Net: n.IfName})
}

func (db *DB) CommitNeigh(n *Net, nb *Neigh) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if nb.slots.empty() && len(nb.Destinations) == 0 && len(nb.RemoteIPs) == 0 {
		delete(n.neighs, neighKey(nb.MAC, nb.LID))
		db.publishLocked(Event{Kind: ObjectRemoved, Net: n.IfName, MAC: nb.MAC})
		return
	}
	db.publishLocked(Event{Kind: ObjectChanged, Net: n.IfName, MAC: nb.MAC})
}

// Query returns neigh's slot idx if present; if absent and getDefault is
// set, falls back to the interface-wide default slot; otherwise reports
// absent.
func (db *DB) Query(ifName string, mac netaddr.NetAddr, lid []byte, idx SlotIndex, getDefault bool) (Data, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	n, ok := db.nets[ifName]
	if !ok {
		return Data{}, false
	}
	if nb, ok := n.neighs[neighKey(mac, lid)]; ok {
		if d, ok := nb.slots[idx]; ok && d.set {
			return d, true
		}
	}
	if getDefault {
		if d, ok := n.slots[idx]; ok && d.set {
			return d, true
		}
	}
	return Data{}, false
}

// BestNeighborForIP searches every net for the longest-prefix-matching
// remote IP, returning the owning Net and Neigh.
func (db *DB) BestNeighborForIP(ip netaddr.NetAddr) (*Net, *Neigh, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var bestNet *Net
	var bestNeigh *Neigh
	bestLen := -1
	for _, n := range db.nets {
		for _, nb := range n.neighs {
			for _, remote := range nb.RemoteIPs {
				if !remote.EqualAddress(ip) && !isPrefixMatch(remote, ip) {
					continue
				}
				l := int(remote.PrefixLen)
				if l > bestLen {
					bestLen, bestNet, bestNeigh = l, n, nb
				}
			}
		}
	}
	return bestNet, bestNeigh, bestNet != nil
}

func isPrefixMatch(prefix, addr netaddr.NetAddr) bool {
	if prefix.Family != addr.Family {
		return false
	}
	bits := int(prefix.PrefixLen)
	full := bits / 8
	rem := bits % 8
	pb, ab := prefix.Bytes[:prefix.Len], addr.Bytes[:addr.Len]
	for i := 0; i < full; i++ {
		if pb[i] != ab[i] {
			return false
		}
	}
	if rem > 0 && full < len(pb) {
		mask := byte(0xFF << uint(8-rem))
		if pb[full]&mask != ab[full]&mask {
			return false
		}
	}
	return true
}

func (db *DB) Subscribe(fn func(Event)) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.subs = append(db.subs, fn)
}

func (db *DB) publishLocked(ev Event) {
	for _, fn := range db.subs {
		fn(ev)
	}
}
