// Package container implements the database primitives of SPEC_FULL.md
// §4.12: a comparator-parameterised ordered map backed by
// github.com/google/btree, an intrusive doubly-linked list, a growing
// byte buffer with a sticky overflow flag, and a generation-indexed
// arena used to give cross-referenced core entities (Link, Neighbor,
// TcNode) stable, safely-invalidated handles (spec.md §9).
package container

import "github.com/google/btree"

// Less reports whether a sorts before b; callers supply one per key type
// (bytewise, case-insensitive string, netaddr.NetAddr.Less, uint32, ...).
type Less[K any] func(a, b K) bool

// OrderedMap is a self-balancing, comparator-parameterised ordered map
// supporting range, predecessor and successor queries. When AllowDup is
// set, non-unique keys are permitted and iterate in insertion order among
// equals (an insertion sequence counter breaks ties in the comparator).
type OrderedMap[K any, V any] struct {
	tree    *btree.BTreeG[entry[K, V]]
	less    Less[K]
	allowDup bool
	seq     uint64
}

type entry[K any, V any] struct {
	key K
	val V
	seq uint64
}

// New creates an OrderedMap ordered by less. If allowDup is true, Put
// never overwrites an existing equal key; it inserts a new entry ordered
// after prior equals.
func New[K any, V any](less Less[K], allowDup bool) *OrderedMap[K, V] {
	m := &OrderedMap[K, V]{less: less, allowDup: allowDup}
	m.tree = btree.NewG(32, func(a, b entry[K, V]) bool {
		if less(a.key, b.key) {
			return true
		}
		if less(b.key, a.key) {
			return false
		}
		return a.seq < b.seq
	})
	return m
}

// Put inserts or replaces the value for key. Returns true if a distinct
// prior entry for a unique key was replaced.
func (m *OrderedMap[K, V]) Put(key K, val V) bool {
	if !m.allowDup {
		if old, ok := m.getEntry(key); ok {
			old.val = val
			m.tree.ReplaceOrInsert(old)
			return true
		}
	}
	m.seq++
	m.tree.ReplaceOrInsert(entry[K, V]{key: key, val: val, seq: m.seq})
	return false
}

func (m *OrderedMap[K, V]) getEntry(key K) (entry[K, V], bool) {
	var found entry[K, V]
	hit := false
	m.tree.AscendGreaterOrEqual(entry[K, V]{key: key}, func(e entry[K, V]) bool {
		if !m.less(e.key, key) && !m.less(key, e.key) {
			found, hit = e, true
		}
		return false
	})
	return found, hit
}

// Get returns the first value stored for key, if any.
func (m *OrderedMap[K, V]) Get(key K) (V, bool) {
	e, ok := m.getEntry(key)
	return e.val, ok
}

// Delete removes every entry equal to key, returning the count removed.
func (m *OrderedMap[K, V]) Delete(key K) int {
	var toRemove []entry[K, V]
	m.tree.AscendGreaterOrEqual(entry[K, V]{key: key}, func(e entry[K, V]) bool {
		if m.less(key, e.key) {
			return false
		}
		toRemove = append(toRemove, e)
		return true
	})
	for _, e := range toRemove {
		m.tree.Delete(e)
	}
	return len(toRemove)
}

// Len returns the total number of entries.
func (m *OrderedMap[K, V]) Len() int { return m.tree.Len() }

// Ascend walks entries in increasing key order; fn returning false stops
// the walk early.
func (m *OrderedMap[K, V]) Ascend(fn func(key K, val V) bool) {
	m.tree.Ascend(func(e entry[K, V]) bool {
		return fn(e.key, e.val)
	})
}

// AscendRange walks entries with key in [from, to).
func (m *OrderedMap[K, V]) AscendRange(from, to K, fn func(key K, val V) bool) {
	m.tree.AscendRange(entry[K, V]{key: from}, entry[K, V]{key: to}, func(e entry[K, V]) bool {
		return fn(e.key, e.val)
	})
}

// Predecessor returns the greatest entry strictly less than key.
func (m *OrderedMap[K, V]) Predecessor(key K) (K, V, bool) {
	var rk K
	var rv V
	ok := false
	m.tree.DescendLessOrEqual(entry[K, V]{key: key}, func(e entry[K, V]) bool {
		if m.less(e.key, key) {
			rk, rv, ok = e.key, e.val, true
			return false
		}
		return true
	})
	return rk, rv, ok
}

// Successor returns the smallest entry strictly greater than key.
func (m *OrderedMap[K, V]) Successor(key K) (K, V, bool) {
	var rk K
	var rv V
	ok := false
	m.tree.AscendGreaterOrEqual(entry[K, V]{key: key}, func(e entry[K, V]) bool {
		if m.less(key, e.key) {
			rk, rv, ok = e.key, e.val, true
			return false
		}
		return true
	})
	return rk, rv, ok
}
