package container

// Handle is a (index, generation) pair identifying a slot in an Arena.
// A Handle whose generation no longer matches the slot's current
// generation is dangling and resolves to "absent" (spec.md §9).
type Handle struct {
	Index uint32
	Gen   uint32
}

// Zero is the handle that never refers to a live entry.
var Zero = Handle{}

func (h Handle) Valid() bool { return h != Zero }

type slot[T any] struct {
	val    T
	gen    uint32
	inUse bool
}

// Arena is a generation-tagged slab allocator. It gives the
// cross-referenced entities Link, Neighbor and TcNode (TcEdge and
// TcAttachment are held by pointer in their TcNode's maps instead)
// an O(1)-dereferenced stable handle while allowing safe removal: a freed
// slot's generation is bumped so any handle captured before the removal
// resolves to "absent" on the next Get, per spec.md §9's back-pointer
// graph strategy.
type Arena[T any] struct {
	slots []slot[T]
	free  []uint32
}

// Insert stores val in a fresh or recycled slot and returns its handle.
func (a *Arena[T]) Insert(val T) Handle {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		s := &a.slots[idx]
		s.val = val
		s.inUse = true
		return Handle{Index: idx, Gen: s.gen}
	}
	idx := uint32(len(a.slots))
	a.slots = append(a.slots, slot[T]{val: val, gen: 1, inUse: true})
	return Handle{Index: idx, Gen: 1}
}

// Get dereferences h; ok is false if h is stale or out of range.
func (a *Arena[T]) Get(h Handle) (T, bool) {
	var zero T
	if int(h.Index) >= len(a.slots) {
		return zero, false
	}
	s := &a.slots[h.Index]
	if !s.inUse || s.gen != h.Gen {
		return zero, false
	}
	return s.val, true
}

// Set overwrites the value at h in place; no-op if h is stale.
func (a *Arena[T]) Set(h Handle, val T) bool {
	if int(h.Index) >= len(a.slots) {
		return false
	}
	s := &a.slots[h.Index]
	if !s.inUse || s.gen != h.Gen {
		return false
	}
	s.val = val
	return true
}

// Remove frees h's slot and bumps its generation, invalidating every
// handle derived from it.
func (a *Arena[T]) Remove(h Handle) bool {
	if int(h.Index) >= len(a.slots) {
		return false
	}
	s := &a.slots[h.Index]
	if !s.inUse || s.gen != h.Gen {
		return false
	}
	var zero T
	s.val = zero
	s.inUse = false
	s.gen++
	a.free = append(a.free, h.Index)
	return true
}

// Each visits every live (handle, value) pair. The callback must not
// mutate the arena's slot count (Insert/Remove) during the walk; it may
// call Set on the handle currently visited or any other still-live one.
func (a *Arena[T]) Each(fn func(h Handle, val T)) {
	for idx := range a.slots {
		s := &a.slots[idx]
		if s.inUse {
			fn(Handle{Index: uint32(idx), Gen: s.gen}, s.val)
		}
	}
}

func (a *Arena[T]) Len() int {
	return len(a.slots) - len(a.free)
}
