// Package sched implements the TimerWheel and cooperative event loop of
// SPEC_FULL.md §4.1: a monotonic, millisecond-granularity timer set plus a
// readable/writable-socket dispatcher, generalizing the teacher's
// time.Ticker-driven Node.run loop (node.go) from a fixed 1s tick to
// arbitrary millisecond due times kept in a binary min-heap.
package sched

import (
	"container/heap"
	"time"
)

// Clock abstracts monotonic time so tests can drive the wheel without
// real sleeps.
type Clock interface {
	NowMs() int64
}

type realClock struct{ start time.Time }

func (c realClock) NowMs() int64 { return time.Since(c.start).Milliseconds() }

// NewRealClock returns a Clock backed by the monotonic wall clock.
func NewRealClock() Clock { return realClock{start: time.Now()} }

// Timer is an opaque handle returned by Wheel.New.
type Timer struct {
	id       uint64
	due      int64
	periodMs int64
	armed    bool
	index    int // heap index, -1 when not queued
	callback func()
}

// Wheel is a timer set kept as a binary min-heap (container/heap) keyed
// by due time. The firing order of timers with equal due times is not
// defined.
type Wheel struct {
	clock Clock
	pq    timerHeap
	seq   uint64
}

func NewWheel(clock Clock) *Wheel {
	return &Wheel{clock: clock}
}

// New allocates a timer; it is not armed until Set is called.
func (w *Wheel) New(callback func()) *Timer {
	return &Timer{index: -1, callback: callback}
}

// Set (re-)arms t to fire dueMs milliseconds from now. Re-arming an
// already-armed timer replaces its due time idempotently. If periodic is
// true, the timer re-arms itself for the same interval each time it
// fires.
func (w *Wheel) Set(t *Timer, dueMs int64, periodic bool) {
	now := w.clock.NowMs()
	t.due = now + dueMs
	if periodic {
		t.periodMs = dueMs
	} else {
		t.periodMs = 0
	}
	if t.armed {
		heap.Fix(&w.pq, t.index)
		return
	}
	t.armed = true
	w.seq++
	heap.Push(&w.pq, t)
}

// Stop removes t from the wheel; safe to call on a timer that is not
// armed.
func (w *Wheel) Stop(t *Timer) {
	if !t.armed {
		return
	}
	heap.Remove(&w.pq, t.index)
	t.armed = false
}

func (w *Wheel) IsActive(t *Timer) bool { return t.armed }

// GetDue returns milliseconds until t fires, or 0 if already past-due.
// Returns -1 if the timer is not armed.
func (w *Wheel) GetDue(t *Timer) int64 {
	if !t.armed {
		return -1
	}
	d := t.due - w.clock.NowMs()
	if d < 0 {
		return 0
	}
	return d
}

// NextDeadline returns the due time of the earliest armed timer, and
// whether any timer is armed at all.
func (w *Wheel) NextDeadline() (int64, bool) {
	if len(w.pq) == 0 {
		return 0, false
	}
	return w.pq[0].due, true
}

// DrainDue fires every timer whose due time is <= now in one pass. A
// callback invoked during this pass may re-arm itself or other timers;
// a re-arm for t=0 is only picked up in this same DrainDue call if it is
// pushed back onto the heap before the loop below observes the new
// minimum (spec.md §5 ordering guarantee: same-iteration re-fire only if
// not yet drained).
func (w *Wheel) DrainDue() {
	now := w.clock.NowMs()
	for len(w.pq) > 0 && w.pq[0].due <= now {
		t := heap.Pop(&w.pq).(*Timer)
		t.armed = false
		if t.periodMs > 0 {
			w.Set(t, t.periodMs, true)
		}
		t.callback()
	}
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	return false // stable order preserved by container/heap for ties isn't guaranteed; see Wheel doc.
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
