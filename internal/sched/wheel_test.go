package sched

import "testing"

type fakeClock struct{ now int64 }

func (f *fakeClock) NowMs() int64 { return f.now }

func TestWheelFiresInDueOrder(t *testing.T) {
	clock := &fakeClock{}
	w := NewWheel(clock)

	var order []string
	a := w.New(func() { order = append(order, "a") })
	b := w.New(func() { order = append(order, "b") })
	c := w.New(func() { order = append(order, "c") })

	w.Set(b, 300, false)
	w.Set(a, 100, false)
	w.Set(c, 200, false)

	clock.now = 250
	w.DrainDue()

	if len(order) != 2 || order[0] != "a" || order[1] != "c" {
		t.Fatalf("got %v, want [a c]", order)
	}
	if !w.IsActive(b) {
		t.Fatalf("b should still be armed")
	}
}

func TestWheelRearmDuringFire(t *testing.T) {
	clock := &fakeClock{}
	w := NewWheel(clock)

	fireCount := 0
	var self *Timer
	self = w.New(func() {
		fireCount++
		if fireCount == 1 {
			w.Set(self, 0, false) // re-arm for "now"
		}
	})
	w.Set(self, 100, false)

	clock.now = 100
	w.DrainDue() // first pass fires self once, re-arms for t=0

	if fireCount != 1 {
		t.Fatalf("expected exactly one fire in the draining pass, got %d", fireCount)
	}
	if !w.IsActive(self) {
		t.Fatalf("expected self-rearm to leave timer armed for the next DrainDue")
	}

	w.DrainDue() // next iteration picks up the t=0 rearm
	if fireCount != 2 {
		t.Fatalf("expected second fire on next drain, got %d", fireCount)
	}
}

func TestWheelStopIsIdempotent(t *testing.T) {
	clock := &fakeClock{}
	w := NewWheel(clock)
	tm := w.New(func() {})
	w.Stop(tm) // not armed yet; must not panic
	w.Set(tm, 10, false)
	w.Stop(tm)
	w.Stop(tm)
	if w.IsActive(tm) {
		t.Fatalf("expected stopped timer to be inactive")
	}
}

func TestWheelPeriodicReArms(t *testing.T) {
	clock := &fakeClock{}
	w := NewWheel(clock)
	fires := 0
	tm := w.New(func() { fires++ })
	w.Set(tm, 50, true)

	clock.now = 50
	w.DrainDue()
	if fires != 1 || !w.IsActive(tm) {
		t.Fatalf("expected one fire and re-arm, fires=%d active=%v", fires, w.IsActive(tm))
	}

	clock.now = 100
	w.DrainDue()
	if fires != 2 {
		t.Fatalf("expected second periodic fire, got %d", fires)
	}
}
