package container

import "testing"

func TestArenaRemoveInvalidatesHandle(t *testing.T) {
	var a Arena[string]
	h := a.Insert("link-a")
	if v, ok := a.Get(h); !ok || v != "link-a" {
		t.Fatalf("expected link-a, got %q ok=%v", v, ok)
	}
	a.Remove(h)
	if _, ok := a.Get(h); ok {
		t.Fatalf("expected removed handle to resolve absent")
	}

	// The recycled slot gets a fresh generation; the old handle must
	// still not resolve to the new occupant.
	h2 := a.Insert("link-b")
	if h2.Index != h.Index {
		t.Fatalf("expected slot reuse")
	}
	if _, ok := a.Get(h); ok {
		t.Fatalf("stale handle must not resolve to the reused slot")
	}
	if v, ok := a.Get(h2); !ok || v != "link-b" {
		t.Fatalf("expected link-b via fresh handle, got %q ok=%v", v, ok)
	}
}

func TestArenaEachSkipsRemoved(t *testing.T) {
	var a Arena[int]
	h1 := a.Insert(1)
	a.Insert(2)
	a.Remove(h1)

	var seen []int
	a.Each(func(_ Handle, v int) { seen = append(seen, v) })
	if len(seen) != 1 || seen[0] != 2 {
		t.Fatalf("expected only [2], got %v", seen)
	}
}
