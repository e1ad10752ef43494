package container

import "testing"

func uint32Less(a, b uint32) bool { return a < b }

func TestOrderedMapAscendIsSorted(t *testing.T) {
	m := New[uint32, string](uint32Less, false)
	m.Put(5, "five")
	m.Put(1, "one")
	m.Put(3, "three")

	var keys []uint32
	m.Ascend(func(k uint32, _ string) bool {
		keys = append(keys, k)
		return true
	})
	want := []uint32{1, 3, 5}
	for i, k := range want {
		if keys[i] != k {
			t.Fatalf("got %v, want %v", keys, want)
		}
	}
}

func TestOrderedMapPredecessorSuccessor(t *testing.T) {
	m := New[uint32, string](uint32Less, false)
	for _, k := range []uint32{10, 20, 30} {
		m.Put(k, "")
	}
	if k, _, ok := m.Predecessor(25); !ok || k != 20 {
		t.Fatalf("predecessor(25) = %d, ok=%v, want 20", k, ok)
	}
	if k, _, ok := m.Successor(25); !ok || k != 30 {
		t.Fatalf("successor(25) = %d, ok=%v, want 30", k, ok)
	}
	if _, _, ok := m.Successor(30); ok {
		t.Fatalf("successor(30) should not exist")
	}
}

func TestOrderedMapDeleteRemovesAllEquals(t *testing.T) {
	m := New[uint32, int](uint32Less, true)
	m.Put(7, 1)
	m.Put(7, 2)
	m.Put(8, 3)
	if n := m.Delete(7); n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 remaining, got %d", m.Len())
	}
}
