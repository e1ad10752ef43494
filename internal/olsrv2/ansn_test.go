package olsrv2

import "testing"

func TestAnsnLessSimpleOrder(t *testing.T) {
	if !ansnLess(5, 6) {
		t.Fatalf("expected 5 older than 6")
	}
	if ansnLess(6, 5) {
		t.Fatalf("expected 6 not older than 5")
	}
}

func TestAnsnLessWraparound(t *testing.T) {
	if !ansnLess(0xFFFE, 1) {
		t.Fatalf("expected 0xFFFE older than 1 across the wrap")
	}
	if ansnLess(1, 0xFFFE) {
		t.Fatalf("expected 1 not older than 0xFFFE across the wrap")
	}
}

func TestAnsnLessEqualIsNotOlder(t *testing.T) {
	if ansnLess(10, 10) {
		t.Fatalf("expected equal ANSNs to not compare as older")
	}
}
