package ratelimit

import (
	"testing"
	"time"
)

// TestSuppressesAfterThreshold drives the scenario in spec.md S6:
// 20 events in a 60s window with threshold 10 suppresses events 11-20
// and summarizes them once the window rolls over.
func TestSuppressesAfterThreshold(t *testing.T) {
	now := time.Unix(0, 0)
	l := New(60*time.Second, 10)
	l.now = func() time.Time { return now }

	allowedCount := 0
	for i := 0; i < 20; i++ {
		allow, summary := l.Event()
		if allow {
			allowedCount++
		}
		if summary != "" {
			t.Fatalf("unexpected summary mid-window: %q", summary)
		}
	}
	if allowedCount != 10 {
		t.Fatalf("expected 10 allowed events, got %d", allowedCount)
	}

	now = now.Add(61 * time.Second)
	_, summary := l.Event()
	if summary == "" {
		t.Fatalf("expected a suppression summary after the window rolled over")
	}
}
