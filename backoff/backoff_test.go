package backoff

import (
	"testing"
	"time"
)

func TestConstant(t *testing.T) {
	c := NewConstant(5 * time.Millisecond)
	for attempt := 1; attempt <= 4; attempt++ {
		if d := c.Delay(attempt); d != 5*time.Millisecond {
			t.Fatalf("attempt %d: delay = %s, want 5ms", attempt, d)
		}
	}
}

func TestExponentialWithJitter_Bounds(t *testing.T) {
	e := NewExponentialWithJitter(time.Millisecond, 8*time.Millisecond)
	for attempt := 1; attempt <= 10; attempt++ {
		d := e.Delay(attempt)
		if d < 0 {
			t.Fatalf("attempt %d: negative delay %s", attempt, d)
		}
		if d > 8*time.Millisecond {
			t.Fatalf("attempt %d: delay %s exceeds max", attempt, d)
		}
	}
}

func TestExponentialWithJitter_GrowsBeforeCap(t *testing.T) {
	e := NewExponentialWithJitter(time.Millisecond, time.Second)
	// Attempt 5 upper bound is 16ms; sample enough draws to see the
	// range exceed the attempt-1 upper bound.
	var maxSeen time.Duration
	for range 200 {
		if d := e.Delay(5); d > maxSeen {
			maxSeen = d
		}
	}
	if maxSeen <= time.Millisecond {
		t.Fatalf("attempt 5 never exceeded 1ms (max seen %s), jitter range not growing", maxSeen)
	}
}

func TestDefaultCAS(t *testing.T) {
	s := DefaultCAS()
	if d := s.Delay(1); d > 50*time.Millisecond {
		t.Fatalf("first CAS retry delay %s exceeds cap", d)
	}
}
