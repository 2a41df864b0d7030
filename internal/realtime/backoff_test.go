package realtime

import (
	"testing"
	"time"
)

func TestBackoff_DoublesAndCaps(t *testing.T) {
	b := DefaultBackoff()
	want := []time.Duration{
		3 * time.Second,
		6 * time.Second,
		12 * time.Second,
		24 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %s, want %s", i+1, got, w)
		}
	}
}

func TestBackoff_Allow(t *testing.T) {
	b := DefaultBackoff()
	for done := 0; done < 5; done++ {
		if !b.Allow(done) {
			t.Fatalf("expected attempt after %d failures to be allowed", done)
		}
	}
	if b.Allow(5) {
		t.Fatalf("expected budget to be exhausted after 5 attempts")
	}
}

func TestBackoff_ZeroAttemptTreatedAsFirst(t *testing.T) {
	b := Backoff{Base: time.Second, Multiplier: 2, Max: time.Minute, MaxAttempts: 1}
	if got := b.Delay(0); got != time.Second {
		t.Fatalf("Delay(0) = %s", got)
	}
}
