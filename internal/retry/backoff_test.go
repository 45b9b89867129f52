package retry

import (
	"context"
	"testing"
	"time"
)

func TestDelayDoublesUpToMax(t *testing.T) {
	b := Backoff{Min: 10 * time.Millisecond, Max: 70 * time.Millisecond}

	want := []time.Duration{10, 20, 40, 70, 70}
	for i, w := range want {
		if got := b.Delay(i); got != w*time.Millisecond {
			t.Errorf("attempt %d: got %v, want %v", i, got, w*time.Millisecond)
		}
	}
}

func TestDelayJitterBounded(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, Jitter: 0.5}

	for i := 0; i < 100; i++ {
		d := b.Delay(0)
		if d < 100*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("delay out of range: %v", d)
		}
	}
}

func TestSleepCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Sleep(ctx, time.Hour); err == nil {
		t.Fatal("expected context error")
	}
}
