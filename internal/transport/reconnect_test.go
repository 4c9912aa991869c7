package transport

import (
	"testing"
	"time"
)

func TestBackoff_DelayGrowsMonotonically(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Jitter: 0, MaxRetries: 5}
	prev := time.Duration(-1)
	for retry := 0; retry < 5; retry++ {
		d := b.Delay(retry)
		if d <= prev {
			t.Errorf("retry %d: delay %v not greater than previous %v", retry, d, prev)
		}
		prev = d
	}
	if got := b.Delay(3); got != 800*time.Millisecond {
		t.Errorf("retry 3: got %v, want 800ms", got)
	}
}

func TestBackoff_JitterBounded(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Jitter: time.Second, MaxRetries: 3}
	for i := 0; i < 50; i++ {
		d := b.Delay(1)
		lo, hi := 200*time.Millisecond, 200*time.Millisecond+time.Second
		if d < lo || d >= hi {
			t.Fatalf("delay %v outside [%v, %v)", d, lo, hi)
		}
	}
}

func TestBackoff_Exhausted(t *testing.T) {
	b := DefaultBackoff()
	for retry := 0; retry < b.MaxRetries; retry++ {
		if b.Exhausted(retry) {
			t.Errorf("retry %d reported exhausted before budget", retry)
		}
	}
	if !b.Exhausted(b.MaxRetries) {
		t.Error("budget consumed but not reported exhausted")
	}
}

func TestBackoff_LargeRetryDoesNotOverflow(t *testing.T) {
	b := Backoff{Base: time.Second, Jitter: 0, MaxRetries: 3}
	if d := b.Delay(40); d <= 0 {
		t.Errorf("overflowed delay: %v", d)
	}
}
