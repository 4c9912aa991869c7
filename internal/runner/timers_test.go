package runner

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestIdleTimer_FiresAfterInactivity(t *testing.T) {
	fired := make(chan struct{})
	it := NewIdleTimer(30*time.Millisecond, func() { close(fired) })
	defer it.Stop()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("idle timer never fired")
	}
}

func TestIdleTimer_TouchDefers(t *testing.T) {
	var fired atomic.Bool
	it := NewIdleTimer(60*time.Millisecond, func() { fired.Store(true) })
	defer it.Stop()

	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		it.Touch()
	}
	if fired.Load() {
		t.Fatal("timer fired despite activity")
	}

	time.Sleep(150 * time.Millisecond)
	if !fired.Load() {
		t.Fatal("timer never fired once activity stopped")
	}
}

func TestIdleTimer_StopDisarms(t *testing.T) {
	var fired atomic.Bool
	it := NewIdleTimer(20*time.Millisecond, func() { fired.Store(true) })
	it.Stop()
	it.Touch() // must not re-arm

	time.Sleep(80 * time.Millisecond)
	if fired.Load() {
		t.Error("stopped timer fired")
	}
}

func TestIdleTimer_DisabledIsInert(t *testing.T) {
	it := NewIdleTimer(0, func() { t.Error("disabled timer fired") })
	it.Touch()
	it.Stop()
	time.Sleep(20 * time.Millisecond)
}

func TestHeartbeat_Ticks(t *testing.T) {
	var ticks atomic.Int32
	hb := NewHeartbeat(10*time.Millisecond, func() error {
		ticks.Add(1)
		return nil
	})
	hb.Start()
	defer hb.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ticks.Load() < 3 {
		t.Fatalf("saw %d heartbeats, want at least 3", ticks.Load())
	}
}

func TestHeartbeat_StopIsIdempotent(t *testing.T) {
	hb := NewHeartbeat(10*time.Millisecond, func() error { return nil })
	hb.Start()
	hb.Stop()
	hb.Stop() // must not panic
}

func TestHeartbeat_DisabledNeverTicks(t *testing.T) {
	hb := NewHeartbeat(0, func() error {
		t.Error("disabled heartbeat ticked")
		return nil
	})
	hb.Start()
	defer hb.Stop()
	time.Sleep(30 * time.Millisecond)
}
