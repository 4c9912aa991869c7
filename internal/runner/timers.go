package runner

import (
	"log/slog"
	"sync"
	"time"
)

// IdleTimer terminates an inactive session: one timer, reset by Touch on
// every inbound payload message. Heartbeat ping/pong traffic deliberately
// does not Touch it — a connection kept alive purely by pings is idle.
type IdleTimer struct {
	mu      sync.Mutex
	d       time.Duration
	timer   *time.Timer
	stopped bool
}

// NewIdleTimer arms a timer that invokes onIdle after d of inactivity.
// A non-positive d disables the timer; the returned value is still safe to
// Touch and Stop.
func NewIdleTimer(d time.Duration, onIdle func()) *IdleTimer {
	t := &IdleTimer{d: d}
	if d > 0 {
		t.timer = time.AfterFunc(d, onIdle)
	}
	return t
}

// Touch resets the inactivity window.
func (t *IdleTimer) Touch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil && !t.stopped {
		t.timer.Reset(t.d)
	}
}

// Stop disarms the timer permanently. Required during cleanup: a live timer
// keeps the process from exiting.
func (t *IdleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Heartbeat periodically invokes send to keep the remote side alive. Send
// failures are logged and otherwise ignored; a dead connection announces
// itself through the transport's close event, not through the heartbeat.
type Heartbeat struct {
	interval time.Duration
	send     func() error
	stop     chan struct{}
	once     sync.Once
}

// NewHeartbeat builds a heartbeat with the given interval. A non-positive
// interval disables it; Start and Stop remain safe to call.
func NewHeartbeat(interval time.Duration, send func() error) *Heartbeat {
	return &Heartbeat{interval: interval, send: send, stop: make(chan struct{})}
}

// Start launches the heartbeat loop. It returns immediately.
func (h *Heartbeat) Start() {
	if h.interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := h.send(); err != nil {
					slog.Warn("heartbeat send failed", "err", err)
				}
			case <-h.stop:
				return
			}
		}
	}()
}

// Stop ends the loop. Idempotent.
func (h *Heartbeat) Stop() {
	h.once.Do(func() { close(h.stop) })
}
