package transport

import (
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: base * 2^retry plus up to a second of
// jitter, so a fleet of bridges restarting together doesn't hammer one
// endpoint in lockstep. It holds no state; the runner owns the retry
// counter and resets it to zero whenever a transport reaches ready.
type Backoff struct {
	Base       time.Duration
	Jitter     time.Duration
	MaxRetries int
}

// DefaultBackoff matches the production defaults: 1s base, up to 1s jitter,
// give up after 3 attempts.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Jitter: time.Second, MaxRetries: 3}
}

// Delay returns the wait before reconnect attempt retry (0-based).
func (b Backoff) Delay(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	if retry > 16 {
		retry = 16 // avoid shift overflow; delays this long are academic
	}
	d := b.Base << uint(retry)
	if b.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(b.Jitter)))
	}
	return d
}

// Exhausted reports whether retry has consumed the attempt budget.
func (b Backoff) Exhausted(retry int) bool {
	return retry >= b.MaxRetries
}
