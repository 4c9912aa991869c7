package rpc

import (
	"errors"
	"sync"
	"time"
)

// ErrDuplicateID is returned when a request id is registered while an entry
// for the same id is still outstanding. Two in-flight requests sharing an id
// is a caller contract violation; failing the second registration surfaces
// the bug instead of stranding the first caller.
var ErrDuplicateID = errors.New("pending request id already registered")

// DefaultCallTimeout bounds how long a bridge caller blocks on a response.
const DefaultCallTimeout = 30 * time.Second

type pendingCall struct {
	ch    chan *Message
	timer *time.Timer
}

// Table correlates outbound requests to their eventual responses by
// normalized id. Every registered entry is settled exactly once: by a
// matching response, by its timeout, or by RejectAll during shutdown.
type Table struct {
	mu    sync.Mutex
	calls map[string]*pendingCall
}

// NewTable returns an empty pending-request table.
func NewTable() *Table {
	return &Table{calls: make(map[string]*pendingCall)}
}

// Register stores an entry for id and returns a channel that receives
// exactly one message: the correlated response, or an error-shaped response
// (CodeTimeout, CodeShuttingDown) if the entry is settled locally. The entry
// removes itself when the timeout fires.
func (t *Table) Register(id any, timeout time.Duration) (<-chan *Message, error) {
	key := IDKey(id)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.calls[key]; exists {
		return nil, ErrDuplicateID
	}

	call := &pendingCall{ch: make(chan *Message, 1)}
	if timeout > 0 {
		call.timer = time.AfterFunc(timeout, func() {
			t.settle(key, NewErrorResponse(id, CodeTimeout, "request timed out"))
		})
	}
	t.calls[key] = call
	return call.ch, nil
}

// Resolve delivers msg to the entry matching its id and reports whether one
// existed. A false return is not an error: the message is a notification,
// a server-initiated request, or a response whose entry already timed out,
// and the caller forwards it as unsolicited traffic.
func (t *Table) Resolve(msg *Message) bool {
	if msg.ID == nil {
		return false
	}
	return t.settle(IDKey(msg.ID), msg)
}

// Unregister drops the entry for id without settling it. Used when a send
// fails after registration.
func (t *Table) Unregister(id any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if call, ok := t.calls[IDKey(id)]; ok {
		if call.timer != nil {
			call.timer.Stop()
		}
		delete(t.calls, IDKey(id))
	}
}

// RejectAll settles every outstanding entry with an error response and
// clears the table. Call before tearing down the transport so blocked
// callers get a deterministic error instead of a hang.
func (t *Table) RejectAll(code int, reason string) {
	t.mu.Lock()
	calls := t.calls
	t.calls = make(map[string]*pendingCall)
	t.mu.Unlock()

	for key, call := range calls {
		if call.timer != nil {
			call.timer.Stop()
		}
		call.ch <- NewErrorResponse(key, code, reason)
	}
}

// Len returns the number of outstanding entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func (t *Table) settle(key string, msg *Message) bool {
	t.mu.Lock()
	call, ok := t.calls[key]
	if ok {
		delete(t.calls, key)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	if call.timer != nil {
		call.timer.Stop()
	}
	call.ch <- msg
	return true
}
