// Package transport provides the byte-level channels that carry JSON-RPC
// messages to an MCP server: a stdio subprocess, a streamable-HTTP endpoint,
// or a WebSocket connection. All variants share one interface and one
// lifecycle state machine; the runner layers reconnect policy on top.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mcpipe/mcpipe/internal/rpc"
)

var (
	// ErrNotReady is returned by Send before the connect handshake
	// completes or after close. Messages are never silently dropped.
	ErrNotReady = errors.New("transport not ready")
	// ErrInvalidConfig is returned by constructors for unusable configs.
	ErrInvalidConfig = errors.New("invalid transport config")
)

// State tracks the transport lifecycle:
// connecting → ready → (closing → closed) | (closed directly on error).
type State int32

const (
	StateConnecting State = iota
	StateReady
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Events are the adapter callbacks. OnMessage fires once per inbound
// message in arrival order for a given transport; OnClose fires at most
// once, with nil err only when the peer ended the stream without error.
// Any callback may be nil.
type Events struct {
	OnMessage func(msg *rpc.Message)
	OnError   func(err error)
	OnClose   func(err error)
}

// Transport is the common adapter surface. Connect must be called once;
// after Close (or OnClose) the transport is spent and a reconnect builds a
// fresh instance.
type Transport interface {
	Connect(ctx context.Context) error
	Send(msg *rpc.Message) error
	Close() error
	State() State
}

// lifecycle is embedded by every adapter: atomic state with logged
// transitions and at-most-once event emission.
type lifecycle struct {
	name      string
	events    Events
	state     atomic.Int32
	closeOnce sync.Once
}

func (l *lifecycle) State() State { return State(l.state.Load()) }

func (l *lifecycle) ready() bool { return l.State() == StateReady }

// setState records a lifecycle transition. Every transition is logged: in a
// stdio-piped deployment stderr is the only diagnostic surface.
func (l *lifecycle) setState(s State) {
	prev := State(l.state.Swap(int32(s)))
	if prev != s {
		slog.Info("transport state", "transport", l.name, "from", prev.String(), "to", s.String())
	}
}

func (l *lifecycle) emitMessage(msg *rpc.Message) {
	if l.events.OnMessage != nil {
		l.events.OnMessage(msg)
	}
}

func (l *lifecycle) emitError(err error) {
	slog.Warn("transport error", "transport", l.name, "err", err)
	if l.events.OnError != nil {
		l.events.OnError(err)
	}
}

// emitClose transitions to closed and fires OnClose exactly once, whatever
// combination of read-loop exit, process exit, and local Close races in.
func (l *lifecycle) emitClose(err error) {
	l.closeOnce.Do(func() {
		l.setState(StateClosed)
		if l.events.OnClose != nil {
			l.events.OnClose(err)
		}
	})
}
