// Package runner wires a transport, the pending-request table, the idle and
// heartbeat timers, and an optional local HTTP bridge into one session with
// a single idempotent cleanup path. Three variants share it: the stdio
// listener (stdin/stdout ↔ remote), the HTTP bridge runner (local HTTP ↔
// remote endpoint), and the playground runner (local HTTP ↔ hosted
// command).
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mcpipe/mcpipe/internal/rpc"
	"github.com/mcpipe/mcpipe/internal/transport"
)

const (
	// closeBudget bounds transport teardown during cleanup so a hung
	// close cannot block process exit.
	closeBudget = 3 * time.Second
	// heartbeatIDPrefix marks ping requests the runner itself issues, so
	// their pongs are excluded from idle-activity accounting.
	heartbeatIDPrefix = "mcpipe-hb-"
	// heartbeatTimeout settles a ping entry whose pong never arrives.
	heartbeatTimeout = 10 * time.Second
)

// TransportFactory builds a transport wired to the given event callbacks.
type TransportFactory func(events transport.Events) (transport.Transport, error)

// Options configures a Runner.
type Options struct {
	// Name tags log lines.
	Name string
	// NewTransport builds the transport for the initial connection and
	// for every reconnect. Each call must return a fresh instance.
	NewTransport TransportFactory
	// Backoff is the reconnect policy. Zero value means DefaultBackoff.
	Backoff transport.Backoff
	// IdleTimeout ends the session after this much inactivity. Zero
	// disables the idle timer.
	IdleTimeout time.Duration
	// HeartbeatInterval sends a ping this often while ready. Zero
	// disables the heartbeat.
	HeartbeatInterval time.Duration
	// Stdio relays newline-delimited JSON-RPC between In/Out and the
	// transport. Diagnostics must then stay off Out: it is the protocol
	// channel.
	Stdio bool
	In    io.Reader
	Out   io.Writer
	// BridgeAddr, when set, serves the local HTTP bridge there.
	BridgeAddr string
	// BridgeTimeout bounds each correlated bridge call.
	BridgeTimeout time.Duration
	// Exit replaces os.Exit, for tests.
	Exit func(code int)
}

// Runner owns one bridging session.
type Runner struct {
	opts  Options
	table *rpc.Table

	mu      sync.Mutex
	tr      transport.Transport
	retries int

	idle   *IdleTimer
	hb     *Heartbeat
	bridge *Bridge

	shuttingDown atomic.Bool
	clientClose  atomic.Bool

	outMu    sync.Mutex
	exit     func(int)
	done     chan struct{}
	doneOnce sync.Once
}

// finish wakes Run after a terminal exit path ran.
func (r *Runner) finish() {
	r.doneOnce.Do(func() { close(r.done) })
}

// New validates opts and builds a Runner. Nothing connects until Run.
func New(opts Options) (*Runner, error) {
	if opts.NewTransport == nil {
		return nil, fmt.Errorf("runner requires a transport factory")
	}
	if opts.Backoff == (transport.Backoff{}) {
		opts.Backoff = transport.DefaultBackoff()
	}
	if opts.Stdio {
		if opts.In == nil {
			opts.In = os.Stdin
		}
		if opts.Out == nil {
			opts.Out = os.Stdout
		}
	}
	exit := opts.Exit
	if exit == nil {
		exit = os.Exit
	}
	r := &Runner{
		opts:  opts,
		table: rpc.NewTable(),
		exit:  exit,
		done:  make(chan struct{}),
	}
	return r, nil
}

// Table exposes the pending-request table, shared with the bridge.
func (r *Runner) Table() *rpc.Table { return r.table }

// Ready reports whether the current transport is ready.
func (r *Runner) Ready() bool {
	r.mu.Lock()
	tr := r.tr
	r.mu.Unlock()
	return tr != nil && tr.State() == transport.StateReady
}

// Send forwards one message to the current transport.
func (r *Runner) Send(msg *rpc.Message) error {
	r.mu.Lock()
	tr := r.tr
	r.mu.Unlock()
	if tr == nil {
		return transport.ErrNotReady
	}
	return tr.Send(msg)
}

// Run connects and serves until ctx is cancelled or a fatal error ends the
// session. Cancellation (typically SIGINT/SIGTERM via signal.NotifyContext)
// routes through Cleanup; so do the idle-timeout and reconnect-exhausted
// exits.
func (r *Runner) Run(ctx context.Context) error {
	// Timers and bridge are built before the first connect: the
	// transport's read goroutines may deliver a message while connect is
	// still returning, and onMessage reads these fields.
	if r.opts.BridgeAddr != "" {
		r.bridge = NewBridge(r.opts.BridgeAddr, r.table, r.Send, r.Ready, r.opts.BridgeTimeout)
	}
	r.idle = NewIdleTimer(r.opts.IdleTimeout, func() {
		slog.Info("idle timeout reached, shutting down", "timeout", r.opts.IdleTimeout)
		r.clientClose.Store(true)
		r.Cleanup()
		r.exit(0)
		r.finish()
	})
	r.hb = NewHeartbeat(r.opts.HeartbeatInterval, r.sendPing)

	if err := r.connect(ctx); err != nil {
		r.idle.Stop()
		r.hb.Stop()
		return fmt.Errorf("connect: %w", err)
	}

	if r.bridge != nil {
		if err := r.bridge.Start(); err != nil {
			r.Cleanup()
			return err
		}
	}
	r.hb.Start()

	if r.opts.Stdio {
		go r.stdinLoop()
	}

	select {
	case <-ctx.Done():
		slog.Info("shutdown requested", "runner", r.opts.Name)
		r.clientClose.Store(true)
		r.Cleanup()
		return nil
	case <-r.done:
		return nil
	}
}

// Cleanup tears the session down exactly once; concurrent and repeat calls
// return immediately. The order is load-bearing: timers first so nothing
// re-arms, then pending callers, then the listener, then the transport with
// a bounded close.
func (r *Runner) Cleanup() {
	if !r.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	slog.Info("cleanup starting", "runner", r.opts.Name)

	if r.hb != nil {
		r.hb.Stop()
	}
	if r.idle != nil {
		r.idle.Stop()
	}

	r.table.RejectAll(rpc.CodeShuttingDown, "shutting down")

	if r.bridge != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeBudget)
		if err := r.bridge.Shutdown(ctx); err != nil {
			slog.Warn("bridge shutdown error", "err", err)
		}
		cancel()
	}

	// Mark the close as ours before issuing it, or the OnClose handler
	// races into the reconnect branch.
	r.clientClose.Store(true)
	r.mu.Lock()
	tr := r.tr
	r.mu.Unlock()
	if tr != nil {
		closed := make(chan struct{})
		go func() {
			if err := tr.Close(); err != nil {
				slog.Warn("transport close error", "err", err)
			}
			close(closed)
		}()
		select {
		case <-closed:
		case <-time.After(closeBudget):
			slog.Warn("transport close timed out", "budget", closeBudget)
		}
	}

	slog.Info("cleanup complete", "runner", r.opts.Name)
}

// connect builds a fresh transport and waits for it to reach ready. The
// retry counter resets here: every successful (re)connection starts the
// backoff schedule over.
func (r *Runner) connect(ctx context.Context) error {
	events := transport.Events{
		OnMessage: r.onMessage,
		OnError:   func(err error) { slog.Warn("transport error", "err", err) },
		OnClose:   r.onClose,
	}
	tr, err := r.opts.NewTransport(events)
	if err != nil {
		return err
	}
	if err := tr.Connect(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	r.tr = tr
	r.retries = 0
	r.mu.Unlock()
	return nil
}

func (r *Runner) onMessage(msg *rpc.Message) {
	fromHeartbeat := msg.ID != nil && strings.HasPrefix(rpc.IDKey(msg.ID), heartbeatIDPrefix)
	if !fromHeartbeat && !msg.IsPing() && r.idle != nil {
		r.idle.Touch()
	}
	if r.table.Resolve(msg) {
		return
	}
	if fromHeartbeat {
		return // pong for an already-settled ping
	}
	r.forward(msg)
}

// forward handles unsolicited traffic: in stdio mode it goes to the local
// client; in bridge mode there is no caller waiting, so it is logged.
func (r *Runner) forward(msg *rpc.Message) {
	if !r.opts.Stdio {
		slog.Debug("dropping unsolicited message", "kind", msg.Kind().String(), "method", msg.Method)
		return
	}
	data, err := msg.Encode()
	if err != nil {
		slog.Warn("failed to encode outbound message", "err", err)
		return
	}
	r.outMu.Lock()
	defer r.outMu.Unlock()
	if _, err := r.opts.Out.Write(append(data, '\n')); err != nil {
		slog.Warn("failed to write to stdout", "err", err)
	}
}

// onClose decides between the clean-shutdown branch and the reconnect
// branch. Only an unexpected close — neither client-initiated nor during
// shutdown — triggers the backoff policy.
func (r *Runner) onClose(err error) {
	if r.shuttingDown.Load() || r.clientClose.Load() {
		slog.Info("transport closed", "runner", r.opts.Name)
		return
	}
	if err != nil {
		slog.Warn("transport closed unexpectedly", "err", err)
	} else {
		slog.Warn("transport closed unexpectedly")
	}
	go r.reconnect()
}

func (r *Runner) reconnect() {
	for {
		if r.shuttingDown.Load() {
			return
		}
		r.mu.Lock()
		attempt := r.retries
		r.retries++
		r.mu.Unlock()

		if r.opts.Backoff.Exhausted(attempt) {
			slog.Error("max reconnect attempts reached", "attempts", attempt)
			r.Cleanup()
			r.exit(1)
			r.finish()
			return
		}

		delay := r.opts.Backoff.Delay(attempt)
		slog.Info("reconnecting", "attempt", attempt+1, "delay", delay)
		time.Sleep(delay)
		if r.shuttingDown.Load() {
			return
		}

		if err := r.connect(context.Background()); err != nil {
			slog.Warn("reconnect failed", "attempt", attempt+1, "err", err)
			continue
		}
		slog.Info("reconnected", "runner", r.opts.Name)
		return
	}
}

// sendPing issues one heartbeat ping while the transport is ready. The pong
// settles through the pending table and is drained without touching the
// idle timer.
func (r *Runner) sendPing() error {
	if !r.Ready() {
		return nil
	}
	id := heartbeatIDPrefix + uuid.NewString()
	ch, err := r.table.Register(id, heartbeatTimeout)
	if err != nil {
		return err
	}
	req, err := rpc.NewRequest(id, "ping", nil)
	if err != nil {
		r.table.Unregister(id)
		return err
	}
	if err := r.Send(req); err != nil {
		r.table.Unregister(id)
		return err
	}
	go func() { <-ch }()
	return nil
}

// stdinLoop frames the local client's stdin into messages and relays them
// to the transport. EOF on stdin is the client hanging up: a clean,
// zero-exit shutdown with no reconnect.
func (r *Runner) stdinLoop() {
	var framer rpc.Framer
	buf := make([]byte, 32*1024)
	for {
		// While the transport is down (e.g. mid-reconnect), leave client
		// bytes in the pipe buffer instead of consuming and failing them.
		for !r.Ready() {
			if r.shuttingDown.Load() {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		n, err := r.opts.In.Read(buf)
		if n > 0 {
			for _, line := range framer.Feed(buf[:n]) {
				r.handleStdinLine(line)
			}
		}
		if err != nil {
			if r.shuttingDown.Load() {
				return
			}
			slog.Info("stdin closed by client, shutting down")
			r.clientClose.Store(true)
			r.Cleanup()
			r.exit(0)
			r.finish()
			return
		}
	}
}

func (r *Runner) handleStdinLine(line []byte) {
	msg, err := rpc.Decode(line)
	if err != nil {
		slog.Warn("skipping unparseable input line", "err", err)
		return
	}
	if !msg.IsPing() && r.idle != nil {
		r.idle.Touch()
	}
	if err := r.Send(msg); err != nil {
		slog.Warn("send failed", "method", msg.Method, "err", err)
		if msg.ID != nil {
			r.forward(rpc.NewErrorResponse(msg.ID, rpc.CodeNotReady, err.Error()))
		}
	}
}
