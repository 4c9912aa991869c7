package runner

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mcpipe/mcpipe/internal/rpc"
	"github.com/mcpipe/mcpipe/internal/transport"
)

// fakeTransport records sends and lets tests drive the event callbacks.
type fakeTransport struct {
	events transport.Events

	mu     sync.Mutex
	sent   []*rpc.Message
	state  transport.State
	closed atomic.Int32
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.state = transport.StateReady
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Send(msg *rpc.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != transport.StateReady {
		return transport.ErrNotReady
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.state = transport.StateClosed
	f.mu.Unlock()
	f.closed.Add(1)
	return nil
}

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// trackingFactory hands out fresh fakes and counts how many were built.
type trackingFactory struct {
	mu    sync.Mutex
	made  []*fakeTransport
	fail  int32 // first N calls fail
	calls atomic.Int32
}

func (tf *trackingFactory) new(events transport.Events) (transport.Transport, error) {
	n := tf.calls.Add(1)
	if n <= atomic.LoadInt32(&tf.fail) {
		return nil, io.ErrUnexpectedEOF
	}
	ft := &fakeTransport{events: events}
	tf.mu.Lock()
	tf.made = append(tf.made, ft)
	tf.mu.Unlock()
	return ft, nil
}

func (tf *trackingFactory) last(t *testing.T) *fakeTransport {
	t.Helper()
	tf.mu.Lock()
	defer tf.mu.Unlock()
	if len(tf.made) == 0 {
		t.Fatal("no transport was ever created")
	}
	return tf.made[len(tf.made)-1]
}

func newTestRunner(t *testing.T, tf *trackingFactory, opts Options) *Runner {
	t.Helper()
	opts.NewTransport = tf.new
	if opts.Exit == nil {
		opts.Exit = func(int) {}
	}
	r, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRunner_CleanupIsIdempotent(t *testing.T) {
	tf := &trackingFactory{}
	r := newTestRunner(t, tf, Options{Name: "test"})
	if err := r.connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Cleanup()
		}()
	}
	wg.Wait()
	r.Cleanup()

	if got := tf.last(t).closed.Load(); got != 1 {
		t.Errorf("transport closed %d times, want exactly 1", got)
	}
}

func TestRunner_CleanupRejectsPending(t *testing.T) {
	tf := &trackingFactory{}
	r := newTestRunner(t, tf, Options{Name: "test"})
	if err := r.connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ch, err := r.table.Register("77", time.Minute)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	r.Cleanup()

	select {
	case resp := <-ch:
		if resp.Error == nil || resp.Error.Code != rpc.CodeShuttingDown {
			t.Errorf("pending caller got %+v, want shutting-down error", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("pending caller was never settled")
	}
}

func TestRunner_ClientCloseDoesNotReconnect(t *testing.T) {
	tf := &trackingFactory{}
	r := newTestRunner(t, tf, Options{Name: "test"})
	if err := r.connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	r.Cleanup()
	// The transport's close event arrives after our own Close.
	tf.last(t).events.OnClose(nil)

	time.Sleep(50 * time.Millisecond)
	if n := tf.calls.Load(); n != 1 {
		t.Errorf("factory called %d times after client close, want 1", n)
	}
}

func TestRunner_UnexpectedCloseReconnects(t *testing.T) {
	tf := &trackingFactory{}
	r := newTestRunner(t, tf, Options{
		Name:    "test",
		Backoff: transport.Backoff{Base: time.Millisecond, Jitter: time.Millisecond, MaxRetries: 3},
	})
	if err := r.connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	first := tf.last(t)
	first.events.OnClose(io.ErrUnexpectedEOF)

	waitFor(t, func() bool { return tf.calls.Load() == 2 }, "reconnect")
	if second := tf.last(t); second == first {
		t.Error("reconnect reused the old transport instance")
	}

	// A successful reconnect resets the retry counter.
	r.mu.Lock()
	retries := r.retries
	r.mu.Unlock()
	if retries != 0 {
		t.Errorf("retries = %d after successful reconnect, want 0", retries)
	}
}

func TestRunner_ReconnectExhaustionExits(t *testing.T) {
	tf := &trackingFactory{fail: 100}
	var code atomic.Int32
	code.Store(-1)
	r := newTestRunner(t, tf, Options{
		Name:    "test",
		Backoff: transport.Backoff{Base: time.Millisecond, Jitter: time.Millisecond, MaxRetries: 3},
		Exit:    func(c int) { code.Store(int32(c)) },
	})
	// fail applies to reconnect attempts only
	atomic.StoreInt32(&tf.fail, 0)
	if err := r.connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	atomic.StoreInt32(&tf.fail, 100)

	tf.last(t).events.OnClose(io.ErrUnexpectedEOF)

	waitFor(t, func() bool { return code.Load() != -1 }, "exit after exhaustion")
	if code.Load() != 1 {
		t.Errorf("exit code = %d, want 1", code.Load())
	}
	if !r.shuttingDown.Load() {
		t.Error("cleanup did not run on exhaustion")
	}
}

func TestRunner_StdinEOFShutsDownCleanly(t *testing.T) {
	tf := &trackingFactory{}
	var code atomic.Int32
	code.Store(-1)
	in := strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n")
	var out bytes.Buffer
	r := newTestRunner(t, tf, Options{
		Name:  "test",
		Stdio: true,
		In:    in,
		Out:   &out,
		Exit:  func(c int) { code.Store(int32(c)) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	waitFor(t, func() bool { return code.Load() != -1 }, "exit after stdin EOF")
	if code.Load() != 0 {
		t.Errorf("exit code = %d, want 0", code.Load())
	}
	if got := tf.last(t).sentCount(); got != 1 {
		t.Errorf("forwarded %d messages before EOF, want 1", got)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after stdin EOF")
	}
	if n := tf.calls.Load(); n != 1 {
		t.Errorf("factory called %d times, want 1 (no reconnect on clean close)", n)
	}
}

// connectCheckTransport reports what it observed at the instant Connect ran.
type connectCheckTransport struct {
	fakeTransport
	onConnect func()
}

func (c *connectCheckTransport) Connect(ctx context.Context) error {
	c.onConnect()
	return c.fakeTransport.Connect(ctx)
}

func TestRunner_TimersExistBeforeConnect(t *testing.T) {
	// The transport can emit a message before Connect returns; the idle
	// timer and heartbeat must already be in place or the activity is
	// silently dropped.
	var idleSet, hbSet atomic.Bool
	var r *Runner
	opts := Options{
		Name:              "test",
		IdleTimeout:       time.Minute,
		HeartbeatInterval: time.Minute,
		Exit:              func(int) {},
		NewTransport: func(events transport.Events) (transport.Transport, error) {
			return &connectCheckTransport{
				fakeTransport: fakeTransport{events: events},
				onConnect: func() {
					idleSet.Store(r.idle != nil)
					hbSet.Store(r.hb != nil)
				},
			}, nil
		},
	}
	r, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	waitFor(t, func() bool { return r.Ready() }, "connect")
	if !idleSet.Load() {
		t.Error("idle timer was not built before connect")
	}
	if !hbSet.Load() {
		t.Error("heartbeat was not built before connect")
	}
}

func TestRunner_ResponsesForwardToStdout(t *testing.T) {
	tf := &trackingFactory{}
	pr, pw := io.Pipe()
	var out lockedBuffer
	r := newTestRunner(t, tf, Options{Name: "test", Stdio: true, In: pr, Out: &out})

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	waitFor(t, func() bool { return tf.calls.Load() == 1 }, "connect")

	resp := &rpc.Message{JSONRPC: rpc.Version, ID: "8", Result: []byte(`{}`)}
	tf.last(t).events.OnMessage(resp)

	waitFor(t, func() bool { return strings.Contains(out.String(), `"id":"8"`) }, "response on stdout")

	pw.Close()
	cancel()
}

func TestRunner_HeartbeatPongNotForwarded(t *testing.T) {
	tf := &trackingFactory{}
	var out lockedBuffer
	pr, _ := io.Pipe()
	r := newTestRunner(t, tf, Options{Name: "test", Stdio: true, In: pr, Out: &out})
	if err := r.connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := r.sendPing(); err != nil {
		t.Fatalf("sendPing: %v", err)
	}
	sent := tf.last(t)
	if sent.sentCount() != 1 {
		t.Fatalf("ping was not sent")
	}
	sent.mu.Lock()
	pingID := sent.sent[0].ID
	sent.mu.Unlock()

	pong := &rpc.Message{JSONRPC: rpc.Version, ID: pingID, Result: []byte(`{}`)}
	r.onMessage(pong)

	time.Sleep(20 * time.Millisecond)
	if out.String() != "" {
		t.Errorf("heartbeat pong leaked to stdout: %q", out.String())
	}
	if r.table.Len() != 0 {
		t.Errorf("ping entry not settled, table len = %d", r.table.Len())
	}
}

// lockedBuffer is a bytes.Buffer safe for concurrent writers and readers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
