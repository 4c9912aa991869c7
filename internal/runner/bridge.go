package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mcpipe/mcpipe/internal/rpc"
	"github.com/mcpipe/mcpipe/internal/transport"
)

const maxBridgeBody = 10 << 20 // 10MB

// Bridge is the local HTTP listener that lets HTTP callers talk to the
// transport: POST /mcp forwards a JSON-RPC message and, for id-bearing
// requests, blocks on the pending table until the correlated response
// arrives; GET /health reports readiness and uptime.
type Bridge struct {
	addr    string
	table   *rpc.Table
	send    func(*rpc.Message) error
	ready   func() bool
	timeout time.Duration

	mux     *http.ServeMux
	srv     *http.Server
	ln      net.Listener
	started time.Time
}

// NewBridge wires a bridge over the given pending table and send function.
// timeout bounds each correlated call; zero means rpc.DefaultCallTimeout.
func NewBridge(addr string, table *rpc.Table, send func(*rpc.Message) error, ready func() bool, timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = rpc.DefaultCallTimeout
	}
	b := &Bridge{addr: addr, table: table, send: send, ready: ready, timeout: timeout}
	b.mux = http.NewServeMux()
	b.mux.HandleFunc("/mcp", b.handleMCP)
	b.mux.HandleFunc("/health", b.handleHealth)
	b.srv = &http.Server{Handler: b.mux}
	return b
}

// Handler exposes the mux, mainly for tests.
func (b *Bridge) Handler() http.Handler { return b.mux }

// Start binds the listener and serves in the background. A bind failure is
// a fatal setup error and is returned synchronously.
func (b *Bridge) Start() error {
	ln, err := net.Listen("tcp", b.addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", b.addr, err)
	}
	b.ln = ln
	b.started = time.Now()
	slog.Info("bridge listening", "addr", ln.Addr().String())
	go func() {
		if err := b.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("bridge server error", "err", err)
		}
	}()
	return nil
}

// Addr returns the bound address, useful when addr was ":0".
func (b *Bridge) Addr() string {
	if b.ln == nil {
		return b.addr
	}
	return b.ln.Addr().String()
}

// Shutdown stops accepting and drains in-flight handlers.
func (b *Bridge) Shutdown(ctx context.Context) error {
	if b.ln == nil {
		return nil
	}
	return b.srv.Shutdown(ctx)
}

type bridgeError struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeBridgeError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(bridgeError{Error: message, Code: code})
}

func (b *Bridge) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeBridgeError(w, http.StatusMethodNotAllowed, rpc.CodeInvalidRequest, "POST required")
		return
	}
	if !b.ready() {
		writeBridgeError(w, http.StatusServiceUnavailable, rpc.CodeNotReady, "transport not ready")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBridgeBody))
	if err != nil {
		writeBridgeError(w, http.StatusBadRequest, rpc.CodeParseError, "failed to read request body")
		return
	}
	msg, err := rpc.Decode(body)
	if err != nil {
		writeBridgeError(w, http.StatusBadRequest, rpc.CodeParseError, "invalid JSON")
		return
	}
	if msg.JSONRPC != rpc.Version || msg.Kind() == rpc.KindInvalid {
		writeBridgeError(w, http.StatusBadRequest, rpc.CodeInvalidRequest, "not a JSON-RPC 2.0 message")
		return
	}

	// Notifications get an immediate acknowledgment; there is no response
	// to wait for.
	if msg.ID == nil {
		if err := b.send(msg); err != nil {
			writeSendError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
		return
	}

	// Register before send: a response must never be able to beat its
	// pending entry into the table.
	ch, err := b.table.Register(msg.ID, b.timeout)
	if err != nil {
		writeBridgeError(w, http.StatusBadRequest, rpc.CodeInvalidRequest, err.Error())
		return
	}
	if err := b.send(msg); err != nil {
		b.table.Unregister(msg.ID)
		writeSendError(w, err)
		return
	}

	select {
	case resp := <-ch:
		b.writeResponse(w, resp)
	case <-r.Context().Done():
		b.table.Unregister(msg.ID)
	}
}

func (b *Bridge) writeResponse(w http.ResponseWriter, resp *rpc.Message) {
	// Locally settled entries carry bridge error codes; map them onto
	// HTTP statuses. Anything else is the server's own response and goes
	// back verbatim.
	if resp.Error != nil {
		switch resp.Error.Code {
		case rpc.CodeTimeout:
			writeBridgeError(w, http.StatusGatewayTimeout, resp.Error.Code, resp.Error.Message)
			return
		case rpc.CodeShuttingDown:
			writeBridgeError(w, http.StatusServiceUnavailable, resp.Error.Code, resp.Error.Message)
			return
		}
	}
	data, err := resp.Encode()
	if err != nil {
		writeBridgeError(w, http.StatusInternalServerError, rpc.CodeInternalError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (b *Bridge) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeBridgeError(w, http.StatusMethodNotAllowed, rpc.CodeInvalidRequest, "GET required")
		return
	}
	status := "not ready"
	if b.ready() {
		status = "ready"
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"uptime": time.Since(b.started).Round(time.Second).String(),
	})
}

func writeSendError(w http.ResponseWriter, err error) {
	if errors.Is(err, transport.ErrNotReady) {
		writeBridgeError(w, http.StatusServiceUnavailable, rpc.CodeNotReady, err.Error())
		return
	}
	writeBridgeError(w, http.StatusInternalServerError, rpc.CodeInternalError, err.Error())
}
