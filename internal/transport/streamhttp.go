package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/mcpipe/mcpipe/internal/rpc"
)

const sessionHeader = "Mcp-Session-Id"

// StreamConfig describes a remote streamable-HTTP MCP endpoint.
type StreamConfig struct {
	// URL is the server's /mcp endpoint.
	URL string
	// Headers are added to every request (API keys, etc).
	Headers map[string]string
	// SessionID resumes a server-assigned session from a previous
	// connection. Left empty for a fresh session.
	SessionID string
	// Client overrides the HTTP client. Defaults to one with no overall
	// timeout, since SSE response bodies are long-lived.
	Client *http.Client
}

// StreamHTTP speaks the MCP streamable-HTTP transport: every outbound
// message is an HTTP POST; responses arrive either as a JSON body, as an
// SSE stream on the POST response, or on a standalone GET stream the server
// uses for server-initiated traffic. A server-assigned session id is echoed
// on every subsequent request and survives reconnects.
type StreamHTTP struct {
	lifecycle
	cfg    StreamConfig
	client *http.Client

	ctx    context.Context
	cancel context.CancelFunc

	sessionMu sync.Mutex
	sessionID string
}

// NewStreamHTTP builds a streamable-HTTP transport. The URL must be set.
func NewStreamHTTP(cfg StreamConfig, events Events) (*StreamHTTP, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: streamable-http transport requires a url", ErrInvalidConfig)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	t := &StreamHTTP{cfg: cfg, client: client, sessionID: cfg.SessionID}
	t.name = "streamable-http:" + cfg.URL
	t.events = events
	return t, nil
}

// SessionID returns the server-assigned session id, if any. The runner
// carries it into the replacement transport on reconnect.
func (t *StreamHTTP) SessionID() string {
	t.sessionMu.Lock()
	defer t.sessionMu.Unlock()
	return t.sessionID
}

// Connect opens the standalone GET stream for server-initiated messages and
// marks the transport ready. The connection context is detached from ctx so
// the stream outlives the caller's connect deadline.
func (t *StreamHTTP) Connect(_ context.Context) error {
	t.setState(StateConnecting)
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.setState(StateReady)
	go t.listenLoop()
	return nil
}

// Send POSTs one message. The HTTP round trip runs in its own goroutine:
// responses are correlated by id, not by request ordering, and a slow call
// must not block the send path.
func (t *StreamHTTP) Send(msg *rpc.Message) error {
	if !t.ready() {
		return ErrNotReady
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	go t.post(data)
	return nil
}

// Close terminates the session best-effort (HTTP DELETE) and tears down the
// standalone stream. Errors during termination are logged only.
func (t *StreamHTTP) Close() error {
	if t.State() == StateClosed {
		return nil
	}
	t.setState(StateClosing)

	if sid := t.SessionID(); sid != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.cfg.URL, nil)
		if err == nil {
			t.setHeaders(req)
			if resp, derr := t.client.Do(req); derr != nil {
				slog.Warn("session termination failed", "session", sid, "err", derr)
			} else {
				resp.Body.Close()
				slog.Info("session terminated", "session", sid)
			}
		}
	}

	if t.cancel != nil {
		t.cancel()
	}
	t.emitClose(nil)
	return nil
}

func (t *StreamHTTP) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}
	if sid := t.SessionID(); sid != "" {
		req.Header.Set(sessionHeader, sid)
	}
}

func (t *StreamHTTP) captureSession(resp *http.Response) {
	sid := resp.Header.Get(sessionHeader)
	if sid == "" {
		return
	}
	t.sessionMu.Lock()
	if t.sessionID != sid {
		t.sessionID = sid
		slog.Info("session assigned", "session", sid)
	}
	t.sessionMu.Unlock()
}

// post performs one message POST and routes whatever the server answers
// with. Transport-level failures surface via OnError; the id correlation
// upstream turns missing responses into per-request timeouts.
func (t *StreamHTTP) post(data []byte) {
	req, err := http.NewRequestWithContext(t.ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(data))
	if err != nil {
		t.emitError(fmt.Errorf("build request: %w", err))
		return
	}
	t.setHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		if t.ctx.Err() == nil {
			t.emitError(fmt.Errorf("post message: %w", err))
		}
		return
	}
	defer resp.Body.Close()
	t.captureSession(resp)

	switch {
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent:
		// Notification or response accepted; nothing to read.
		io.Copy(io.Discard, resp.Body)
	case resp.StatusCode == http.StatusNotFound && t.SessionID() != "":
		// Server dropped the session: the connection is dead.
		slog.Warn("session no longer known to server", "session", t.SessionID())
		t.emitClose(fmt.Errorf("session terminated by server"))
	case resp.StatusCode/100 != 2:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		t.emitError(fmt.Errorf("post message: status %d: %s", resp.StatusCode, body))
	default:
		t.consumeBody(resp)
	}
}

// consumeBody handles the two success shapes: a single JSON message, or an
// SSE stream carrying any number of messages.
func (t *StreamHTTP) consumeBody(resp *http.Response) {
	ctype, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch ctype {
	case "text/event-stream":
		err := readSSE(resp.Body, func(ev sseEvent) {
			if ev.name != "" && ev.name != "message" {
				return
			}
			t.handleLine([]byte(ev.data))
		})
		if err != nil && t.ctx.Err() == nil {
			t.emitError(fmt.Errorf("read response stream: %w", err))
		}
	default:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.emitError(fmt.Errorf("read response body: %w", err))
			return
		}
		t.handleLine(body)
	}
}

func (t *StreamHTTP) handleLine(line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	msg, err := rpc.Decode(line)
	if err != nil {
		slog.Warn("skipping unparseable server message", "err", err)
		return
	}
	t.emitMessage(msg)
}

// listenLoop maintains the standalone GET stream for server-initiated
// messages. Servers without one answer 405, which ends the loop quietly.
// An unexpected mid-stream failure closes the transport so the reconnect
// policy can rebuild it.
func (t *StreamHTTP) listenLoop() {
	req, err := http.NewRequestWithContext(t.ctx, http.MethodGet, t.cfg.URL, nil)
	if err != nil {
		return
	}
	t.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		if t.ctx.Err() == nil {
			t.emitClose(fmt.Errorf("open event stream: %w", err))
		}
		return
	}
	defer resp.Body.Close()
	t.captureSession(resp)

	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotFound {
		slog.Info("server offers no standalone event stream", "status", resp.StatusCode)
		return
	}
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		t.emitClose(fmt.Errorf("event stream status %d: %s", resp.StatusCode, body))
		return
	}

	err = readSSE(resp.Body, func(ev sseEvent) {
		if ev.name != "" && ev.name != "message" {
			return
		}
		t.handleLine([]byte(ev.data))
	})
	if t.ctx.Err() != nil {
		return // local close already handled
	}
	if err != nil {
		t.emitClose(fmt.Errorf("event stream interrupted: %w", err))
	} else {
		t.emitClose(fmt.Errorf("event stream ended by server"))
	}
}
