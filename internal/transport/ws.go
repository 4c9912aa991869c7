package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcpipe/mcpipe/internal/rpc"
)

// WSConfig describes a WebSocket MCP endpoint (ws:// or wss:// server
// entries).
type WSConfig struct {
	URL     string
	Headers map[string]string
}

// WS carries JSON-RPC messages over a WebSocket connection, one message per
// text frame.
type WS struct {
	lifecycle
	cfg WSConfig

	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewWS builds a WebSocket transport. The URL must be set.
func NewWS(cfg WSConfig, events Events) (*WS, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: websocket transport requires a url", ErrInvalidConfig)
	}
	t := &WS{cfg: cfg}
	t.name = "ws:" + cfg.URL
	t.events = events
	return t, nil
}

// Connect dials the endpoint and starts the read loop.
func (t *WS) Connect(ctx context.Context) error {
	t.setState(StateConnecting)

	header := http.Header{}
	for k, v := range t.cfg.Headers {
		header.Set(k, v)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.cfg.URL, header)
	if err != nil {
		t.setState(StateClosed)
		return fmt.Errorf("dial %s: %w", t.cfg.URL, err)
	}
	t.conn = conn
	t.setState(StateReady)

	go t.readLoop()
	return nil
}

// Send writes one message as a text frame.
func (t *WS) Send(msg *rpc.Message) error {
	if !t.ready() {
		return ErrNotReady
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close performs the close handshake best-effort and tears the socket down.
func (t *WS) Close() error {
	if t.State() == StateClosed {
		return nil
	}
	t.setState(StateClosing)

	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()

	err := t.conn.Close()
	t.emitClose(nil)
	return err
}

func (t *WS) readLoop() {
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			if t.State() == StateClosing || t.State() == StateClosed {
				t.emitClose(nil)
			} else {
				t.emitClose(fmt.Errorf("read frame: %w", err))
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		msg, derr := rpc.Decode(data)
		if derr != nil {
			slog.Warn("skipping unparseable frame", "err", derr)
			continue
		}
		t.emitMessage(msg)
	}
}
