package runner

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcpipe/mcpipe/internal/rpc"
)

// Tunnel connects a session to a remote playground over WebSocket: requests
// arriving on the socket are forwarded to the transport and their correlated
// responses written back. It shares the pending table with the rest of the
// session, so tunnel requests obey the same timeout and shutdown semantics
// as bridge requests.
type Tunnel struct {
	url     string
	headers map[string]string
	table   *rpc.Table
	send    func(*rpc.Message) error
	timeout time.Duration

	writeMu sync.Mutex
	conn    *websocket.Conn
}

// NewTunnel wires a tunnel over the given pending table and send function.
func NewTunnel(url string, headers map[string]string, table *rpc.Table, send func(*rpc.Message) error, timeout time.Duration) (*Tunnel, error) {
	if url == "" {
		return nil, fmt.Errorf("tunnel requires a url")
	}
	if timeout <= 0 {
		timeout = rpc.DefaultCallTimeout
	}
	return &Tunnel{url: url, headers: headers, table: table, send: send, timeout: timeout}, nil
}

// Run dials the remote endpoint and relays until ctx is cancelled or the
// socket fails.
func (t *Tunnel) Run(ctx context.Context) error {
	header := http.Header{}
	for k, v := range t.headers {
		header.Set(k, v)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, header)
	if err != nil {
		return fmt.Errorf("dial tunnel %s: %w", t.url, err)
	}
	t.conn = conn

	go func() {
		<-ctx.Done()
		t.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		t.writeMu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("tunnel read: %w", err)
		}
		msg, err := rpc.Decode(data)
		if err != nil {
			t.writeError(nil, rpc.CodeParseError, "invalid JSON")
			continue
		}
		t.handle(msg)
	}
}

func (t *Tunnel) handle(msg *rpc.Message) {
	if msg.ID == nil {
		if err := t.send(msg); err != nil {
			t.writeError(nil, rpc.CodeNotReady, err.Error())
		}
		return
	}

	ch, err := t.table.Register(msg.ID, t.timeout)
	if err != nil {
		t.writeError(msg.ID, rpc.CodeInvalidRequest, err.Error())
		return
	}
	if err := t.send(msg); err != nil {
		t.table.Unregister(msg.ID)
		t.writeError(msg.ID, rpc.CodeNotReady, err.Error())
		return
	}
	go func() {
		resp := <-ch
		t.writeMsg(resp)
	}()
}

func (t *Tunnel) writeMsg(msg *rpc.Message) {
	data, err := msg.Encode()
	if err != nil {
		return
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *Tunnel) writeError(id any, code int, reason string) {
	t.writeMsg(rpc.NewErrorResponse(id, code, reason))
}
