// Package rpc implements the JSON-RPC plumbing shared by every transport:
// the message union, newline framing, id normalization, and the
// pending-request table that correlates requests to responses.
package rpc

import (
	"encoding/json"
	"fmt"
)

// Version is the only JSON-RPC protocol version MCP speaks.
const Version = "2.0"

// Standard JSON-RPC error codes plus the server-range codes the bridge uses.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeNotReady     = -32001
	CodeClosed       = -32002
	CodeTimeout      = -32003
	CodeShuttingDown = -32004
)

// Error is a JSON-RPC error object. It doubles as a Go error so transports
// can return it directly.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Message is the JSON-RPC wire union. Which fields are set determines the
// kind: requests carry id+method, notifications method only, responses
// id+result, error responses id+error.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Kind classifies a Message by its populated fields.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindNotification
	KindResponse
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	case KindError:
		return "error"
	default:
		return "invalid"
	}
}

// Kind returns the message kind. A message with neither method nor id is
// invalid; callers log and skip those.
func (m *Message) Kind() Kind {
	switch {
	case m.Method != "" && m.ID != nil:
		return KindRequest
	case m.Method != "":
		return KindNotification
	case m.Error != nil && m.ID != nil:
		return KindError
	case m.ID != nil:
		return KindResponse
	default:
		return KindInvalid
	}
}

// IsPing reports whether the message is an MCP ping request. Ping traffic is
// excluded from idle-activity accounting.
func (m *Message) IsPing() bool { return m.Method == "ping" }

// NewRequest builds a request message. params may be nil.
func NewRequest(id any, method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification (no id, no response expected).
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewErrorResponse builds an error response for the given id. A nil id
// (the request's id was undecodable) is encoded as an explicit JSON null,
// which the spec requires on error responses to unparseable requests.
func NewErrorResponse(id any, code int, message string) *Message {
	if id == nil {
		id = json.RawMessage("null")
	}
	return &Message{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message}}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}

// Decode parses one framed line into a Message.
func Decode(line []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, fmt.Errorf("decode jsonrpc message: %w", err)
	}
	return &m, nil
}

// Encode marshals the message without a trailing newline; transports append
// their own framing.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode jsonrpc message: %w", err)
	}
	return data, nil
}

// IDKey normalizes a JSON-RPC id to a string key. Numeric and string ids are
// both legal, and a numeric id decodes as float64, so "42" and 42 must land
// on the same key for request/response pairing.
func IDKey(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		data, _ := json.Marshal(v)
		return string(data)
	}
}
