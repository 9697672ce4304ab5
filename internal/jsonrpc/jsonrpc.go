// Package jsonrpc defines the discriminated JSON-RPC 2.0 message shapes used
// over the MCP transport (§3, §6): requests, notifications, responses, and
// errors. Batches are explicitly rejected, per §3.
package jsonrpc

import (
	"encoding/json"

	perr "fetchmcp/internal/platform/errors"
)

const Version = "2.0"

// Error codes used on the wire, per §6
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeServerError    = -32000
	CodeInternalError  = -32603
)

// ID is a JSON-RPC id: a string, a number, or absent (for notifications).
// It round-trips through json.RawMessage to preserve the caller's original
// type without forcing a float64/string decision.
type ID struct {
	raw json.RawMessage
}

// MarshalJSON implements json.Marshaler
func (i ID) MarshalJSON() ([]byte, error) {
	if i.raw == nil {
		return []byte("null"), nil
	}
	return i.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler
func (i *ID) UnmarshalJSON(data []byte) error {
	i.raw = append(json.RawMessage(nil), data...)
	return nil
}

// IsZero reports whether the id was never set (a notification)
func (i ID) IsZero() bool { return len(i.raw) == 0 }

// Message is the envelope shape shared by every JSON-RPC body this service
// accepts or produces. Exactly one of (Method set) or (Result/Error set) is
// meaningful for a given message kind; Kind reports which.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// MarshalJSON implements json.Marshaler. A notification (method set, id
// never set) is encoded without an id member; every other message carries
// its id, with an unset id encoded as null.
func (m Message) MarshalJSON() ([]byte, error) {
	type envelope Message
	if m.Method != "" && m.ID.IsZero() {
		return json.Marshal(struct {
			envelope
			ID *ID `json:"id,omitempty"`
		}{envelope: envelope(m)})
	}
	return json.Marshal(envelope(m))
}

// ErrorObject is the JSON-RPC error member
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Kind classifies a decoded Message
type Kind int

const (
	KindRequest Kind = iota
	KindNotification
	KindResponse
	KindError
)

// Classify reports which of the four message kinds m is
func (m Message) Classify() Kind {
	switch {
	case m.Error != nil:
		return KindError
	case m.Method != "" && m.ID.IsZero():
		return KindNotification
	case m.Method != "":
		return KindRequest
	default:
		return KindResponse
	}
}

// Decode parses one JSON-RPC message from body. A JSON array (batch) is
// rejected outright, per §3; malformed JSON yields a ParseError-coded error.
func Decode(body []byte) (Message, error) {
	trimmed := skipLeadingWhitespace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return Message{}, perr.WithStage(perr.Validationf("batch requests are not supported"), "jsonrpc:decode")
	}

	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, perr.WithStage(perr.Wrapf(err, perr.ErrorCodeParseError, "invalid JSON-RPC body"), "jsonrpc:decode")
	}
	if m.JSONRPC != Version {
		return Message{}, perr.WithStage(perr.Validationf("unsupported jsonrpc version %q", m.JSONRPC), "jsonrpc:decode")
	}
	return m, nil
}

func skipLeadingWhitespace(b []byte) []byte {
	i := 0
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return b[i:]
		}
	}
	return b[i:]
}

// CodeToWire maps one of our internal error codes to the JSON-RPC integer
// code for the wire, per §6 ("-32700 parse, -32600 invalid request (incl.
// session not found, unsupported protocol version), -32000 server busy /
// bad request").
func CodeToWire(c perr.ErrorCode) int {
	switch c {
	case perr.ErrorCodeParseError:
		return CodeParseError
	case perr.ErrorCodeValidation, perr.ErrorCodeSessionNotFound:
		return CodeInvalidRequest
	case perr.ErrorCodeServerBusy:
		return CodeServerError
	case perr.ErrorCodePanic, perr.ErrorCodeInternal, perr.ErrorCodeUnknown:
		return CodeInternalError
	default:
		return CodeServerError
	}
}

// NewResponse builds a successful JSON-RPC response envelope
func NewResponse(id ID, result any) (Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Message{}, err
	}
	return Message{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewNotification builds a server-initiated notification envelope (no id,
// no response expected), used for resources/list_changed pushes over the
// SSE transport
func NewNotification(method string, params any) (Message, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Message{}, err
	}
	return Message{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewError builds an error response envelope from a structured error,
// mapping its internal code onto the wire code
func NewError(id ID, err error) Message {
	wire := perr.WireFrom(err)
	return Message{
		JSONRPC: Version,
		ID:      id,
		Error: &ErrorObject{
			Code:    CodeToWire(wire.Code),
			Message: wire.Message,
			Data:    wireDataFrom(wire),
		},
	}
}

func wireDataFrom(w perr.Wire) any {
	if w.Field == "" && w.Stage == "" {
		return nil
	}
	data := map[string]string{}
	if w.Field != "" {
		data["field"] = w.Field
	}
	if w.Stage != "" {
		data["stage"] = w.Stage
	}
	return data
}
