// Package wire implements the envelope codec for the sidecar plugin
// protocol: UTF-8 JSON objects, one per newline-terminated line, classified
// as a request, response, notification, shutdown sentinel, or diagnostic
// log line (malformed lines are classified as diagnostic log lines).
//
// Wire format (bit-exact):
//
//	Request:      {"id": <u64>, "method": "<string>", "params": <value>}
//	Notification: {"method": "<string>", "params": <value>}            (no id)
//	Response ok:  {"id": <u64>, "result": <value>}
//	Response err: {"id": <u64>, "error": <value>}
package wire

import (
	"bytes"
	"encoding/json"
)

// ShutdownMethod is the well-known method name used as the shutdown
// sentinel. A notification (no id) carrying this method tells the host the
// child is about to exit on its own terms.
const ShutdownMethod = "$/shutdown"

// Kind classifies a parsed line.
type Kind int

const (
	// KindMessage is a diagnostic log line: the raw text didn't parse as a
	// JSON object, so it's surfaced verbatim rather than treated as an error.
	KindMessage Kind = iota
	KindRequest
	KindResponse
	KindNotification
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	case KindShutdown:
		return "shutdown"
	default:
		return "message"
	}
}

// Object is a parsed inbound envelope.
type Object struct {
	Kind Kind

	// ID is non-nil for requests and responses.
	ID *int64

	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  json.RawMessage

	// Raw is the original line, exactly as read. Populated only for
	// KindMessage entries.
	Raw string
}

// IsResponse reports whether this envelope is a response (success or error).
func (o *Object) IsResponse() bool { return o.Kind == KindResponse }

// IsShutdown reports whether this envelope is the shutdown sentinel.
func (o *Object) IsShutdown() bool { return o.Kind == KindShutdown }

// wireEnvelope is the on-wire shape used for decode/encode.
type wireEnvelope struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// Parse classifies a single line per the rules in §4.1:
//   - non-JSON or non-object lines become a KindMessage carrying the raw text
//   - an object with result/error and a numeric id is a response
//   - an object with method (and, conventionally, params) and an id is a
//     request; without an id it's a notification
//   - a notification whose method is ShutdownMethod is the shutdown sentinel
//
// Parse never returns an error: malformed input is represented as data
// (KindMessage), matching the spec's "surfaced as log entries, not errors."
func Parse(line []byte) *Object {
	trimmed := bytes.TrimSpace(line)

	var raw json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil || !looksLikeObject(trimmed) {
		return &Object{Kind: KindMessage, Raw: string(line)}
	}

	var env wireEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return &Object{Kind: KindMessage, Raw: string(line)}
	}

	hasResult := len(env.Result) > 0
	hasError := len(env.Error) > 0

	switch {
	case env.ID != nil && (hasResult || hasError):
		return &Object{Kind: KindResponse, ID: env.ID, Result: env.Result, Error: env.Error}
	case env.Method == ShutdownMethod:
		return &Object{Kind: KindShutdown, Method: env.Method, Params: env.Params}
	case env.Method != "" && env.ID != nil:
		return &Object{Kind: KindRequest, ID: env.ID, Method: env.Method, Params: env.Params}
	case env.Method != "":
		return &Object{Kind: KindNotification, Method: env.Method, Params: env.Params}
	default:
		return &Object{Kind: KindMessage, Raw: string(line)}
	}
}

func looksLikeObject(b []byte) bool {
	return len(b) > 0 && b[0] == '{'
}

// EncodeRequest serializes a request envelope followed by exactly one '\n'.
func EncodeRequest(id int64, method string, params any) ([]byte, error) {
	p, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return encode(wireEnvelope{ID: &id, Method: method, Params: p})
}

// EncodeNotification serializes a notification envelope (no id).
func EncodeNotification(method string, params any) ([]byte, error) {
	p, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return encode(wireEnvelope{Method: method, Params: p})
}

// EncodeResult serializes a successful response envelope.
func EncodeResult(id int64, result any) ([]byte, error) {
	r, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return encode(wireEnvelope{ID: &id, Result: r})
}

// EncodeError serializes an error response envelope.
func EncodeError(id int64, errPayload any) ([]byte, error) {
	e, err := json.Marshal(errPayload)
	if err != nil {
		return nil, err
	}
	return encode(wireEnvelope{ID: &id, Error: e})
}

func encode(env wireEnvelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
