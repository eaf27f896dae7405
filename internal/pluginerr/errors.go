// Package pluginerr defines the error taxonomy shared by the sidecar plugin
// runtime: the envelope codec, peer, RPC loop, plugin facade, and manager all
// report failures through this package so callers can type-switch on a
// closed set of kinds instead of matching error strings.
package pluginerr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies a plugin runtime error.
type Kind int

const (
	// KindIO is an underlying stdio failure. Always fatal to the plugin.
	KindIO Kind = iota
	// KindInternal is a host-side invariant violation.
	KindInternal
	// KindPluginNotConnected means a request was routed to a plugin id that
	// is absent or whose weak reference could not be upgraded.
	KindPluginNotConnected
	// KindPeerDisconnect means an outstanding request was completed by a
	// disconnect rather than a reply.
	KindPeerDisconnect
	// KindInvalidResponse means the response envelope failed to parse.
	KindInvalidResponse
	// KindParseResponse means a domain ResponseParser rejected the JSON.
	KindParseResponse
	// KindRemoteError means the child responded with a structured error.
	KindRemoteError
	// KindTimeout means a readiness wait or per-call deadline was exceeded.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindInternal:
		return "internal"
	case KindPluginNotConnected:
		return "plugin_not_connected"
	case KindPeerDisconnect:
		return "peer_disconnect"
	case KindInvalidResponse:
		return "invalid_response"
	case KindParseResponse:
		return "parse_response"
	case KindRemoteError:
		return "remote_error"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned across the plugin runtime's
// public API. Every caller-visible failure is one of these.
type Error struct {
	Kind    Kind
	Message string
	// Payload carries the raw JSON for KindParseResponse and KindRemoteError,
	// so a caller that wants the original value can still get at it.
	Payload json.RawMessage
	// Cause is the underlying error, if any (e.g. an *os.PathError for
	// KindIO).
	Cause error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is comparisons against sentinel Kind values wrapped in
// an *Error with no message (see the Kind-only sentinels below).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// IO wraps an I/O failure.
func IO(cause error) *Error {
	return &Error{Kind: KindIO, Cause: cause}
}

// Internal wraps a host-side invariant violation.
func Internal(format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...)}
}

// PluginNotConnected reports a request against a plugin id that doesn't
// resolve to a live plugin.
func PluginNotConnected() *Error {
	return &Error{Kind: KindPluginNotConnected, Message: "plugin not connected"}
}

// PeerDisconnect reports a request completed by disconnect.
func PeerDisconnect() *Error {
	return &Error{Kind: KindPeerDisconnect, Message: "peer disconnected"}
}

// InvalidResponse reports a response envelope that failed to parse.
func InvalidResponse(cause error) *Error {
	return &Error{Kind: KindInvalidResponse, Message: "invalid response envelope", Cause: cause}
}

// ParseResponse reports a domain ResponseParser rejecting the payload.
func ParseResponse(payload json.RawMessage) *Error {
	return &Error{Kind: KindParseResponse, Message: "response parser rejected payload", Payload: payload}
}

// RemoteError reports a structured error returned by the child in the
// envelope's "error" field.
func RemoteError(payload json.RawMessage) *Error {
	return &Error{Kind: KindRemoteError, Message: string(payload), Payload: payload}
}

// Timeout reports a readiness wait or per-call deadline exceeded.
func Timeout(format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...)}
}

// sentinels used purely for errors.Is comparisons where callers don't care
// about the message, e.g. errors.Is(err, ErrPeerDisconnect).
var (
	ErrPeerDisconnect      = &Error{Kind: KindPeerDisconnect}
	ErrPluginNotConnected  = &Error{Kind: KindPluginNotConnected}
	ErrTimeout             = &Error{Kind: KindTimeout}
)
