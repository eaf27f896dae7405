// Package plugin implements the Plugin facade of spec §4.4: the
// caller-facing handle for one running child, wrapping its Peer with typed
// request/async/stream helpers and a serialized initialize handshake.
package plugin

import (
	"encoding/json"
	"sync"

	"github.com/quillhive/sidecar/internal/peer"
	"github.com/quillhive/sidecar/internal/pluginerr"
	"github.com/quillhive/sidecar/internal/readiness"
	"github.com/quillhive/sidecar/internal/stream"
)

// ResponseParser is the polymorphism point domain packages implement to
// turn a raw JSON result into a typed value — spec §4.4's "empty-ack,
// nested data extractor, raw-bytes, or string-encoded-JSON" family,
// concretely realized in internal/chatops.
type ResponseParser[T any] interface {
	ParseResponse(raw json.RawMessage) (T, error)
}

// ParserFunc adapts a plain function to ResponseParser.
type ParserFunc[T any] func(json.RawMessage) (T, error)

// ParseResponse implements ResponseParser.
func (f ParserFunc[T]) ParseResponse(raw json.RawMessage) (T, error) { return f(raw) }

// Plugin is the caller-facing handle for one running child.
type Plugin struct {
	ID   int64
	Name string

	peer *peer.Peer

	initMu      sync.Mutex
	initialized bool
	initResult  json.RawMessage
	initErr     error
}

// New wraps a peer into a named Plugin handle.
func New(id int64, name string, p *peer.Peer) *Plugin {
	return &Plugin{ID: id, Name: name, peer: p}
}

// Initialize sends the plugin's one-time "initialize" handshake, serialized
// per plugin with a mutex (spec §9 Open Question resolution): a concurrent
// second call blocks behind the first and then reuses its outcome rather
// than racing a duplicate handshake onto the wire.
func (pl *Plugin) Initialize(payload any) (json.RawMessage, error) {
	pl.initMu.Lock()
	defer pl.initMu.Unlock()
	if pl.initialized {
		return pl.initResult, pl.initErr
	}
	result, err := pl.peer.SendRequest("initialize", payload)
	pl.initialized = true
	pl.initResult, pl.initErr = result, err
	return result, err
}

// Request performs a blocking request and parses the result with parser.
func Request[T any](pl *Plugin, method string, params any, parser ResponseParser[T]) (T, error) {
	var zero T
	raw, err := pl.peer.SendRequest(method, params)
	if err != nil {
		return zero, err
	}
	v, err := parser.ParseResponse(raw)
	if err != nil {
		return zero, pluginerr.ParseResponse(raw)
	}
	return v, nil
}

// AsyncRequest performs a non-blocking request, delivering the parsed
// result (or error) to done exactly once.
func AsyncRequest[T any](pl *Plugin, method string, params any, parser ResponseParser[T], done func(T, error)) {
	pl.peer.AsyncSendRequest(method, params, func(r peer.Reply) {
		if r.Err != nil {
			var zero T
			done(zero, r.Err)
			return
		}
		v, err := parser.ParseResponse(r.Value)
		if err != nil {
			var zero T
			done(zero, pluginerr.ParseResponse(r.Value))
			return
		}
		done(v, nil)
	})
}

// StreamRequest installs a streaming request and returns the consumer-facing
// sequence. Each frame is parsed with parser as it arrives; a remote error
// fails the sequence, and the terminal frame closes it cleanly.
func StreamRequest[T any](pl *Plugin, method string, params any, parser ResponseParser[T], buffer int) *stream.Stream[T] {
	s := stream.New[T](buffer)
	// The peer keeps the handler installed after a frame that fails to
	// parse, so later frames are dropped once the stream has failed.
	failed := false
	pl.peer.StreamRequest(method, params, func(r peer.Reply) {
		if r.Done {
			s.Close()
			return
		}
		if failed {
			return
		}
		if r.Err != nil {
			s.Fail(r.Err)
			return
		}
		v, err := parser.ParseResponse(r.Value)
		if err != nil {
			failed = true
			s.Fail(pluginerr.ParseResponse(r.Value))
			return
		}
		s.Send(v)
	})
	return s
}

// SendNotification is fire-and-forget.
func (pl *Plugin) SendNotification(method string, params any) {
	pl.peer.SendNotification(method, params)
}

// SubscribeRunningState exposes the plugin's readiness broadcast.
func (pl *Plugin) SubscribeRunningState() *readiness.Subscription {
	return pl.peer.Gate().Subscribe()
}

// WaitUntilReady blocks until the plugin reaches Running or a terminal
// state, or the 30s readiness deadline elapses.
func (pl *Plugin) WaitUntilReady() error {
	return readiness.WaitUntilReady(pl.peer.Gate())
}

// RunningState returns the plugin's current lifecycle state without
// subscribing.
func (pl *Plugin) RunningState() readiness.State {
	return pl.peer.Gate().Current()
}

// Shutdown asks the child to stop by disconnecting its peer, failing any
// outstanding requests with PeerDisconnect.
func (pl *Plugin) Shutdown() {
	pl.peer.Shutdown()
}
