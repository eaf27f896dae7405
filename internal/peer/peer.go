// Package peer implements the shared, reference-counted per-child state
// fronting one plugin's stdio, per spec §3 ("Peer (raw peer)") and §4.2.
//
// A Peer is shared by the RPC loop's read goroutine, its dispatch goroutine,
// and every outstanding request. It owns the pending-response table, the
// inbound rx queue, the timer heap, the monotonic request-id counter, and
// the exclusive-write handle to the child's stdin.
package peer

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quillhive/sidecar/internal/pluginerr"
	"github.com/quillhive/sidecar/internal/readiness"
	"github.com/quillhive/sidecar/internal/wire"
)

// Reply is what a response handler is ultimately invoked with: either a
// JSON value or an error from the pluginerr taxonomy. Done is set only for
// a stream handler's terminal invocation (empty payload, no error); Value
// and Err are both zero in that case.
type Reply struct {
	Value json.RawMessage
	Err   error
	Done  bool
}

// OneShotFunc is invoked exactly once with the result of an async request.
type OneShotFunc func(Reply)

// StreamFunc is invoked for every streaming frame of a stream_request, plus
// once more with Reply.Done set when the stream ends cleanly, so the
// caller can release whatever it's driving with the sequence.
type StreamFunc func(Reply)

type handlerKind int

const (
	handlerChan handlerKind = iota
	handlerOneShot
	handlerStream
)

type handler struct {
	kind     handlerKind
	ch       chan Reply
	oneShot  OneShotFunc
	stream   StreamFunc
}

func (h handler) invoke(r Reply) {
	switch h.kind {
	case handlerChan:
		// Buffered with capacity 1; SendRequest is the only reader and it
		// always receives exactly once.
		h.ch <- r
	case handlerOneShot:
		h.oneShot(r)
	case handlerStream:
		h.stream(r)
	}
}

// DiagSink receives non-JSON diagnostic lines from the child (spec §4.1:
// "surfaced as Message log entries... not as errors").
type DiagSink interface {
	LogLine(raw string)
}

// Peer fronts one plugin's stdio. Create one with New, then drive it from
// an rpcloop.Loop.
type Peer struct {
	writerMu sync.Mutex
	writer   io.Writer

	idCounter int64 // atomic, monotonic, never reused (invariant I2)

	pending sync.Map // int64 -> handler

	timers   *timerQueue
	timersMu sync.Mutex

	rx chan rxItem // FIFO; buffered so the read goroutine blocks only once rxBuffer items are queued

	needsExit atomic.Bool
	blocking  atomic.Int64 // number of SendRequest calls in flight

	gate     *readiness.Gate
	pluginID int64

	diag DiagSink
}

// rxBuffer bounds how many parsed-but-undispatched envelopes can queue up
// before the read goroutine would block. Generous because dispatch is fast
// relative to child I/O; this is not a backpressure mechanism.
const rxBuffer = 256

// rxItem is one entry of the rx queue: either a parsed envelope or a read
// failure, carried through the same FIFO so a read error is observed by the
// dispatch goroutine only after every envelope read ahead of it (spec §4.3).
type rxItem struct {
	obj *wire.Object
	err error
}

// New creates a Peer for the given plugin id, writing outbound envelopes to
// w and publishing lifecycle transitions to gate. diag may be nil.
func New(pluginID int64, w io.Writer, gate *readiness.Gate, diag DiagSink) *Peer {
	return &Peer{
		writer:   w,
		timers:   newTimerQueue(),
		rx:       make(chan rxItem, rxBuffer),
		gate:     gate,
		pluginID: pluginID,
		diag:     diag,
	}
}

// nextID allocates the next monotonic request id.
func (p *Peer) nextID() int64 {
	return atomic.AddInt64(&p.idCounter, 1)
}

// send writes one framed envelope under the writer lock, held only for the
// duration of the write (never across an await point or handler
// invocation).
func (p *Peer) send(line []byte) error {
	p.writerMu.Lock()
	defer p.writerMu.Unlock()
	_, err := p.writer.Write(line)
	return err
}

// SendRaw writes a pre-encoded line verbatim, under the same writer lock as
// every other outbound frame. Used to answer inbound requests from the
// child, which carry their own id and never go through the pending table.
func (p *Peer) SendRaw(line []byte) error {
	return p.send(line)
}

// SendNotification is fire-and-forget: failures are logged, not returned.
func (p *Peer) SendNotification(method string, params any) {
	line, err := wire.EncodeNotification(method, params)
	if err != nil {
		log.Printf("peer: encode notification %s: %v", method, err)
		return
	}
	if err := p.send(line); err != nil {
		log.Printf("peer: send notification %s: %v", method, err)
	}
}

// sendRPC is the common path for all three request shapes: allocate an id,
// write the envelope, and either register the handler (on success) or
// invoke it immediately with an I/O error (on write failure) — the handler
// is never inserted into the pending table in that case.
func (p *Peer) sendRPC(method string, params any, h handler) int64 {
	id := p.nextID()
	line, err := wire.EncodeRequest(id, method, params)
	if err != nil {
		h.invoke(Reply{Err: pluginerr.Internal("encode request %s: %v", method, err)})
		return id
	}
	if err := p.send(line); err != nil {
		h.invoke(Reply{Err: pluginerr.IO(err)})
		return id
	}
	p.pending.Store(id, h)
	return id
}

// SendRequest blocks the calling goroutine until a reply is received or the
// peer disconnects.
func (p *Peer) SendRequest(method string, params any) (json.RawMessage, error) {
	ch := make(chan Reply, 1)
	p.blocking.Add(1)
	defer p.blocking.Add(-1)
	p.sendRPC(method, params, handler{kind: handlerChan, ch: ch})
	reply := <-ch
	return reply.Value, reply.Err
}

// AsyncSendRequest is non-blocking; oneShot is invoked exactly once.
func (p *Peer) AsyncSendRequest(method string, params any, oneShot OneShotFunc) {
	p.sendRPC(method, params, handler{kind: handlerOneShot, oneShot: oneShot})
}

// StreamRequest installs a multi-shot callback, invoked for every streaming
// frame until the terminal frame or disconnect.
func (p *Peer) StreamRequest(method string, params any, cb StreamFunc) {
	p.sendRPC(method, params, handler{kind: handlerStream, stream: cb})
}

// ScheduleTimer enqueues a timer; when it fires, the dispatch loop delivers
// token to the handler's idle hook.
func (p *Peer) ScheduleTimer(after time.Duration, token int) {
	p.timersMu.Lock()
	defer p.timersMu.Unlock()
	p.timers.schedule(after, token)
}

// CheckTimers peeks the soonest timer. See timerQueue.checkDue.
func (p *Peer) CheckTimers() (token int, ok bool, wait time.Duration, hasNext bool) {
	p.timersMu.Lock()
	defer p.timersMu.Unlock()
	return p.timers.checkDue()
}

// RequestIsPending reports whether the rx queue is non-empty.
func (p *Peer) RequestIsPending() bool {
	return len(p.rx) > 0
}

// PutObject enqueues a parsed inbound envelope for the dispatch loop.
func (p *Peer) PutObject(obj *wire.Object) {
	p.rx <- rxItem{obj: obj}
}

// PutError enqueues a read failure for the dispatch loop to observe once it
// has worked through every envelope queued ahead of it, preserving wire
// order instead of dropping already-received responses. Callers that have a
// synchronous caller parked (IsBlocking) should fail it directly instead of
// calling this, per spec §4.3.
func (p *Peer) PutError(err error) {
	p.rx <- rxItem{err: err}
}

// TryNextObject pops without blocking. ok is false only when the queue is
// empty; a queued read failure is reported as (nil, err, true).
func (p *Peer) TryNextObject() (*wire.Object, error, bool) {
	select {
	case it := <-p.rx:
		return it.obj, it.err, true
	default:
		return nil, nil, false
	}
}

// NextObjectTimeout pops, blocking for at most d.
func (p *Peer) NextObjectTimeout(d time.Duration) (*wire.Object, error, bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case it := <-p.rx:
		return it.obj, it.err, true
	case <-timer.C:
		return nil, nil, false
	}
}

// Gate returns the peer's readiness broadcast, so higher layers (Plugin,
// Manager) can subscribe without reaching into unexported fields.
func (p *Peer) Gate() *readiness.Gate { return p.gate }

// IsBlocking reports whether a synchronous SendRequest is currently
// outstanding. The read goroutine uses this to decide whether a read error
// should fast-fail the blocked caller directly or be queued in order.
func (p *Peer) IsBlocking() bool { return p.blocking.Load() > 0 }

// NeedsExit reports whether shutdown/unexpected disconnect has been
// initiated; both loop goroutines check this at their next iteration.
func (p *Peer) NeedsExit() bool { return p.needsExit.Load() }

// ResetNeedsExit clears the exit flag. rpcloop.Loop.Run does not call it.
func (p *Peer) ResetNeedsExit() { p.needsExit.Store(false) }

// NotifyRunning publishes PhaseRunning on first contact from the child.
// Idempotent: the gate itself no-ops a Running->Running transition.
func (p *Peer) NotifyRunning() {
	p.gate.Send(readiness.State{Phase: readiness.PhaseRunning, PluginID: p.pluginID})
}

// HandleResponse routes an inbound response envelope to its handler,
// implementing the re-insertion rule for streaming frames (spec §4.2):
// a non-terminal streaming frame's callback is reinstalled; a terminal
// frame (empty payload) or an error frame removes it for good, and in the
// terminal-frame case invokes the callback once more with Reply.Done set
// so the consumer learns the stream ended cleanly rather than hanging.
func (p *Peer) HandleResponse(obj *wire.Object) {
	if obj.ID == nil {
		log.Printf("peer: response with no id, dropped")
		return
	}
	id := *obj.ID
	v, ok := p.pending.LoadAndDelete(id)
	if !ok {
		log.Printf("peer: response for unknown id %d, dropped", id)
		return
	}
	h := v.(handler)

	hasError := len(obj.Error) > 0
	isTerminal := !hasError && string(obj.Result) == "null"

	if h.kind != handlerStream {
		if hasError {
			h.invoke(Reply{Err: pluginerr.RemoteError(obj.Error)})
		} else {
			h.invoke(Reply{Value: obj.Result})
		}
		return
	}

	// Streaming handler.
	switch {
	case hasError:
		h.invoke(Reply{Err: pluginerr.RemoteError(obj.Error)})
	case isTerminal:
		h.invoke(Reply{Done: true})
	default:
		h.invoke(Reply{Value: obj.Result})
		p.pending.Store(id, h)
	}
}

// Shutdown performs graceful disconnect: publish Stopped, fail every
// outstanding handler with PeerDisconnect, and mark needs-exit.
func (p *Peer) Shutdown() {
	p.disconnect(readiness.State{Phase: readiness.PhaseStopped, PluginID: p.pluginID})
}

// UnexpectedDisconnect performs disconnect due to a read error, end of input
// without the shutdown sentinel, or a dispatch-loop panic. The shutdown
// sentinel goes through Shutdown instead.
func (p *Peer) UnexpectedDisconnect(cause error) {
	log.Printf("peer: unexpected disconnect for plugin %d: %v", p.pluginID, cause)
	p.disconnect(readiness.State{Phase: readiness.PhaseUnexpectedStop, PluginID: p.pluginID})
}

func (p *Peer) disconnect(state readiness.State) {
	p.gate.Send(state)

	var ids []int64
	p.pending.Range(func(key, _ any) bool {
		ids = append(ids, key.(int64))
		return true
	})
	for _, id := range ids {
		if v, ok := p.pending.LoadAndDelete(id); ok {
			v.(handler).invoke(Reply{Err: pluginerr.PeerDisconnect()})
		}
	}

	p.needsExit.Store(true)
}

// LogDiagnostic records a non-JSON line from the child, if a sink is wired.
func (p *Peer) LogDiagnostic(raw string) {
	if p.diag != nil {
		p.diag.LogLine(raw)
	}
}

// waitWithContext waits for one Reply on ch or for ctx to end, whichever
// comes first. Nothing in this module calls it.
func waitWithContext(ctx context.Context, ch <-chan Reply) (Reply, error) {
	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}
