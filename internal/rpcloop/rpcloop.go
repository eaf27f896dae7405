// Package rpcloop drives one plugin's stdio: a read goroutine that turns
// lines into wire.Objects and a dispatch goroutine that routes them to the
// peer's pending table or to host-side request/notification handlers, per
// spec §4.3 ("RPC loop").
package rpcloop

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quillhive/sidecar/internal/peer"
	"github.com/quillhive/sidecar/internal/wire"
)

// maxIdleWait bounds how long the dispatch goroutine blocks waiting on the
// rx queue before re-checking the timer heap, mirroring the original
// MAX_IDLE_WAIT poll interval.
const maxIdleWait = 5 * time.Millisecond

// RequestHandler answers inbound requests from the child (host-exposed RPC
// methods). Implementations run on the dispatch goroutine and must not
// block indefinitely.
type RequestHandler interface {
	HandleRequest(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
}

// NotificationHandler observes inbound notifications from the child.
type NotificationHandler interface {
	HandleNotification(method string, params json.RawMessage)
}

// TimerFunc is invoked on the dispatch goroutine when a scheduled timer
// fires, carrying the token supplied to peer.Peer.ScheduleTimer.
type TimerFunc func(token int)

// Loop pairs a peer.Peer with the child's stdio and drives both the read
// and dispatch sides of the protocol until disconnect.
type Loop struct {
	Peer *peer.Peer

	Requests      RequestHandler
	Notifications NotificationHandler
	OnTimer       TimerFunc

	reader *bufio.Scanner
}

// New builds a Loop reading lines from r. Requests, Notifications, and
// OnTimer may all be left nil.
func New(p *peer.Peer, r io.Reader) *Loop {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Loop{Peer: p, reader: scanner}
}

// Run blocks until both goroutines have returned. The dispatch goroutine
// returns at its next iteration once the peer's needs-exit flag is set, ctx
// is cancelled, or it recovers a panic; the read goroutine returns after the
// shutdown sentinel, at end of input or on a read error, and otherwise stays
// blocked reading the next line. A panic in the read goroutine is not
// recovered.
func (l *Loop) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.readLoop(ctx) })
	g.Go(func() error { return l.dispatchLoop(ctx) })
	return g.Wait()
}

// readLoop scans lines, classifies them, and either queues them for
// dispatch or (for the shutdown sentinel) tears the peer down directly.
func (l *Loop) readLoop(ctx context.Context) error {
	for l.reader.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := l.reader.Bytes()
		obj := wire.Parse(line)

		// Any line at all, including a diagnostic message, is evidence the
		// child is alive; publish Running on first contact.
		l.Peer.NotifyRunning()

		if obj.IsShutdown() {
			l.Peer.Shutdown()
			return nil
		}
		l.Peer.PutObject(obj)

		if l.Peer.NeedsExit() {
			return nil
		}
	}
	if err := l.reader.Err(); err != nil {
		return l.onReadFailure(fmt.Errorf("read: %w", err))
	}
	// EOF with no shutdown sentinel: the child exited on its own.
	return l.onReadFailure(io.ErrUnexpectedEOF)
}

// onReadFailure implements spec §4.3's branch on whether a synchronous
// caller is parked: if Peer.SendRequest is blocked waiting on a reply,
// fail it immediately rather than making it wait for the dispatch
// goroutine to work through the rx queue. Otherwise the error is enqueued
// behind whatever responses were already read, so the dispatch goroutine
// delivers them to their callers before observing the disconnect — an
// already-answered request must not be overridden by a spurious
// PeerDisconnect (confirmed against af-plugin/src/core/rpc_loop.rs).
func (l *Loop) onReadFailure(cause error) error {
	if l.Peer.IsBlocking() {
		l.Peer.UnexpectedDisconnect(cause)
		return cause
	}
	l.Peer.PutError(cause)
	return nil
}

// dispatchLoop pops queued objects (preferring due timers when the queue is
// idle) and routes each to the peer or to a host-side handler. A panic
// inside a handler is converted into an unexpected disconnect rather than
// crashing the process, mirroring the original's PanicGuard.
func (l *Loop) dispatchLoop(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.Peer.UnexpectedDisconnect(fmt.Errorf("panic in dispatch loop: %v", r))
			err = fmt.Errorf("panic in dispatch loop: %v", r)
		}
	}()

	for {
		if l.Peer.NeedsExit() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		obj, err, ok := l.nextObject()
		if !ok {
			continue
		}
		if err != nil {
			l.Peer.UnexpectedDisconnect(err)
			return err
		}
		l.handle(ctx, obj)
	}
}

// nextObject implements the original's next_read: drain the rx queue first,
// then fire any due timer, then block for at most maxIdleWait (capped by the
// time remaining until the next timer) before looping back to re-check.
func (l *Loop) nextObject() (*wire.Object, error, bool) {
	if obj, err, ok := l.Peer.TryNextObject(); ok {
		return obj, err, true
	}

	token, due, untilNext, hasNext := l.Peer.CheckTimers()
	if due {
		if l.OnTimer != nil {
			l.OnTimer(token)
		}
		return nil, nil, false
	}

	wait := maxIdleWait
	if hasNext && untilNext < wait {
		wait = untilNext
	}
	return l.Peer.NextObjectTimeout(wait)
}

func (l *Loop) handle(ctx context.Context, obj *wire.Object) {
	switch obj.Kind {
	case wire.KindResponse:
		l.Peer.HandleResponse(obj)
	case wire.KindNotification:
		if l.Notifications != nil {
			l.Notifications.HandleNotification(obj.Method, obj.Params)
		}
	case wire.KindRequest:
		l.handleInboundRequest(ctx, obj)
	case wire.KindMessage:
		l.Peer.LogDiagnostic(obj.Raw)
	default:
		log.Printf("rpcloop: unroutable object kind %v", obj.Kind)
	}
}

func (l *Loop) handleInboundRequest(ctx context.Context, obj *wire.Object) {
	if l.Requests == nil || obj.ID == nil {
		return
	}
	result, err := l.Requests.HandleRequest(ctx, obj.Method, obj.Params)
	var line []byte
	var encErr error
	if err != nil {
		line, encErr = wire.EncodeError(*obj.ID, map[string]string{"message": err.Error()})
	} else {
		line, encErr = wire.EncodeResult(*obj.ID, result)
	}
	if encErr != nil {
		log.Printf("rpcloop: encode reply to %s: %v", obj.Method, encErr)
		return
	}
	l.Peer.SendRaw(line)
}
