// Package readiness implements the per-plugin readiness gate: a
// single-producer broadcast of RunningState that callers subscribe to and
// poll with a bounded wait, per spec §4.6.
package readiness

import (
	"context"
	"sync"
	"time"

	"github.com/quillhive/sidecar/internal/pluginerr"
)

// Phase is one arm of the RunningState sum type.
type Phase int

const (
	// PhaseInitialization is the transient state before a plugin has been
	// assigned a Peer. The manager seeds every gate with
	// PhaseReadyToConnect, so no code in this module publishes it.
	PhaseInitialization Phase = iota
	// PhaseReadyToConnect is the state a Plugin is created in, before its
	// first inbound line.
	PhaseReadyToConnect
	// PhaseRunning is entered on the first inbound line from the child.
	PhaseRunning
	// PhaseStopped is a terminal state reached via graceful shutdown.
	PhaseStopped
	// PhaseUnexpectedStop is a terminal state reached via a read error, end
	// of input without the shutdown sentinel, or a dispatch-loop panic. The
	// shutdown sentinel leads to PhaseStopped instead.
	PhaseUnexpectedStop
)

func (p Phase) String() string {
	switch p {
	case PhaseReadyToConnect:
		return "ready_to_connect"
	case PhaseRunning:
		return "running"
	case PhaseStopped:
		return "stopped"
	case PhaseUnexpectedStop:
		return "unexpected_stop"
	default:
		return "initialization"
	}
}

// State is an immutable snapshot of a plugin's lifecycle state.
type State struct {
	Phase    Phase
	PluginID int64
}

// IsLoading reports whether the plugin has not yet reached a running or
// terminal state.
func (s State) IsLoading() bool {
	return s.Phase == PhaseInitialization || s.Phase == PhaseReadyToConnect
}

// IsRunning reports whether the plugin is in PhaseRunning.
func (s State) IsRunning() bool { return s.Phase == PhaseRunning }

// IsTerminal reports whether the plugin has reached Stopped or
// UnexpectedStop.
func (s State) IsTerminal() bool {
	return s.Phase == PhaseStopped || s.Phase == PhaseUnexpectedStop
}

// PluginIDOK returns the state's plugin id and whether one is set (it's unset
// only in PhaseInitialization).
func (s State) PluginIDOK() (int64, bool) {
	if s.Phase == PhaseInitialization {
		return 0, false
	}
	return s.PluginID, true
}

// ReadyDeadline is the hard deadline for WaitUntilReady, per spec §5.
const ReadyDeadline = 30 * time.Second

// Gate is a single-producer, multi-subscriber broadcast of the latest
// State. A new subscription starts with nothing pending: its Next waits for
// the next Send, and the value already published is read with Current.
// History is never replayed, and a subscriber that falls behind sees only
// the latest value.
type Gate struct {
	mu    sync.Mutex
	state State
	subs  map[int]chan State
	nextI int
}

// NewGate creates a Gate seeded with the given initial state.
func NewGate(initial State) *Gate {
	return &Gate{
		state: initial,
		subs:  make(map[int]chan State),
	}
}

// Send publishes a new state to every current subscriber. A transition into
// PhaseRunning while already in PhaseRunning is a no-op (idempotent, per
// invariant "notify_running called repeatedly from Running is a no-op").
func (g *Gate) Send(state State) {
	g.mu.Lock()
	if g.state.Phase == PhaseRunning && state.Phase == PhaseRunning {
		g.mu.Unlock()
		return
	}
	g.state = state
	subs := make([]chan State, 0, len(g.subs))
	for _, ch := range g.subs {
		subs = append(subs, ch)
	}
	g.mu.Unlock()

	for _, ch := range subs {
		// Keep only the latest value: drain a stale pending value before
		// sending, never block the producer on a slow subscriber.
		select {
		case ch <- state:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
}

// Current returns the latest published state without subscribing.
func (g *Gate) Current() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Subscription is a view onto a Gate's broadcast stream.
type Subscription struct {
	gate *Gate
	id   int
	ch   chan State
}

// Subscribe returns a new Subscription. Close it with Unsubscribe when done.
func (g *Gate) Subscribe() *Subscription {
	g.mu.Lock()
	id := g.nextI
	g.nextI++
	ch := make(chan State, 1)
	g.subs[id] = ch
	g.mu.Unlock()
	return &Subscription{gate: g, id: id, ch: ch}
}

// Unsubscribe removes the subscription from its Gate.
func (s *Subscription) Unsubscribe() {
	s.gate.mu.Lock()
	delete(s.gate.subs, s.id)
	s.gate.mu.Unlock()
}

// Next blocks until a new state is published or ctx is done.
func (s *Subscription) Next(ctx context.Context) (State, error) {
	select {
	case state := <-s.ch:
		return state, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// WaitUntilReady polls the gate's current value and, if it is loading,
// awaits transitions until PhaseRunning or a terminal state is reached, or
// ReadyDeadline elapses — whichever comes first.
func WaitUntilReady(gate *Gate) error {
	if state := gate.Current(); !state.IsLoading() {
		return terminalOrReady(state)
	}

	sub := gate.Subscribe()
	defer sub.Unsubscribe()

	// Re-check after subscribing: the transition to Running may have raced
	// ahead of us between Current() and Subscribe().
	if state := gate.Current(); !state.IsLoading() {
		return terminalOrReady(state)
	}

	ctx, cancel := context.WithTimeout(context.Background(), ReadyDeadline)
	defer cancel()

	for {
		state, err := sub.Next(ctx)
		if err != nil {
			return pluginerr.Timeout("wait_until_ready: deadline of %s exceeded", ReadyDeadline)
		}
		if !state.IsLoading() {
			return terminalOrReady(state)
		}
	}
}

func terminalOrReady(state State) error {
	if state.IsRunning() {
		return nil
	}
	return pluginerr.PeerDisconnect()
}
