package readiness

import (
	"errors"
	"testing"
	"time"

	"github.com/quillhive/sidecar/internal/pluginerr"
)

func TestWaitUntilReadySucceedsOnNotification(t *testing.T) {
	gate := NewGate(State{Phase: PhaseReadyToConnect, PluginID: 1})

	done := make(chan error, 1)
	go func() { done <- WaitUntilReady(gate) }()

	time.Sleep(20 * time.Millisecond)
	gate.Send(State{Phase: PhaseRunning, PluginID: 1})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitUntilReady: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitUntilReady did not return after Running was published")
	}
}

func TestWaitUntilReadyReturnsImmediatelyIfAlreadyRunning(t *testing.T) {
	gate := NewGate(State{Phase: PhaseRunning, PluginID: 1})
	if err := WaitUntilReady(gate); err != nil {
		t.Fatalf("WaitUntilReady: %v", err)
	}
}

func TestWaitUntilReadyOnTerminalStateReturnsDisconnect(t *testing.T) {
	gate := NewGate(State{Phase: PhaseUnexpectedStop, PluginID: 1})
	err := WaitUntilReady(gate)
	if err == nil {
		t.Fatal("expected error")
	}
	var perr *pluginerr.Error
	if !errors.As(err, &perr) || perr.Kind != pluginerr.KindPeerDisconnect {
		t.Fatalf("expected KindPeerDisconnect, got %v", err)
	}
}

func TestNotifyRunningFromRunningIsNoop(t *testing.T) {
	gate := NewGate(State{Phase: PhaseRunning, PluginID: 1})
	sub := gate.Subscribe()
	defer sub.Unsubscribe()

	gate.Send(State{Phase: PhaseRunning, PluginID: 1})

	select {
	case s := <-sub.ch:
		t.Fatalf("expected no notification, got %+v", s)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCurrentReturnsLatestValueAfterSubscribe(t *testing.T) {
	gate := NewGate(State{Phase: PhaseReadyToConnect, PluginID: 1})
	gate.Send(State{Phase: PhaseStopped, PluginID: 1})

	sub := gate.Subscribe()
	defer sub.Unsubscribe()

	if got := gate.Current(); got.Phase != PhaseStopped {
		t.Fatalf("Current() = %v, want Stopped", got.Phase)
	}
}
