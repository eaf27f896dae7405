package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/quillhive/sidecar/internal/pluginerr"
	"github.com/quillhive/sidecar/internal/readiness"
	"github.com/quillhive/sidecar/internal/wire"
)

type failWriter struct{ err error }

func (f failWriter) Write(p []byte) (int, error) { return 0, f.err }

func newTestPeer(w *bytes.Buffer) *Peer {
	gate := readiness.NewGate(readiness.State{Phase: readiness.PhaseReadyToConnect, PluginID: 1})
	return New(1, w, gate, nil)
}

func TestSendRequestReturnsResult(t *testing.T) {
	var buf bytes.Buffer
	p := newTestPeer(&buf)

	go func() {
		p.HandleResponse(&wire.Object{Kind: wire.KindResponse, ID: idPtr(1), Result: []byte(`{"ok":true}`)})
	}()
	val, err := p.SendRequest("ping", nil)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	var got struct{ OK bool }
	if err := json.Unmarshal(val, &got); err != nil || !got.OK {
		t.Fatalf("unexpected result: %s, err=%v", val, err)
	}
}

func TestSendRequestWriteFailureInvokesImmediatelyWithoutPending(t *testing.T) {
	p := newTestPeer(nil)
	p.writer = failWriter{err: errors.New("broken pipe")}

	_, err := p.SendRequest("ping", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var perr *pluginerr.Error
	if !errors.As(err, &perr) || perr.Kind != pluginerr.KindIO {
		t.Fatalf("expected KindIO, got %v", err)
	}
	if p.RequestIsPending() {
		t.Fatal("rx queue should be untouched")
	}
	if _, ok := p.pending.Load(int64(1)); ok {
		t.Fatal("handler must not be inserted into pending on write failure")
	}
}

func TestStreamRequestReinstallsUntilTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := newTestPeer(&buf)

	var frames []string
	var sawDone bool
	done := make(chan struct{})
	p.StreamRequest("stream_answer", nil, func(r Reply) {
		if r.Done {
			sawDone = true
			return
		}
		frames = append(frames, string(r.Value))
	})

	p.HandleResponse(&wire.Object{Kind: wire.KindResponse, ID: idPtr(1), Result: []byte(`"chunk one"`)})
	p.HandleResponse(&wire.Object{Kind: wire.KindResponse, ID: idPtr(1), Result: []byte(`"chunk two"`)})
	if _, ok := p.pending.Load(int64(1)); !ok {
		t.Fatal("stream handler must be reinstalled after a non-terminal frame")
	}
	p.HandleResponse(&wire.Object{Kind: wire.KindResponse, ID: idPtr(1), Result: []byte(`null`)})
	if _, ok := p.pending.Load(int64(1)); ok {
		t.Fatal("stream handler must be removed after the terminal frame")
	}
	close(done)

	if len(frames) != 2 {
		t.Fatalf("expected 2 invocations, got %d: %v", len(frames), frames)
	}
	if !sawDone {
		t.Fatal("expected a final Done invocation after the terminal frame")
	}
}

func TestUnexpectedDisconnectFailsAllPending(t *testing.T) {
	var buf bytes.Buffer
	p := newTestPeer(&buf)

	results := make(chan error, 2)
	p.AsyncSendRequest("a", nil, func(r Reply) { results <- r.Err })
	p.AsyncSendRequest("b", nil, func(r Reply) { results <- r.Err })

	p.UnexpectedDisconnect(errors.New("child exited"))

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			var perr *pluginerr.Error
			if !errors.As(err, &perr) || perr.Kind != pluginerr.KindPeerDisconnect {
				t.Fatalf("expected KindPeerDisconnect, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("handler not invoked after disconnect")
		}
	}

	if p.gate.Current().Phase != readiness.PhaseUnexpectedStop {
		t.Fatalf("gate phase = %v, want UnexpectedStop", p.gate.Current().Phase)
	}
	if !p.NeedsExit() {
		t.Fatal("NeedsExit should be true after disconnect")
	}
}

func TestNotifyRunningPublishesOnce(t *testing.T) {
	var buf bytes.Buffer
	p := newTestPeer(&buf)
	sub := p.gate.Subscribe()
	defer sub.Unsubscribe()

	p.NotifyRunning()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	state, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if state.Phase != readiness.PhaseRunning {
		t.Fatalf("Phase = %v, want Running", state.Phase)
	}
}

func idPtr(v int64) *int64 { return &v }
