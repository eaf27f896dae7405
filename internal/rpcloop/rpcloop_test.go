package rpcloop

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/quillhive/sidecar/internal/peer"
	"github.com/quillhive/sidecar/internal/readiness"
)

type recordingNotifications struct {
	methods chan string
}

func (r *recordingNotifications) HandleNotification(method string, params json.RawMessage) {
	r.methods <- method
}

type echoRequests struct{}

func (echoRequests) HandleRequest(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"echoed":true}`), nil
}

func TestRunRoutesNotificationsAndShutsDownOnSentinel(t *testing.T) {
	pr, pw := io.Pipe()
	var out bytes.Buffer
	gate := readiness.NewGate(readiness.State{Phase: readiness.PhaseReadyToConnect, PluginID: 1})
	p := peer.New(1, &out, gate, nil)

	notifs := &recordingNotifications{methods: make(chan string, 4)}
	loop := New(p, pr)
	loop.Notifications = notifs

	runErr := make(chan error, 1)
	go func() { runErr <- loop.Run(context.Background()) }()

	go func() {
		io.WriteString(pw, `{"method":"activity","params":{"tcp":1}}`+"\n")
		io.WriteString(pw, `{"method":"$/shutdown"}`+"\n")
	}()

	select {
	case m := <-notifs.methods:
		if m != "activity" {
			t.Fatalf("notification method = %q, want activity", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}

	select {
	case <-runErr:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after shutdown sentinel")
	}

	if gate.Current().Phase != readiness.PhaseStopped {
		t.Fatalf("gate phase = %v, want Stopped", gate.Current().Phase)
	}
	pw.Close()
}

func TestRunAnswersInboundRequests(t *testing.T) {
	pr, pw := io.Pipe()
	var out bytes.Buffer
	gate := readiness.NewGate(readiness.State{Phase: readiness.PhaseReadyToConnect, PluginID: 1})
	p := peer.New(1, &out, gate, nil)

	loop := New(p, pr)
	loop.Requests = echoRequests{}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- loop.Run(ctx) }()

	go func() {
		io.WriteString(pw, `{"id":5,"method":"ping","params":{}}`+"\n")
	}()

	deadline := time.Now().Add(2 * time.Second)
	for out.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if out.Len() == 0 {
		t.Fatal("no reply written to child stdin")
	}

	cancel()
	pw.Close()
	<-runErr
}
