// Package manager implements the Plugin manager of spec §4.5: the registry
// that spawns child processes, wires each into a Peer/RpcLoop/Plugin triple,
// and exposes create/get/init/remove plus request pass-throughs — grounded
// on the original's appflowy-plugin/src/manager.rs and, for process
// supervision style, the teacher's internal/daemon/manager.go.
package manager

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quillhive/sidecar/internal/hostprobe"
	"github.com/quillhive/sidecar/internal/journal"
	"github.com/quillhive/sidecar/internal/peer"
	"github.com/quillhive/sidecar/internal/plugin"
	"github.com/quillhive/sidecar/internal/pluginconfig"
	"github.com/quillhive/sidecar/internal/pluginerr"
	"github.com/quillhive/sidecar/internal/pluginlog"
	"github.com/quillhive/sidecar/internal/readiness"
	"github.com/quillhive/sidecar/internal/rpcloop"
)

// stopGrace bounds how long RemovePlugin waits for a graceful exit after
// SIGINT before escalating to SIGKILL, mirroring the teacher's daemon
// manager shutdown sequence.
const stopGrace = 5 * time.Second

type entry struct {
	plugin *plugin.Plugin
	name   string
	cmd    *exec.Cmd
	cancel context.CancelFunc

	// exited is closed exactly once, by the single goroutine that owns
	// cmd.Wait, after the child has actually exited and been reaped.
	exited chan struct{}
}

// Manager is the registry of running plugins.
type Manager struct {
	mu        sync.Mutex
	plugins   map[int64]*entry
	byName    map[string]int64
	idCounter int64

	os OperatingSystemProbe

	journal *journal.DB
	logs    *pluginlog.Store
}

// OperatingSystemProbe is satisfied by hostprobe.OperatingSystem; declared
// as an interface-shaped value here only so tests can stub platform
// detection without touching runtime.GOOS.
type OperatingSystemProbe interface {
	IsNotDesktop() bool
}

// New creates an empty Manager. journal and logs may both be nil.
func New(j *journal.DB, logs *pluginlog.Store) *Manager {
	return &Manager{
		plugins: make(map[int64]*entry),
		byName:  make(map[string]int64),
		os:      hostprobe.Current(),
		journal: j,
		logs:    logs,
	}
}

// CreatePlugin spawns desc.Executable, wires it into a Peer/RpcLoop pair,
// and registers it under a freshly allocated PluginId. It refuses on
// non-desktop platforms and on a duplicate plugin name, matching the
// original's create_plugin guards.
func (m *Manager) CreatePlugin(desc pluginconfig.Descriptor) (int64, error) {
	if m.os.IsNotDesktop() {
		return 0, pluginerr.Internal("plugin not supported on this platform")
	}

	m.mu.Lock()
	if _, exists := m.byName[desc.Name]; exists {
		m.mu.Unlock()
		return 0, pluginerr.Internal("plugin %q already running", desc.Name)
	}
	id := atomic.AddInt64(&m.idCounter, 1)
	m.byName[desc.Name] = id
	m.mu.Unlock()

	e, err := m.spawn(id, desc)
	if err != nil {
		m.mu.Lock()
		delete(m.byName, desc.Name)
		m.mu.Unlock()
		return 0, err
	}

	m.mu.Lock()
	m.plugins[id] = e
	m.mu.Unlock()

	return id, nil
}

func (m *Manager) spawn(id int64, desc pluginconfig.Descriptor) (*entry, error) {
	if err := desc.Prepare(); err != nil {
		return nil, err
	}

	cmd := exec.Command(desc.Executable, desc.Args...)
	cmd.Env = os.Environ()
	for k, v := range desc.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, pluginerr.IO(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, pluginerr.IO(err)
	}
	if err := cmd.Start(); err != nil {
		return nil, pluginerr.IO(err)
	}

	gate := readiness.NewGate(readiness.State{Phase: readiness.PhaseReadyToConnect, PluginID: id})

	var diag peer.DiagSink
	if m.logs != nil {
		diag = m.logs.GetOrCreate(id, desc.Name)
	}
	p := peer.New(id, stdin, gate, diag)
	pl := plugin.New(id, desc.Name, p)

	ctx, cancel := context.WithCancel(context.Background())
	loop := rpcloop.New(p, stdout)

	exited := make(chan struct{})
	// This goroutine is the sole owner of cmd.Wait — os/exec requires Wait be
	// called exactly once, so RemovePlugin only ever waits on exited instead
	// of calling cmd.Wait itself.
	go func() {
		loop.Run(ctx)
		cmd.Wait()
		close(exited)
	}()

	go m.watchLifecycle(ctx, id, desc.Name, gate)

	return &entry{plugin: pl, name: desc.Name, cmd: cmd, cancel: cancel, exited: exited}, nil
}

// watchLifecycle records every lifecycle transition to the journal (if one
// is wired) and, on reaching a terminal state, removes the plugin from the
// registry itself — invariant I5: a crash or unsolicited disconnect removes
// the record with no RemovePlugin call required, matching the original's
// plugin_disconnect auto-removal.
func (m *Manager) watchLifecycle(ctx context.Context, id int64, name string, gate *readiness.Gate) {
	sub := gate.Subscribe()
	defer sub.Unsubscribe()
	for {
		state, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if m.journal != nil {
			_ = m.journal.Record(journal.Entry{PluginID: id, Name: name, Transition: state.Phase.String()})
		}
		if state.IsTerminal() {
			m.removeEntry(id, name)
			return
		}
	}
}

// removeEntry drops id/name from the registry if still present. Safe to call
// after an explicit RemovePlugin has already done so.
func (m *Manager) removeEntry(id int64, name string) {
	m.mu.Lock()
	delete(m.plugins, id)
	delete(m.byName, name)
	m.mu.Unlock()
}

// GetPlugin resolves a live plugin by id.
func (m *Manager) GetPlugin(id int64) (*plugin.Plugin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.plugins[id]
	if !ok {
		return nil, pluginerr.PluginNotConnected()
	}
	return e.plugin, nil
}

// InitPlugin resolves the plugin and sends its initialize handshake.
func (m *Manager) InitPlugin(id int64, initParams any) (*plugin.Plugin, error) {
	if m.os.IsNotDesktop() {
		return nil, pluginerr.Internal("plugin not supported on this platform")
	}
	pl, err := m.GetPlugin(id)
	if err != nil {
		return nil, err
	}
	if _, err := pl.Initialize(initParams); err != nil {
		return nil, err
	}
	return pl, nil
}

// RemovePlugin shuts a plugin down and unregisters it: SIGINT first, then
// SIGKILL if it hasn't exited within stopGrace, mirroring the teacher's
// daemon manager stop sequence.
func (m *Manager) RemovePlugin(id int64) error {
	if m.os.IsNotDesktop() {
		return pluginerr.Internal("plugin not supported on this platform")
	}

	m.mu.Lock()
	e, ok := m.plugins[id]
	if ok {
		delete(m.plugins, id)
		delete(m.byName, e.name)
	}
	m.mu.Unlock()
	if !ok {
		return pluginerr.PluginNotConnected()
	}

	e.plugin.Shutdown()
	e.cancel()

	if e.cmd.Process != nil {
		e.cmd.Process.Signal(os.Interrupt)
		select {
		case <-e.exited:
		case <-time.After(stopGrace):
			e.cmd.Process.Kill()
			<-e.exited
		}
	}

	if m.logs != nil {
		m.logs.Remove(id)
	}
	return nil
}

// SendRequest resolves id and performs a blocking request, parsed by parser.
func SendRequest[T any](m *Manager, id int64, method string, params any, parser plugin.ResponseParser[T]) (T, error) {
	var zero T
	pl, err := m.GetPlugin(id)
	if err != nil {
		return zero, err
	}
	return plugin.Request[T](pl, method, params, parser)
}

// AsyncSendRequest resolves id and performs a non-blocking request.
func AsyncSendRequest[T any](m *Manager, id int64, method string, params any, parser plugin.ResponseParser[T], done func(T, error)) error {
	pl, err := m.GetPlugin(id)
	if err != nil {
		return err
	}
	plugin.AsyncRequest[T](pl, method, params, parser, done)
	return nil
}
