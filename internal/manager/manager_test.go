package manager

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/quillhive/sidecar/internal/journal"
	"github.com/quillhive/sidecar/internal/pluginconfig"
	"github.com/quillhive/sidecar/internal/pluginerr"
)

type alwaysDesktop struct{}

func (alwaysDesktop) IsNotDesktop() bool { return false }

type neverDesktop struct{}

func (neverDesktop) IsNotDesktop() bool { return true }

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	jdb, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { jdb.Close() })
	m := New(jdb, nil)
	m.os = alwaysDesktop{}
	return m
}

// echoDescriptor describes a one-liner shell child: it immediately announces itself
// running, then idles until killed.
func echoDescriptor(name string) pluginconfig.Descriptor {
	return pluginconfig.Descriptor{
		Name:       name,
		Executable: "/bin/sh",
		Args:       []string{"-c", `echo '{"method":"activity","params":{}}'; sleep 30`},
	}
}

func TestCreatePluginReachesRunningAndJournals(t *testing.T) {
	m := newTestManager(t)

	id, err := m.CreatePlugin(echoDescriptor("chat-plugin"))
	if err != nil {
		t.Fatalf("CreatePlugin: %v", err)
	}

	pl, err := m.GetPlugin(id)
	if err != nil {
		t.Fatalf("GetPlugin: %v", err)
	}
	if err := pl.WaitUntilReady(); err != nil {
		t.Fatalf("WaitUntilReady: %v", err)
	}

	if err := m.RemovePlugin(id); err != nil {
		t.Fatalf("RemovePlugin: %v", err)
	}

	// Give the journal watcher a moment to observe the Running transition
	// before asserting against it.
	time.Sleep(50 * time.Millisecond)
	recent, err := m.journal.Recent(10)
	if err != nil {
		t.Fatalf("journal.Recent: %v", err)
	}
	var sawRunning bool
	for _, e := range recent {
		if e.PluginID == id && e.Transition == "running" {
			sawRunning = true
		}
	}
	if !sawRunning {
		t.Fatalf("expected a running transition in journal, got %+v", recent)
	}
}

func TestCreatePluginRejectsDuplicateName(t *testing.T) {
	m := newTestManager(t)

	id, err := m.CreatePlugin(echoDescriptor("dup-plugin"))
	if err != nil {
		t.Fatalf("CreatePlugin: %v", err)
	}
	defer m.RemovePlugin(id)

	_, err = m.CreatePlugin(echoDescriptor("dup-plugin"))
	if err == nil {
		t.Fatal("expected duplicate-name error")
	}
}

func TestCreatePluginRefusedOnNonDesktop(t *testing.T) {
	m := newTestManager(t)
	m.os = neverDesktop{}

	_, err := m.CreatePlugin(echoDescriptor("mobile-plugin"))
	if err == nil {
		t.Fatal("expected platform refusal")
	}
	var perr *pluginerr.Error
	if ok := asPluginErr(err, &perr); !ok || perr.Kind != pluginerr.KindInternal {
		t.Fatalf("expected KindInternal, got %v", err)
	}
}

func TestGetPluginUnknownIDReturnsNotConnected(t *testing.T) {
	m := newTestManager(t)
	_, err := m.GetPlugin(999)
	var perr *pluginerr.Error
	if ok := asPluginErr(err, &perr); !ok || perr.Kind != pluginerr.KindPluginNotConnected {
		t.Fatalf("expected KindPluginNotConnected, got %v", err)
	}
}

func asPluginErr(err error, target **pluginerr.Error) bool {
	pe, ok := err.(*pluginerr.Error)
	if !ok {
		return false
	}
	*target = pe
	return true
}
