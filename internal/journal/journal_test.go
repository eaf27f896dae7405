package journal

import (
	"path/filepath"
	"testing"
)

func TestRecordAndRecent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	entries := []Entry{
		{PluginID: 1, Name: "chat-plugin", Transition: "ready_to_connect"},
		{PluginID: 1, Name: "chat-plugin", Transition: "running"},
		{PluginID: 1, Name: "chat-plugin", Transition: "unexpected_stop", Detail: "child exited"},
	}
	for _, e := range entries {
		if err := db.Record(e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	recent, err := db.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("len(recent) = %d, want 2", len(recent))
	}
	if recent[0].Transition != "unexpected_stop" {
		t.Fatalf("recent[0].Transition = %q, want unexpected_stop (newest first)", recent[0].Transition)
	}
	if recent[0].Detail != "child exited" {
		t.Fatalf("recent[0].Detail = %q, want %q", recent[0].Detail, "child exited")
	}
}
