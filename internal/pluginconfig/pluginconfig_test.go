package pluginconfig

import (
	"path/filepath"
	"testing"
)

func TestParseBytesRequiresNameAndExecutable(t *testing.T) {
	_, err := ParseBytes([]byte(`executable: /usr/bin/chat-plugin`))
	if err == nil {
		t.Fatal("expected error for missing name")
	}
	_, err = ParseBytes([]byte(`name: chat`))
	if err == nil {
		t.Fatal("expected error for missing executable")
	}
}

func TestParseBytesPopulatesFields(t *testing.T) {
	d, err := ParseBytes([]byte(`
name: chat-plugin
executable: /usr/local/bin/af-local-ai
args: ["--mode", "chat"]
persist_directory: /tmp/af-plugin-test
init_payload:
  model: gpt-oss
`))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if d.Name != "chat-plugin" || d.Executable != "/usr/local/bin/af-local-ai" {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
	if len(d.Args) != 2 || d.Args[0] != "--mode" {
		t.Fatalf("unexpected args: %v", d.Args)
	}
}

func TestPrepareMergesPersistDirectoryIntoInitPayload(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plugin-state")
	d := &Descriptor{Name: "x", Executable: "/bin/true", PersistDirectory: dir}
	if err := d.Prepare(); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if d.InitPayload["persist_directory"] != dir {
		t.Fatalf("InitPayload[persist_directory] = %v, want %v", d.InitPayload["persist_directory"], dir)
	}
}
