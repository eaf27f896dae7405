// sidecar-demo wires a Manager to a single plugin manifest and drives it
// through create/init/request/remove, the way aegisd wires its daemon
// subsystems together at startup.
package main

import (
	"flag"
	"log"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/quillhive/sidecar/internal/chatops"
	"github.com/quillhive/sidecar/internal/journal"
	"github.com/quillhive/sidecar/internal/manager"
	"github.com/quillhive/sidecar/internal/pluginconfig"
	"github.com/quillhive/sidecar/internal/pluginlog"
	"github.com/quillhive/sidecar/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("sidecar-demo %s", version.Version())

	var (
		stateDir     = flag.String("state-dir", "./sidecar-state", "directory for the journal db and plugin logs")
		manifestPath = flag.String("manifest", "", "path to a plugin launch manifest (YAML)")
		message      = flag.String("message", "hello from sidecar-demo", "message to send once the plugin is ready")
	)
	flag.Parse()

	if *manifestPath == "" {
		log.Fatal("sidecar-demo: -manifest is required")
	}

	jdb, err := journal.Open(filepath.Join(*stateDir, "journal.db"))
	if err != nil {
		log.Fatalf("open journal: %v", err)
	}
	defer jdb.Close()
	log.Printf("journal: %s", filepath.Join(*stateDir, "journal.db"))

	logs := pluginlog.NewStore(filepath.Join(*stateDir, "logs"))

	m := manager.New(jdb, logs)

	desc, err := pluginconfig.ParseFile(*manifestPath)
	if err != nil {
		log.Fatalf("parse manifest: %v", err)
	}
	// CreatePlugin prepares its own copy of the descriptor; prepare this one
	// too so the initialize payload sent below carries persist_directory.
	if err := desc.Prepare(); err != nil {
		log.Fatalf("prepare manifest: %v", err)
	}

	id, err := m.CreatePlugin(*desc)
	if err != nil {
		log.Fatalf("create plugin %q: %v", desc.Name, err)
	}
	log.Printf("spawned plugin %q as id %d", desc.Name, id)

	pl, err := m.InitPlugin(id, desc.InitPayload)
	if err != nil {
		log.Fatalf("initialize plugin %q: %v", desc.Name, err)
	}
	log.Printf("plugin %q initialized", desc.Name)

	ops := chatops.New(pl)
	chatID := uuid.NewString()
	if err := ops.CreateChat(chatID); err != nil {
		log.Fatalf("create chat %s: %v", chatID, err)
	}
	log.Printf("opened chat session %s", chatID)

	answer, err := ops.SendMessage(chatID, *message)
	if err != nil {
		log.Printf("send message: %v", err)
	} else {
		log.Printf("reply: %s", answer)
	}

	if err := ops.CloseChat(chatID); err != nil {
		log.Printf("close chat %s: %v", chatID, err)
	}

	if err := m.RemovePlugin(id); err != nil {
		log.Fatalf("remove plugin %q: %v", desc.Name, err)
	}
	log.Printf("plugin %q stopped", desc.Name)
}
