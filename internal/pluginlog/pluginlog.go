// Package pluginlog is the diagnostic sink for non-JSON lines a child
// writes to stdout (spec §4.1's "Message" kind): a bounded in-memory ring
// buffer per plugin, persisted to a gzip-rotated NDJSON file on disk so an
// operator can inspect a misbehaving child after the fact. Purely
// diagnostic — never consulted by dispatch.
package pluginlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

const (
	maxLines     = 2000
	maxFileBytes = 5 * 1024 * 1024
)

// Entry is one diagnostic line.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	PluginID  int64     `json:"plugin_id"`
	Name      string    `json:"name"`
	Line      string    `json:"line"`
}

// Store holds one ring buffer per plugin, all sharing a logsDir.
type Store struct {
	mu      sync.RWMutex
	logs    map[int64]*PluginLog
	logsDir string
}

// NewStore creates a Store, creating logsDir if needed.
func NewStore(logsDir string) *Store {
	os.MkdirAll(logsDir, 0o755)
	return &Store{logs: make(map[int64]*PluginLog), logsDir: logsDir}
}

// GetOrCreate returns the PluginLog for pluginID, creating it if needed.
func (s *Store) GetOrCreate(pluginID int64, name string) *PluginLog {
	s.mu.RLock()
	pl, ok := s.logs[pluginID]
	s.mu.RUnlock()
	if ok {
		return pl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if pl, ok := s.logs[pluginID]; ok {
		return pl
	}

	filePath := filepath.Join(s.logsDir, filepath.Base(name)+".ndjson")
	pl = newPluginLog(pluginID, name, filePath)
	s.logs[pluginID] = pl
	return pl
}

// Remove closes and discards the log for a plugin.
func (s *Store) Remove(pluginID int64) {
	s.mu.Lock()
	pl, ok := s.logs[pluginID]
	if ok {
		delete(s.logs, pluginID)
	}
	s.mu.Unlock()
	if ok {
		pl.Close()
	}
}

// PluginLog is a bounded ring buffer with NDJSON file persistence for one
// plugin's diagnostic output. It implements peer.DiagSink.
type PluginLog struct {
	mu       sync.Mutex
	pluginID int64
	name     string

	entries []Entry
	head    int
	count   int

	filePath  string
	file      *os.File
	fileBytes int64
}

func newPluginLog(pluginID int64, name, filePath string) *PluginLog {
	pl := &PluginLog{
		pluginID: pluginID,
		name:     name,
		entries:  make([]Entry, maxLines),
		filePath: filePath,
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err == nil {
		pl.file = f
		if info, statErr := f.Stat(); statErr == nil {
			pl.fileBytes = info.Size()
		}
	}
	return pl
}

// LogLine implements peer.DiagSink.
func (pl *PluginLog) LogLine(raw string) {
	pl.Append(raw)
}

// Append records one diagnostic line.
func (pl *PluginLog) Append(line string) {
	entry := Entry{Timestamp: time.Now(), PluginID: pl.pluginID, Name: pl.name, Line: line}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	if pl.count >= maxLines {
		pl.head = (pl.head + 1) % maxLines
		pl.count--
	}
	idx := (pl.head + pl.count) % maxLines
	pl.entries[idx] = entry
	pl.count++

	if pl.file != nil {
		if data, err := json.Marshal(entry); err == nil {
			data = append(data, '\n')
			if n, werr := pl.file.Write(data); werr == nil {
				pl.fileBytes += int64(n)
				if pl.fileBytes > maxFileBytes {
					pl.rotate()
				}
			}
		}
	}
}

// rotate gzip-compresses the current file to "<path>.1.gz" and starts a
// fresh one, bounding on-disk size the way the teacher's logstore rotates
// to "<path>.1" but with compression for the cold copy.
func (pl *PluginLog) rotate() {
	if pl.file != nil {
		pl.file.Close()
	}

	if src, err := os.Open(pl.filePath); err == nil {
		if dst, err := os.Create(pl.filePath + ".1.gz"); err == nil {
			gw := gzip.NewWriter(dst)
			buf := make([]byte, 32*1024)
			for {
				n, rerr := src.Read(buf)
				if n > 0 {
					gw.Write(buf[:n])
				}
				if rerr != nil {
					break
				}
			}
			gw.Close()
			dst.Close()
		}
		src.Close()
	}
	os.Remove(pl.filePath)

	f, err := os.OpenFile(pl.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err == nil {
		pl.file = f
		pl.fileBytes = 0
	}
}

// Tail returns the last n buffered entries (all of them if n <= 0).
func (pl *PluginLog) Tail(n int) []Entry {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	result := make([]Entry, 0, pl.count)
	for i := 0; i < pl.count; i++ {
		idx := (pl.head + i) % maxLines
		result = append(result, pl.entries[idx])
	}
	if n > 0 && len(result) > n {
		result = result[len(result)-n:]
	}
	return result
}

// Close closes the underlying file handle.
func (pl *PluginLog) Close() {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.file != nil {
		pl.file.Close()
		pl.file = nil
	}
}
