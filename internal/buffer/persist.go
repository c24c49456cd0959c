package buffer

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lifo4ems/crl/internal/event"
	"github.com/lifo4ems/crl/internal/model"
)

// PersistToDisk serialises the current in-memory contents to
// persistPath/buffer-<unixMillis>.json[.gz]. It does not clear memory —
// persistence is for disaster recovery and overflow spill, not eviction.
// Failures are logged and surfaced as no-op (no `persisted` event); the
// buffer keeps serving from memory regardless.
func (b *MessageBuffer) PersistToDisk() (string, error) {
	b.mu.Lock()
	snapshot := make([]*model.BufferedMessage, len(b.items))
	copy(snapshot, b.items)
	b.mu.Unlock()

	if err := os.MkdirAll(b.cfg.PersistPath, 0o755); err != nil {
		b.logger.Error("BUFFER_PERSIST_MKDIR_FAILED", "err", err, "path", b.cfg.PersistPath)
		return "", fmt.Errorf("buffer: persist mkdir: %w", err)
	}

	name := fmt.Sprintf("buffer-%d.json", time.Now().UnixMilli())
	if b.cfg.CompressOnPersist {
		name += ".gz"
	}
	path := filepath.Join(b.cfg.PersistPath, name)

	payload, err := json.Marshal(snapshot)
	if err != nil {
		b.logger.Error("BUFFER_PERSIST_MARSHAL_FAILED", "err", err)
		return "", fmt.Errorf("buffer: marshal: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		b.logger.Error("BUFFER_PERSIST_CREATE_FAILED", "err", err, "path", path)
		return "", fmt.Errorf("buffer: create %s: %w", path, err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if b.cfg.CompressOnPersist {
		gz = gzip.NewWriter(f)
		w = gz
	}

	if _, err := w.Write(payload); err != nil {
		b.logger.Error("BUFFER_PERSIST_WRITE_FAILED", "err", err, "path", path)
		return "", fmt.Errorf("buffer: write %s: %w", path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			b.logger.Error("BUFFER_PERSIST_GZIP_CLOSE_FAILED", "err", err, "path", path)
			return "", fmt.Errorf("buffer: gzip close %s: %w", path, err)
		}
	}

	b.mu.Lock()
	b.persistCount++
	b.mu.Unlock()

	b.emit(event.Event{Kind: event.Persisted, FilePath: path, Count: len(snapshot)})
	return path, nil
}

// LoadFromDisk reads a file written by PersistToDisk, restores date
// fields, skips expired/too-old entries, and inserts the remainder by
// priority up to the memory cap. Returns the number of messages loaded.
// Malformed entries are skipped rather than failing the whole load.
func (b *MessageBuffer) LoadFromDisk(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		b.logger.Error("BUFFER_LOAD_OPEN_FAILED", "err", err, "path", path)
		return 0, fmt.Errorf("buffer: open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if filepath.Ext(path) == ".gz" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			b.logger.Error("BUFFER_LOAD_GZIP_FAILED", "err", err, "path", path)
			return 0, fmt.Errorf("buffer: gzip reader %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		b.logger.Error("BUFFER_LOAD_READ_FAILED", "err", err, "path", path)
		return 0, fmt.Errorf("buffer: read %s: %w", path, err)
	}

	var rawEntries []json.RawMessage
	if err := json.Unmarshal(raw, &rawEntries); err != nil {
		b.logger.Error("BUFFER_LOAD_CORRUPT", "err", err, "path", path)
		return 0, fmt.Errorf("buffer: corrupt file %s: %w", path, err)
	}
	entries := make([]*model.BufferedMessage, 0, len(rawEntries))
	for _, re := range rawEntries {
		var m *model.BufferedMessage
		if err := json.Unmarshal(re, &m); err != nil || m == nil {
			b.logger.Warn("BUFFER_LOAD_ENTRY_SKIPPED", "err", err, "path", path)
			continue
		}
		entries = append(entries, m)
	}

	// Restore in the order a fresh Add would have produced: sort oldest
	// first within each priority class so the reload reproduces the
	// original pop-order exactly (round-trip law).
	sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].Priority != entries[j].Priority {
				return entries[i].Priority < entries[j].Priority
			}
			return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	now := time.Now()
	loaded := 0
	for _, m := range entries {
		if m == nil || !m.Priority.Valid() {
			continue
		}
		if m.Expired(now) || m.TooOld(now, b.cfg.MaxMessageAge) {
			continue
		}

		size := m.Size()
		b.mu.Lock()
		if b.memorySize+size > b.cfg.MaxMemorySize {
			b.mu.Unlock()
			break
		}
		b.insertLocked(m)
		b.memorySize += size
		b.mu.Unlock()
		loaded++
	}

	b.mu.Lock()
	b.loadCount += loaded
	b.mu.Unlock()

	b.emit(event.Event{Kind: event.Loaded, FilePath: path, Count: loaded})
	return loaded, nil
}
