package buffer

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lifo4ems/crl/internal/event"
)

// runSweep drives the buffer's three periodic background tasks: the
// expiry sweep, disk-file pruning (same tick), and the
// pressure-triggered auto-persist (its own, shorter cadence).
func (b *MessageBuffer) runSweep() {
	defer b.wg.Done()

	sweepInterval := b.cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = 60 * time.Second
	}
	flushInterval := b.cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 30 * time.Second
	}

	sweepTicker := time.NewTicker(sweepInterval)
	flushTicker := time.NewTicker(flushInterval)
	defer sweepTicker.Stop()
	defer flushTicker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-sweepTicker.C:
			b.expireStale()
			b.pruneDiskFiles()
		case <-flushTicker.C:
			b.autoPersistOnPressure()
		}
	}
}

// expireStale walks the list backwards (tail first, i.e. lowest priority
// and latest-within-class) and removes anything past its expiry or
// maxMessageAge.
func (b *MessageBuffer) expireStale() {
	now := time.Now()

	b.mu.Lock()
	var expiredIDs, expiredTopics []string
	kept := b.items[:0:0]
	for i := len(b.items) - 1; i >= 0; i-- {
		m := b.items[i]
		if m.Expired(now) || m.TooOld(now, b.cfg.MaxMessageAge) {
			b.memorySize -= m.Size()
			b.expiredCount++
			expiredIDs = append(expiredIDs, m.ID)
			expiredTopics = append(expiredTopics, m.Topic)
			continue
		}
		kept = append(kept, m)
	}
	// kept was built in reverse order; restore ascending sort order.
	for l, r := 0, len(kept)-1; l < r; l, r = l+1, r-1 {
		kept[l], kept[r] = kept[r], kept[l]
	}
	b.items = kept
	b.mu.Unlock()

	for i := range expiredIDs {
		b.emit(event.Event{Kind: event.MessageExpired, MessageID: expiredIDs[i], Topic: expiredTopics[i]})
	}
}

// pruneDiskFiles enumerates persisted spill files, sorts by mtime
// descending (newest first), and deletes every file at which the running
// total of file sizes (newest first, deleted files included) exceeds
// maxDiskSize.
func (b *MessageBuffer) pruneDiskFiles() {
	entries, err := os.ReadDir(b.cfg.PersistPath)
	if err != nil {
		if !os.IsNotExist(err) {
			b.logger.Error("BUFFER_PRUNE_READDIR_FAILED", "err", err, "path", b.cfg.PersistPath)
		}
		return
	}

	type fileInfo struct {
		path string
		size int64
		modTime time.Time
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
				path: filepath.Join(b.cfg.PersistPath, e.Name()),
				size: info.Size(),
				modTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	var cumulative int64
	for _, f := range files {
		cumulative += f.size
		if cumulative > int64(b.cfg.MaxDiskSize) {
			if err := os.Remove(f.path); err != nil {
				b.logger.Error("BUFFER_PRUNE_REMOVE_FAILED", "err", err, "path", f.path)
			}
		}
	}
}

// autoPersistOnPressure flushes to disk when memory residency crosses
// 80% of the cap, giving disk spill a head start before makeRoom would
// otherwise have to start dropping messages.
func (b *MessageBuffer) autoPersistOnPressure() {
	b.mu.Lock()
	pressured := b.cfg.MaxMemorySize > 0 && float64(b.memorySize) > 0.8*float64(b.cfg.MaxMemorySize)
	b.mu.Unlock()

	if !pressured {
		return
	}
	if _, err := b.PersistToDisk(); err != nil {
		b.logger.Error("BUFFER_AUTO_PERSIST_FAILED", "err", err)
	}
}
