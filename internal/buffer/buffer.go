// Package buffer implements the MessageBuffer: a bounded,
// priority-ordered, disk-spillable queue of BufferedMessages.
package buffer

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lifo4ems/crl/internal/crlerrors"
	"github.com/lifo4ems/crl/internal/event"
	"github.com/lifo4ems/crl/internal/model"
)

// MessageBuffer is the priority mailbox backing resilient delivery. All
// exported methods are safe for concurrent use; the ordered slice and
// the running memorySize counter are guarded by a single mutex since
// they must never tear relative to each other.
type MessageBuffer struct {
	cfg Config
	logger *slog.Logger
	bus event.Bus

	mu sync.Mutex
	items []*model.BufferedMessage // sorted: priority asc, timestamp asc
	memorySize int

	dropCount int
	expiredCount int
	persistCount int
	loadCount int

	stopCh chan struct{}
	wg sync.WaitGroup
}

// New constructs a MessageBuffer and starts its background sweep
// (expiry, disk pruning, pressure-triggered auto-persist).
func New(opts ...Option) *MessageBuffer {
	b := &MessageBuffer{
		cfg: DefaultConfig(),
		logger: slog.Default(),
		bus: event.NewBus(nil),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.wg.Add(1)
	go b.runSweep()

	return b
}

func (b *MessageBuffer) emit(ev event.Event) {
	if b.bus != nil {
		ev.At = time.Now()
		b.bus.Publish(ev)
	}
}

// Add enqueues msg, assigning its ID and timestamp, enforcing the memory
// cap via makeRoom. Returns the generated ID, or an error if the message
// could not be admitted.
func (b *MessageBuffer) Add(msg *model.BufferedMessage) (string, error) {
	id := uuid.NewString()
	size := msg.Size()

	b.mu.Lock()

	if size > b.cfg.MaxMemorySize {
		b.dropCount++
		b.mu.Unlock()
		b.emit(event.Event{Kind: event.MessageDropped, Reason: event.ReasonTooLarge, Topic: msg.Topic})
		return "", crlerrors.ErrMessageTooLarge
	}

	var dropped []*model.BufferedMessage
	if b.memorySize+size > b.cfg.MaxMemorySize {
		var ok bool
		dropped, ok = b.makeRoomLocked(msg.Priority, size)
		if !ok {
			b.mu.Unlock()
			for _, d := range dropped {
				b.emit(event.Event{Kind: event.MessageDropped, Reason: event.ReasonBufferFull, MessageID: d.ID, Topic: d.Topic})
			}
			go b.PersistToDisk() //nolint:errcheck // best-effort, logged internally
			return "", crlerrors.ErrBufferFull
		}
	}

	msg.ID = id
	msg.Timestamp = time.Now()
	msg.Retries = 0
	b.insertLocked(msg)
	b.memorySize += size

	b.mu.Unlock()

	for _, d := range dropped {
		b.emit(event.Event{Kind: event.MessageDropped, Reason: event.ReasonBufferFull, MessageID: d.ID, Topic: d.Topic})
	}
	b.emit(event.Event{Kind: event.MessageAdded, MessageID: id, Topic: msg.Topic})

	return id, nil
}

// makeRoomLocked implements the makeRoom procedure. Caller
// must hold b.mu and continues to hold it on return. Returns the
// messages it evicted and whether enough room was made; events for the
// evictions are emitted by the caller once the lock is released.
func (b *MessageBuffer) makeRoomLocked(incomingPriority model.Priority, incomingSize int) ([]*model.BufferedMessage, bool) {
	var dropped []*model.BufferedMessage
	for b.memorySize+incomingSize > b.cfg.MaxMemorySize {
		if len(b.items) == 0 {
			return dropped, false
		}
		tail := b.items[len(b.items)-1]
		if tail.Priority > incomingPriority {
			// Strictly lower priority than the incoming message: evict.
			b.memorySize -= tail.Size()
			b.items = b.items[:len(b.items)-1]
			b.dropCount++
			dropped = append(dropped, tail)
			continue
		}

		// The tail is equal-or-higher priority than the incoming message:
		// we may not drop it. The caller spills what we have and rejects
		// the incoming message instead of violating the priority
		// protection invariant.
		return dropped, false
	}
	return dropped, true
}

// insertLocked places msg at its sorted position: priority ascending
// (CRITICAL first), timestamp ascending within a priority class. Caller
// must hold b.mu.
func (b *MessageBuffer) insertLocked(msg *model.BufferedMessage) {
	idx := sort.Search(len(b.items), func(i int) bool {
			if b.items[i].Priority != msg.Priority {
				return b.items[i].Priority > msg.Priority
			}
			return b.items[i].Timestamp.After(msg.Timestamp)
	})
	b.items = append(b.items, nil)
	copy(b.items[idx+1:], b.items[idx:])
	b.items[idx] = msg
}

// Peek returns the head of the buffer without removing it.
func (b *MessageBuffer) Peek() (*model.BufferedMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil, false
	}
	return b.items[0], true
}

// Pop removes and returns the head of the buffer.
func (b *MessageBuffer) Pop() (*model.BufferedMessage, bool) {
	b.mu.Lock()
	if len(b.items) == 0 {
		b.mu.Unlock()
		return nil, false
	}
	msg := b.items[0]
	b.items = b.items[1:]
	b.memorySize -= msg.Size()
	b.mu.Unlock()

	b.emit(event.Event{Kind: event.MessageRemoved, MessageID: msg.ID, Topic: msg.Topic})
	return msg, true
}

// Get returns a message by ID without removing it.
func (b *MessageBuffer) Get(id string) (*model.BufferedMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.items {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, crlerrors.ErrMessageNotFound
}

// Remove deletes a message by ID.
func (b *MessageBuffer) Remove(id string) error {
	b.mu.Lock()
	idx := -1
	for i, m := range b.items {
		if m.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		b.mu.Unlock()
		return crlerrors.ErrMessageNotFound
	}
	msg := b.items[idx]
	b.items = append(b.items[:idx], b.items[idx+1:]...)
	b.memorySize -= msg.Size()
	b.mu.Unlock()

	b.emit(event.Event{Kind: event.MessageRemoved, MessageID: id, Topic: msg.Topic})
	return nil
}

// GetByTopic returns up to limit resident messages matching topic, in
// buffer order. limit<=0 means unlimited.
func (b *MessageBuffer) GetByTopic(topic string, limit int) []*model.BufferedMessage {
	return b.filter(limit, func(m *model.BufferedMessage) bool { return m.Topic == topic })
}

// GetByPriority returns up to limit resident messages of the given
// priority, in buffer order. limit<=0 means unlimited.
func (b *MessageBuffer) GetByPriority(p model.Priority, limit int) []*model.BufferedMessage {
	return b.filter(limit, func(m *model.BufferedMessage) bool { return m.Priority == p })
}

func (b *MessageBuffer) filter(limit int, pred func(*model.BufferedMessage) bool) []*model.BufferedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*model.BufferedMessage
	for _, m := range b.items {
		if pred(m) {
			out = append(out, m)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

// Requeue returns a failed-to-send message to the buffer: it is demoted
// by one priority step (floored at BATCH), its timestamp is reset, and
// its retry count is incremented. If the retry budget is exhausted the
// message is dropped instead and Requeue returns false. Calling Requeue
// on a message still resident in the buffer (never popped) is treated
// as an error, not a silent double insert.
func (b *MessageBuffer) Requeue(msg *model.BufferedMessage) (bool, error) {
	b.mu.Lock()
	for _, m := range b.items {
		if m.ID == msg.ID {
			b.mu.Unlock()
			return false, crlerrors.ErrMessageAlreadyBuffered
		}
	}
	b.mu.Unlock()

	if msg.Retries+1 > msg.MaxRetries {
		b.mu.Lock()
		b.dropCount++
		b.mu.Unlock()
		b.emit(event.Event{Kind: event.MessageDropped, Reason: event.ReasonMaxRetries, MessageID: msg.ID, Topic: msg.Topic})
		return false, crlerrors.ErrRetriesExhausted
	}

	msg.Retries++
	msg.Timestamp = time.Now()
	msg.Priority = msg.Priority.Demote()

	size := msg.Size()
	b.mu.Lock()

	var dropped []*model.BufferedMessage
	if b.memorySize+size > b.cfg.MaxMemorySize {
		var ok bool
		dropped, ok = b.makeRoomLocked(msg.Priority, size)
		if !ok {
			b.mu.Unlock()
			for _, d := range dropped {
				b.emit(event.Event{Kind: event.MessageDropped, Reason: event.ReasonBufferFull, MessageID: d.ID, Topic: d.Topic})
			}
			b.emit(event.Event{Kind: event.MessageDropped, Reason: event.ReasonBufferFull, MessageID: msg.ID, Topic: msg.Topic})
			return false, nil
		}
	}
	b.insertLocked(msg)
	b.memorySize += size
	b.mu.Unlock()

	for _, d := range dropped {
		b.emit(event.Event{Kind: event.MessageDropped, Reason: event.ReasonBufferFull, MessageID: d.ID, Topic: d.Topic})
	}
	b.emit(event.Event{Kind: event.MessageRequeued, MessageID: msg.ID, Topic: msg.Topic})
	return true, nil
}

// Clear drops every resident message without persisting them.
func (b *MessageBuffer) Clear() {
	b.mu.Lock()
	b.items = nil
	b.memorySize = 0
	b.mu.Unlock()
	b.emit(event.Event{Kind: event.Cleared})
}

// GetSize returns the number of resident messages.
func (b *MessageBuffer) GetSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// GetStats returns a point-in-time snapshot of buffer bookkeeping.
func (b *MessageBuffer) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	byPriority := make(map[string]int, 5)
	var oldest time.Duration
	now := time.Now()
	for _, m := range b.items {
		byPriority[m.Priority.String()]++
		if age := now.Sub(m.Timestamp); age > oldest {
			oldest = age
		}
	}

	util := 0.0
	if b.cfg.MaxMemorySize > 0 {
		util = float64(b.memorySize) / float64(b.cfg.MaxMemorySize)
	}

	return Stats{
		Count: len(b.items),
		MemorySize: b.memorySize,
		MaxMemorySize: b.cfg.MaxMemorySize,
		UtilizationPct: util,
		DropCount: b.dropCount,
		ExpiredCount: b.expiredCount,
		PersistCount: b.persistCount,
		LoadCount: b.loadCount,
		OldestMessageAge: oldest,
		CountByPriority: byPriority,
	}
}

// Shutdown stops the background sweep deterministically. It does not
// clear or persist the buffer; callers that want a durable shutdown
// should call PersistToDisk first.
func (b *MessageBuffer) Shutdown() {
	close(b.stopCh)
	b.wg.Wait()
}
