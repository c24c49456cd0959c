package buffer_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lifo4ems/crl/internal/buffer"
	"github.com/lifo4ems/crl/internal/crlerrors"
	"github.com/lifo4ems/crl/internal/model"
)

func newTestBuffer(t *testing.T, opts ...buffer.Option) *buffer.MessageBuffer {
	t.Helper()
	b := buffer.New(opts...)
	t.Cleanup(b.Shutdown)
	return b
}

func withMaxMemorySize(n int) buffer.Option {
	cfg := buffer.DefaultConfig()
	cfg.MaxMemorySize = n
	return buffer.WithConfig(cfg)
}

func withPersistPath(path string) buffer.Option {
	cfg := buffer.DefaultConfig()
	cfg.PersistPath = path
	return buffer.WithConfig(cfg)
}

func TestAdd_PriorityOrder(t *testing.T) {
	b := newTestBuffer(t)

	_, err := b.Add(&model.BufferedMessage{Topic: "batch", Priority: model.PriorityBatch, Payload: []byte("4")})
	require.NoError(t, err)
	_, err = b.Add(&model.BufferedMessage{Topic: "critical", Priority: model.PriorityCritical, Payload: []byte("1")})
	require.NoError(t, err)
	_, err = b.Add(&model.BufferedMessage{Topic: "normal", Priority: model.PriorityNormal, Payload: []byte("3")})
	require.NoError(t, err)
	_, err = b.Add(&model.BufferedMessage{Topic: "high", Priority: model.PriorityHigh, Payload: []byte("2")})
	require.NoError(t, err)

	order := []string{"critical", "high", "normal", "batch"}
	for _, topic := range order {
		msg, ok := b.Pop()
		require.True(t, ok)
		require.Equal(t, topic, msg.Topic)
	}
}

func TestAdd_SamePriorityIsFIFO(t *testing.T) {
	b := newTestBuffer(t)

	_, err := b.Add(&model.BufferedMessage{Topic: "first", Priority: model.PriorityNormal, Payload: []byte("a")})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = b.Add(&model.BufferedMessage{Topic: "second", Priority: model.PriorityNormal, Payload: []byte("b")})
	require.NoError(t, err)

	msg, ok := b.Pop()
	require.True(t, ok)
	require.Equal(t, "first", msg.Topic)
}

func TestAdd_MessageTooLargeIsRejected(t *testing.T) {
	b := newTestBuffer(t, withMaxMemorySize(100))

	_, err := b.Add(&model.BufferedMessage{Topic: "big", Priority: model.PriorityNormal, Payload: make([]byte, 200)})
	require.Error(t, err)
}

func TestMakeRoom_NeverDropsEqualOrHigherPriority(t *testing.T) {
	// Cap sized for exactly one resident message plus its fixed overhead.
	b := newTestBuffer(t, withMaxMemorySize(300))

	_, err := b.Add(&model.BufferedMessage{Topic: "critical-1", Priority: model.PriorityCritical, Payload: make([]byte, 100)})
	require.NoError(t, err)

	// A second, equal-priority message can't evict the first — the
	// buffer must reject the incoming message instead.
	_, err = b.Add(&model.BufferedMessage{Topic: "critical-2", Priority: model.PriorityCritical, Payload: make([]byte, 100)})
	require.Error(t, err)

	require.Equal(t, 1, b.GetSize())
}

func TestMakeRoom_DropsLowerPriorityForHigher(t *testing.T) {
	b := newTestBuffer(t, withMaxMemorySize(300))

	_, err := b.Add(&model.BufferedMessage{Topic: "batch", Priority: model.PriorityBatch, Payload: make([]byte, 100)})
	require.NoError(t, err)

	_, err = b.Add(&model.BufferedMessage{Topic: "critical", Priority: model.PriorityCritical, Payload: make([]byte, 100)})
	require.NoError(t, err)

	require.Equal(t, 1, b.GetSize())
	msg, ok := b.Peek()
	require.True(t, ok)
	require.Equal(t, "critical", msg.Topic)
}

func TestRequeue_DemotesAndResetsTimestamp(t *testing.T) {
	b := newTestBuffer(t)

	msg := &model.BufferedMessage{Topic: "t", Priority: model.PriorityHigh, Payload: []byte("x"), MaxRetries: 3}
	id, err := b.Add(msg)
	require.NoError(t, err)
	popped, ok := b.Pop()
	require.True(t, ok)
	require.Equal(t, id, popped.ID)

	ok, err = b.Requeue(popped)
	require.NoError(t, err)
	require.True(t, ok)

	requeued, err := b.Get(popped.ID)
	require.NoError(t, err)
	require.Equal(t, model.PriorityNormal, requeued.Priority)
	require.Equal(t, 1, requeued.Retries)
}

func TestRequeue_DropsOnceRetriesExhausted(t *testing.T) {
	b := newTestBuffer(t)

	msg := &model.BufferedMessage{Topic: "t", Priority: model.PriorityNormal, Payload: []byte("x"), MaxRetries: 0, Retries: 0}
	_, err := b.Add(msg)
	require.NoError(t, err)
	popped, ok := b.Pop()
	require.True(t, ok)

	ok, err = b.Requeue(popped)
	require.ErrorIs(t, err, crlerrors.ErrRetriesExhausted)
	require.False(t, ok)
	require.Equal(t, 0, b.GetSize())
}

func TestRequeue_StillResidentIsAnError(t *testing.T) {
	b := newTestBuffer(t)

	msg := &model.BufferedMessage{Topic: "t", Priority: model.PriorityNormal, Payload: []byte("x"), MaxRetries: 3}
	_, err := b.Add(msg)
	require.NoError(t, err)

	ok, err := b.Requeue(msg)
	require.Error(t, err)
	require.False(t, ok)
}

func TestPersistAndLoad_RoundTripPreservesPopOrder(t *testing.T) {
	dir := t.TempDir()
	b := newTestBuffer(t, withPersistPath(dir))

	_, err := b.Add(&model.BufferedMessage{Topic: "batch", Priority: model.PriorityBatch, Payload: []byte("4")})
	require.NoError(t, err)
	_, err = b.Add(&model.BufferedMessage{Topic: "critical", Priority: model.PriorityCritical, Payload: []byte("1")})
	require.NoError(t, err)
	_, err = b.Add(&model.BufferedMessage{Topic: "normal", Priority: model.PriorityNormal, Payload: []byte("3")})
	require.NoError(t, err)

	path, err := b.PersistToDisk()
	require.NoError(t, err)
	require.FileExists(t, path)

	reloaded := newTestBuffer(t, withPersistPath(dir))
	n, err := reloaded.LoadFromDisk(path)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	for _, topic := range []string{"critical", "normal", "batch"} {
		msg, ok := reloaded.Pop()
		require.True(t, ok)
		require.Equal(t, topic, msg.Topic)
	}
}

func TestLoadFromDisk_SkipsExpiredEntries(t *testing.T) {
	dir := t.TempDir()
	b := newTestBuffer(t, withPersistPath(dir))

	past := time.Now().Add(-time.Hour)
	_, err := b.Add(&model.BufferedMessage{Topic: "stale", Priority: model.PriorityNormal, Payload: []byte("x"), ExpiresAt: &past})
	require.NoError(t, err)

	path, err := b.PersistToDisk()
	require.NoError(t, err)

	reloaded := newTestBuffer(t, withPersistPath(dir))
	n, err := reloaded.LoadFromDisk(path)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestLoadFromDisk_CorruptFileFails(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/corrupt.json"
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	b := newTestBuffer(t, withPersistPath(dir))
	_, err := b.LoadFromDisk(path)
	require.Error(t, err)
}

func TestGetByTopicAndPriority(t *testing.T) {
	b := newTestBuffer(t)

	_, err := b.Add(&model.BufferedMessage{Topic: "a", Priority: model.PriorityHigh, Payload: []byte("1")})
	require.NoError(t, err)
	_, err = b.Add(&model.BufferedMessage{Topic: "a", Priority: model.PriorityNormal, Payload: []byte("2")})
	require.NoError(t, err)
	_, err = b.Add(&model.BufferedMessage{Topic: "b", Priority: model.PriorityHigh, Payload: []byte("3")})
	require.NoError(t, err)

	require.Len(t, b.GetByTopic("a", 0), 2)
	require.Len(t, b.GetByPriority(model.PriorityHigh, 0), 2)
	require.Len(t, b.GetByTopic("a", 1), 1)
}

func TestClear(t *testing.T) {
	b := newTestBuffer(t)
	_, err := b.Add(&model.BufferedMessage{Topic: "a", Priority: model.PriorityNormal, Payload: []byte("1")})
	require.NoError(t, err)

	b.Clear()
	require.Equal(t, 0, b.GetSize())
	_, ok := b.Peek()
	require.False(t, ok)
}

func TestGetStats_TracksCountsByPriority(t *testing.T) {
	b := newTestBuffer(t)
	_, err := b.Add(&model.BufferedMessage{Topic: "a", Priority: model.PriorityHigh, Payload: []byte("1")})
	require.NoError(t, err)
	_, err = b.Add(&model.BufferedMessage{Topic: "b", Priority: model.PriorityHigh, Payload: []byte("2")})
	require.NoError(t, err)

	stats := b.GetStats()
	require.Equal(t, 2, stats.Count)
	require.Equal(t, 2, stats.CountByPriority["HIGH"])
}
