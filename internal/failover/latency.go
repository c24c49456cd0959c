package failover

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

const latencyHistorySize = 32

// latencyTracker keeps a bounded rolling history of an endpoint's recent
// probe/send latencies, replacing what would otherwise be an
// ever-growing slice. It reports the mean of the retained samples, which
// is what LEAST_LATENCY selection and DEGRADED-detection compare.
//
// hashicorp/golang-lru is an odd fit for "the last N samples" (it's
// built for key eviction, not a ring buffer) but it gives us bounded
// memory with zero hand-rolled eviction logic.
type latencyTracker struct {
	samples *lru.Cache[int, float64]
	seq int
}

func newLatencyTracker() *latencyTracker {
	c, _ := lru.New[int, float64](latencyHistorySize)
	return &latencyTracker{samples: c}
}

func (t *latencyTracker) Observe(ms float64) {
	t.seq++
	t.samples.Add(t.seq, ms)
}

func (t *latencyTracker) Mean() float64 {
	keys := t.samples.Keys()
	if len(keys) == 0 {
		return 0
	}
	var sum float64
	for _, k := range keys {
		if v, ok := t.samples.Peek(k); ok {
			sum += v
		}
	}
	return sum / float64(len(keys))
}
