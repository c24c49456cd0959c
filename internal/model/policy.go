package model

import "time"

// SelectionMode is a FailoverGroup's endpoint-selection strategy.
type SelectionMode string

const (
	ModeActivePassive SelectionMode = "ACTIVE_PASSIVE"
	ModeActiveActive SelectionMode = "ACTIVE_ACTIVE"
	ModeRoundRobin SelectionMode = "ROUND_ROBIN"
	ModeLeastLatency SelectionMode = "LEAST_LATENCY"
	ModeLoadWeighted SelectionMode = "LOAD_WEIGHTED"
)

// FailoverPolicy governs a group's selection strategy and retry/backoff
// behaviour — the FailoverPolicy.
type FailoverPolicy struct {
	Mode SelectionMode

	MaxRetries int
	RetryBackoffMs int
	RetryBackoffMultiplier float64
	RetryBackoffCapMs int

	FailbackEnabled bool
	FailbackStabilityMs int
}

// DefaultFailoverPolicy returns the policy used when a group is created
// without an explicit one.
func DefaultFailoverPolicy() FailoverPolicy {
	return FailoverPolicy{
		Mode: ModeActivePassive,
		MaxRetries: 3,
		RetryBackoffMs: 200,
		RetryBackoffMultiplier: 2.0,
		RetryBackoffCapMs: 10_000,
		FailbackEnabled: false,
		FailbackStabilityMs: 30_000,
	}
}

// BackoffDelay computes delay(attempt) as
// min(cap, base * multiplier^attempt), attempt starting at 0.
func (p FailoverPolicy) BackoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(p.RetryBackoffMs)
	mult := p.RetryBackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= mult
	}
	if cap := float64(p.RetryBackoffCapMs); cap > 0 && delay > cap {
		delay = cap
	}
	return time.Duration(delay) * time.Millisecond
}
