package failover

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitState is the CircuitBreakerState enum, kept distinct
// from gobreaker.State so the rest of the package never imports
// gobreaker directly.
type CircuitState int8

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

func fromGobreaker(s gobreaker.State) CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return CircuitOpen
	case gobreaker.StateHalfOpen:
		return CircuitHalfOpen
	default:
		return CircuitClosed
	}
}

// CircuitBreaker adapts sony/gobreaker's generic circuit breaker to a
// three-state machine with openedAt/nextProbeAt observability fields.
// gobreaker's own CLOSED -> OPEN -> HALF_OPEN -> {CLOSED, OPEN} machine
// already matches the required invariants, including "no transition
// occurs from OPEN directly to CLOSED" and "one in-flight probe allowed
// in HALF_OPEN" (via MaxRequests: 1) — this type just adds the
// timestamps the data model needs and a uniform Signal entrypoint used
// by both real sends and out-of-band reportSuccess/reportFailure hooks.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker[any]

	mu sync.Mutex
	consecutiveFailures int
	openedAt time.Time
	nextProbeAt time.Time
	openCooldown time.Duration
}

// NewCircuitBreaker constructs a breaker for one endpoint. onStateChange
// is invoked (from gobreaker, synchronously) on every transition.
func NewCircuitBreaker(endpointID string, failureThreshold int, openCooldown time.Duration, onStateChange func(from, to CircuitState)) *CircuitBreaker {
	b := &CircuitBreaker{openCooldown: openCooldown}

	settings := gobreaker.Settings{
		Name: endpointID,
		MaxRequests: 1,
		Timeout: openCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= failureThreshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.mu.Lock()
			if to == gobreaker.StateOpen {
				b.openedAt = time.Now()
				b.nextProbeAt = b.openedAt.Add(b.openCooldown)
			}
			if to == gobreaker.StateClosed {
				b.consecutiveFailures = 0
			}
			b.mu.Unlock()

			if onStateChange != nil {
				onStateChange(fromGobreaker(from), fromGobreaker(to))
			}
		},
	}

	b.cb = gobreaker.NewCircuitBreaker[any](settings)
	return b
}

// State returns the breaker's current CircuitState.
func (b *CircuitBreaker) State() CircuitState {
	return fromGobreaker(b.cb.State())
}

// Allowed reports whether a select() call may route to this endpoint:
// CLOSED always; HALF_OPEN only once nextProbeAt has passed (gobreaker
// already enforces the "one in flight" part of this via MaxRequests).
func (b *CircuitBreaker) Allowed() bool {
	switch b.State() {
	case CircuitClosed:
		return true
	case CircuitHalfOpen:
		b.mu.Lock()
		defer b.mu.Unlock()
		return !time.Now().Before(b.nextProbeAt)
	default:
		return false
	}
}

// Signal feeds one outcome (success=true, or failure with err) through
// the breaker — used uniformly by executeWithFailover's real sends and
// by reportSuccess/reportFailure's out-of-band hooks: the two have
// identical state-machine effects.
func (b *CircuitBreaker) Signal(success bool, err error) {
	_, execErr := b.cb.Execute(func() (any, error) {
			if success {
				return nil, nil
			}
			if err == nil {
				err = errSignaledFailure
			}
			return nil, err
	})

	if execErr == gobreaker.ErrOpenState || execErr == gobreaker.ErrTooManyRequests {
		// The breaker skipped the call entirely (already open, or a probe
		// already in flight in half-open) — no new outcome to record.
		return
	}

	b.mu.Lock()
	if success {
		b.consecutiveFailures = 0
	} else {
		b.consecutiveFailures++
	}
	b.mu.Unlock()
}

// OpenedAt/NextProbeAt expose the timestamps for
// getEndpointStatus-style introspection.
func (b *CircuitBreaker) OpenedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openedAt
}

func (b *CircuitBreaker) NextProbeAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextProbeAt
}

func (b *CircuitBreaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

var errSignaledFailure = &signaledFailure{}

type signaledFailure struct{}

func (*signaledFailure) Error() string { return "failover: signaled failure" }
