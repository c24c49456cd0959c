package model

import "time"

// ConnectionState is the orchestrator's top-level connectivity state
// machine.
type ConnectionState int8

const (
	StateConnected ConnectionState = iota
	StateDisconnected
	StateReconnecting
	StateDegraded
	StateOffline
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateDegraded:
		return "DEGRADED"
	case StateOffline:
		return "OFFLINE"
	default:
		return "UNKNOWN"
	}
}

// TransmissionResult is the outcome of Orchestrator.Send/SendCommand/
// SendTelemetry.
type TransmissionResult struct {
	Success bool
	MessageID string
	Buffered bool
	Compressed bool
	LatencyMs float64
	Error error
}

// SendOptions customises a single Send call.
type SendOptions struct {
	Priority Priority
	MaxRetries int
	ExpiresAt *time.Time
	GroupID string
	Metadata map[string]any
}
