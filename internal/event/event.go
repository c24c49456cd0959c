// Package event implements the telemetry surface as a named event
// stream: an explicit Observer interface backed by an in-process
// watermill pub/sub, so fan-out, registration order, and "no guaranteed
// delivery on listener failure" are all satisfied without a hidden
// global bus.
package event

import (
	"encoding/json"
	"errors"
	"time"
)

// Kind enumerates the named events the system emits.
type Kind string

const (
	MessageAdded Kind = "messageAdded"
	MessageRemoved Kind = "messageRemoved"
	MessageRequeued Kind = "messageRequeued"
	MessageExpired Kind = "messageExpired"
	MessageDropped Kind = "messageDropped"
	Persisted Kind = "persisted"
	Loaded Kind = "loaded"
	Cleared Kind = "cleared"
	Connected Kind = "connected"
	Disconnected Kind = "disconnected"
	Reconnecting Kind = "reconnecting"
	MaxReconnectReached Kind = "maxReconnectReached"
	Offline Kind = "offline"
	Degraded Kind = "degraded"
	BufferFlushed Kind = "bufferFlushed"
	Failover Kind = "failover"
	Failback Kind = "failback"
	CircuitOpened Kind = "circuitOpened"
	CircuitClosed Kind = "circuitClosed"
	HealthChanged Kind = "healthChanged"
)

// DropReason qualifies a MessageDropped event.
type DropReason string

const (
	ReasonBufferFull DropReason = "buffer_full"
	ReasonTooLarge DropReason = "too_large"
	ReasonMaxRetries DropReason = "max_retries"
	ReasonExpired DropReason = "expired"
)

// Event is the payload fanned out to Observers. Fields beyond Kind/At are
// populated according to Kind; consumers type-switch on Kind before
// reading the rest.
type Event struct {
	Kind Kind
	At time.Time

	MessageID string
	Topic string
	Reason DropReason
	Count int
	FilePath string
	EndpointID string
	GroupID string
	Err error
	Extra map[string]any
}

// eventWire is Event's JSON-safe shadow: the Err field, a plain error
// interface, does not round-trip through encoding/json on its own.
type eventWire struct {
	Kind Kind
	At time.Time

	MessageID string
	Topic string
	Reason DropReason
	Count int
	FilePath string
	EndpointID string
	GroupID string
	ErrText string
	Extra map[string]any
}

func (e Event) MarshalJSON() ([]byte, error) {
	w := eventWire{
		Kind: e.Kind, At: e.At,
		MessageID: e.MessageID, Topic: e.Topic, Reason: e.Reason,
		Count: e.Count, FilePath: e.FilePath, EndpointID: e.EndpointID,
		GroupID: e.GroupID, Extra: e.Extra,
	}
	if e.Err != nil {
		w.ErrText = e.Err.Error()
	}
	return json.Marshal(w)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Event{
		Kind: w.Kind, At: w.At,
		MessageID: w.MessageID, Topic: w.Topic, Reason: w.Reason,
		Count: w.Count, FilePath: w.FilePath, EndpointID: w.EndpointID,
		GroupID: w.GroupID, Extra: w.Extra,
	}
	if w.ErrText != "" {
		e.Err = errors.New(w.ErrText)
	}
	return nil
}

// Observer receives events fanned out in registration order. Handler
// failures (panics) are recovered and logged by the Bus — they never
// interrupt delivery to subsequent observers.
type Observer func(Event)

// Bus is the explicit interface every CRL component publishes through.
type Bus interface {
	Publish(Event)
	Subscribe(Observer) (unsubscribe func())
	Shutdown()
}
