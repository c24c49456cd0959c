package orchestrator

import (
	"time"

	"github.com/lifo4ems/crl/internal/compression"
	"github.com/lifo4ems/crl/internal/crlerrors"
	"github.com/lifo4ems/crl/internal/event"
	"github.com/lifo4ems/crl/internal/model"
)

// Send is the single entry point behind SendCommand/SendTelemetry: it
// inspects the connection state, buffers instead of attempting a send
// while DISCONNECTED/OFFLINE (subject to bufferWhenOffline), otherwise
// compresses adaptively and hands off to the failover manager; a
// retry-exhausted send is buffered the same way a pre-emptive one is,
// so a caller sees "buffered" either way rather than having to
// distinguish the two failure paths.
func (o *Orchestrator) Send(topic string, payload []byte, opts model.SendOptions) model.TransmissionResult {
	o.mu.RLock()
	sendFn := o.sendFn
	state := o.state
	o.mu.RUnlock()

	if sendFn == nil {
		return model.TransmissionResult{Success: false, Error: crlerrors.ErrNotInitialized}
	}

	groupID := opts.GroupID
	if groupID == "" {
		groupID = o.cfg.DefaultGroupID
	}

	if state == model.StateDisconnected || state == model.StateOffline || state == model.StateReconnecting {
		return o.bufferOrFail(topic, payload, opts)
	}

	result, compErr := o.compress.CompressAdaptive(payload)
	sendPayload := payload
	compressed := false
	if compErr == nil {
		sendPayload = result.Data
		compressed = result.Algorithm != compression.None
	}

	ctx, cancel := o.sendContext()
	defer cancel()

	var latencyMs float64
	var msgID string
	sendErr := o.failover.ExecuteWithFailover(ctx, groupID, func(ep model.Endpoint) error {
		start := time.Now()
		err := sendFn(ep, sendPayload)
		latencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		return err
	})

	if sendErr == nil {
		return model.TransmissionResult{
			Success: true,
			MessageID: msgID,
			Compressed: compressed,
			LatencyMs: latencyMs,
		}
	}

	buffered := o.bufferOrFail(topic, payload, opts)
	buffered.Error = sendErr
	return buffered
}

// SendCommand sends with CRITICAL priority and a five-attempt retry
// budget — commands are control-plane traffic the caller cannot afford
// to silently drop.
func (o *Orchestrator) SendCommand(topic string, payload []byte, groupID string) model.TransmissionResult {
	return o.Send(topic, payload, model.SendOptions{
		Priority: model.PriorityCritical,
		MaxRetries: 5,
		GroupID: groupID,
	})
}

// SendTelemetry sends with NORMAL priority and a 60-second expiry —
// stale telemetry is worthless once it's that old, so it is left to
// expire out of the buffer rather than retried indefinitely.
func (o *Orchestrator) SendTelemetry(topic string, payload []byte, groupID string) model.TransmissionResult {
	expiresAt := time.Now().Add(60 * time.Second)
	return o.Send(topic, payload, model.SendOptions{
		Priority: model.PriorityNormal,
		ExpiresAt: &expiresAt,
		GroupID: groupID,
	})
}

func (o *Orchestrator) bufferOrFail(topic string, payload []byte, opts model.SendOptions) model.TransmissionResult {
	if !o.cfg.BufferWhenOffline {
		return model.TransmissionResult{Success: false, Error: crlerrors.ErrNoHealthyEndpoint}
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	msg := &model.BufferedMessage{
		Topic: topic,
		Priority: opts.Priority,
		Payload: payload,
		Metadata: opts.Metadata,
		MaxRetries: maxRetries,
		ExpiresAt: opts.ExpiresAt,
	}

	id, err := o.buf.Add(msg)
	if err != nil {
		return model.TransmissionResult{Success: false, Error: err}
	}
	return model.TransmissionResult{Success: true, MessageID: id, Buffered: true}
}

// FlushBuffer drains the buffer strictly in priority/age order,
// stopping at the first send failure so later-queued messages are not
// sent out of order ahead of one that's still stuck. The failed
// message stays resident (not popped) to be retried on the next flush.
// Safe to call at any time: a call while not CONNECTED is a no-op that
// returns 0 rather than attempting to send over a link that's known to
// be down. Returns the number of messages successfully delivered.
func (o *Orchestrator) FlushBuffer() (int, error) {
	o.mu.RLock()
	sendFn := o.sendFn
	state := o.state
	o.mu.RUnlock()

	if state != model.StateConnected {
		return 0, nil
	}
	if sendFn == nil {
		return 0, crlerrors.ErrNotInitialized
	}

	groupID := o.cfg.DefaultGroupID
	flushed := 0
	for {
		msg, ok := o.buf.Peek()
		if !ok {
			break
		}

		ctx, cancel := o.sendContext()
		sendErr := o.failover.ExecuteWithFailover(ctx, groupID, func(ep model.Endpoint) error {
			return sendFn(ep, msg.Payload)
		})
		cancel()

		if sendErr != nil {
			if flushed > 0 {
				o.emit(event.Event{Kind: event.BufferFlushed, Count: flushed})
			}
			return flushed, sendErr
		}

		o.buf.Pop()
		flushed++
	}

	o.emit(event.Event{Kind: event.BufferFlushed, Count: flushed})
	return flushed, nil
}
