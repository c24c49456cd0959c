// Package crlerrors collects the sentinel errors exported across the
// connection resilience layer so callers can errors.Is/As on a stable set
// of conditions instead of matching message strings.
package crlerrors

import "errors"

var (
	// ErrNotInitialized is returned by Orchestrator.Send when Initialize
	// has not been called with a transport callback yet.
	ErrNotInitialized = errors.New("crl: orchestrator not initialized")

	// ErrMessageTooLarge is returned by MessageBuffer.Add when a single
	// message's accounted size exceeds the buffer's memory cap outright.
	ErrMessageTooLarge = errors.New("crl: message exceeds buffer memory cap")

	// ErrMessageAlreadyBuffered is returned by MessageBuffer.Requeue when
	// called on a message that was never popped (still resident).
	ErrMessageAlreadyBuffered = errors.New("crl: message is still resident in the buffer")

	// ErrRetriesExhausted is returned by MessageBuffer.Requeue when the
	// message's retry budget is exhausted; the message is dropped.
	ErrRetriesExhausted = errors.New("crl: message retry budget exhausted")

	// ErrMessageNotFound is returned by MessageBuffer.Get/Remove.
	ErrMessageNotFound = errors.New("crl: message not found")

	// ErrNoHealthyEndpoint is returned by the FailoverManager when no
	// endpoint in a group currently qualifies as healthy.
	ErrNoHealthyEndpoint = errors.New("crl: no healthy endpoint available")

	// ErrRetriesExceeded is returned by ExecuteWithFailover after the
	// group's retry budget is exhausted without a successful send.
	ErrRetriesExceeded = errors.New("crl: failover retry budget exceeded")

	// ErrUnknownGroup is returned when a groupId has no registered
	// endpoints.
	ErrUnknownGroup = errors.New("crl: unknown failover group")

	// ErrUnknownEndpoint is returned when an endpoint id is not
	// registered in any group.
	ErrUnknownEndpoint = errors.New("crl: unknown endpoint")

	// ErrCircuitOpen is wrapped into ExecuteWithFailover's error when no
	// endpoint could be selected on the first attempt and at least one of
	// the group's endpoints has a breaker that is not admitting traffic.
	ErrCircuitOpen = errors.New("crl: circuit breaker open")

	// ErrUnsupportedAlgorithm is returned by CompressionService when
	// asked to operate with an algorithm it does not recognise.
	ErrUnsupportedAlgorithm = errors.New("crl: unsupported compression algorithm")

	// ErrBrotliUnavailable signals that the host build lacks a brotli
	// implementation; callers fall back to GZIP.
	ErrBrotliUnavailable = errors.New("crl: brotli unavailable")

	// ErrBufferFull is returned by MessageBuffer.Add when makeRoom could
	// not evict enough lower-priority residents to admit the message.
	ErrBufferFull = errors.New("crl: buffer full, no lower-priority room to evict")
)
