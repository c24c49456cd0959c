// Package wstransport sends orchestrator payloads over a pool of
// per-endpoint WebSocket connections, dialled lazily and redialled on
// the next send after a write failure.
package wstransport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lifo4ems/crl/internal/model"
)

// Transport holds one *websocket.Conn per endpoint ID, dialled on
// first use.
type Transport struct {
	logger *slog.Logger
	dialer *websocket.Dialer

	mu sync.Mutex
	conns map[string]*websocket.Conn
}

func New(logger *slog.Logger) *Transport {
	return &Transport{
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		conns: make(map[string]*websocket.Conn),
	}
}

// Send implements orchestrator.SendFunc.
func (t *Transport) Send(ep model.Endpoint, payload []byte) error {
	conn, err := t.connFor(ep)
	if err != nil {
		return fmt.Errorf("wstransport: dial %s: %w", ep.ID, err)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		t.drop(ep.ID)
		return fmt.Errorf("wstransport: write %s: %w", ep.ID, err)
	}
	return nil
}

func (t *Transport) connFor(ep model.Endpoint) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conn, ok := t.conns[ep.ID]; ok {
		return conn, nil
	}

	conn, _, err := t.dialer.Dial(ep.URL, nil)
	if err != nil {
		return nil, err
	}
	t.conns[ep.ID] = conn
	return conn, nil
}

func (t *Transport) drop(endpointID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[endpointID]; ok {
		conn.Close()
		delete(t.conns, endpointID)
	}
}

// Probe implements a failover.ProbeFunc: open (or reuse) a connection
// and round-trip a ping frame, reporting the RTT in milliseconds.
func (t *Transport) Probe(ctx context.Context, ep model.Endpoint) (float64, error) {
	conn, err := t.connFor(ep)
	if err != nil {
		return 0, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(3 * time.Second)
	}

	start := time.Now()
	pong := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case pong <- struct{}{}:
		default:
		}
		return nil
	})
	if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		t.drop(ep.ID)
		return 0, err
	}

	select {
	case <-pong:
		return float64(time.Since(start).Microseconds()) / 1000.0, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close releases every open connection.
func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, conn := range t.conns {
		conn.Close()
		delete(t.conns, id)
	}
}
