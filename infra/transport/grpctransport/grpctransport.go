// Package grpctransport sends orchestrator payloads over a pool of
// gRPC client connections, one per endpoint, using a raw byte codec so
// the transport carries whatever the caller already serialized
// (including output from internal/compression) without a generated
// protobuf schema in the loop.
package grpctransport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/retry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/lifo4ems/crl/internal/model"
)

const sendMethod = "/crl.transport.v1.Send/Deliver"

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// rawCodec passes []byte straight through the wire, skipping proto
// marshalling entirely.
type rawCodec struct{}

func (rawCodec) Name() string { return "raw" }

func (rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*rawMessage)
	if !ok {
		return nil, fmt.Errorf("grpctransport: unsupported type %T", v)
	}
	return b.data, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*rawMessage)
	if !ok {
		return fmt.Errorf("grpctransport: unsupported type %T", v)
	}
	b.data = data
	return nil
}

type rawMessage struct{ data []byte }

// Transport holds one *grpc.ClientConn per endpoint, dialled lazily.
type Transport struct {
	mu sync.Mutex
	conns map[string]*grpc.ClientConn
}

func New() *Transport {
	return &Transport{conns: make(map[string]*grpc.ClientConn)}
}

// Send implements orchestrator.SendFunc.
func (t *Transport) Send(ep model.Endpoint, payload []byte) error {
	conn, err := t.connFor(ep)
	if err != nil {
		return fmt.Errorf("grpctransport: dial %s: %w", ep.ID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reply := new(rawMessage)
	err = conn.Invoke(ctx, sendMethod, &rawMessage{data: payload}, reply, grpc.CallContentSubtype(rawCodec{}.Name()))
	if err != nil {
		return fmt.Errorf("grpctransport: invoke %s: %w", ep.ID, err)
	}
	return nil
}

func (t *Transport) connFor(ep model.Endpoint) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conn, ok := t.conns[ep.ID]; ok {
		return conn, nil
	}

	conn, err := grpc.NewClient(ep.URL,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(retry.UnaryClientInterceptor(
			retry.WithMax(3),
			retry.WithBackoff(retry.BackoffLinear(100*time.Millisecond)),
		)),
	)
	if err != nil {
		return nil, err
	}
	t.conns[ep.ID] = conn
	return conn, nil
}

// Close tears down every dialled connection.
func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, conn := range t.conns {
		conn.Close()
		delete(t.conns, id)
	}
}
