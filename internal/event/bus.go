package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const busTopic = "crl.events"

// watermillBus is a Bus backed by an in-process watermill gochannel
// pub/sub. One call to Publish becomes one watermill message; each
// Subscribe call gets its own watermill subscription and a goroutine that
// decodes and invokes the Observer — fan-out and registration order come
// for free from gochannel's per-subscriber buffered channels.
type watermillBus struct {
	pubSub *gochannel.GoChannel
	logger *slog.Logger

	mu sync.Mutex
	cancel []context.CancelFunc
	closed bool
}

// NewBus constructs a Bus. logger may be nil, in which case slog.Default
// is used.
func NewBus(logger *slog.Logger) Bus {
	if logger == nil {
		logger = slog.Default()
	}
	wlogger := watermill.NewSlogLogger(logger)
	return &watermillBus{
		pubSub: gochannel.NewGoChannel(gochannel.Config{
				OutputChannelBuffer: 256,
				Persistent: false,
				BlockPublishUntilSubscriberAck: false,
			}, wlogger),
		logger: logger,
	}
}

func (b *watermillBus) Publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("EVENT_MARSHAL_FAILED", "err", err, "kind", ev.Kind)
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubSub.Publish(busTopic, msg); err != nil {
		b.logger.Error("EVENT_PUBLISH_FAILED", "err", err, "kind", ev.Kind)
	}
}

func (b *watermillBus) Subscribe(obs Observer) func() {
	ctx, cancel := context.WithCancel(context.Background())

	msgs, err := b.pubSub.Subscribe(ctx, busTopic)
	if err != nil {
		b.logger.Error("EVENT_SUBSCRIBE_FAILED", "err", err)
		cancel()
		return func() {}
	}

	b.mu.Lock()
	b.cancel = append(b.cancel, cancel)
	b.mu.Unlock()

	go func() {
		for msg := range msgs {
			b.dispatch(msg, obs)
		}
	}()

	return cancel
}

// dispatch decodes one message and invokes obs, recovering any panic so
// one misbehaving listener never starves the others or kills the
// subscription goroutine.
func (b *watermillBus) dispatch(msg *message.Message, obs Observer) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("EVENT_OBSERVER_PANIC", "recovered", r)
		}
		msg.Ack()
	}()

	var ev Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		b.logger.Error("EVENT_UNMARSHAL_FAILED", "err", err)
		return
	}
	obs(ev)
}

func (b *watermillBus) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	cancels := b.cancel
	b.cancel = nil
	b.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if err := b.pubSub.Close(); err != nil {
		b.logger.Error("EVENT_BUS_CLOSE_FAILED", "err", err)
	}
}
