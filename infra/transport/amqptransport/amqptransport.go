// Package amqptransport sends orchestrator payloads as watermill
// messages over durable AMQP, one topic (and queue) per endpoint, named
// after the endpoint's Name.
package amqptransport

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/lifo4ems/crl/internal/model"
)

// Transport publishes through a single durable AMQP publisher, routing
// by the endpoint's Name as the topic/queue suffix.
type Transport struct {
	logger *slog.Logger
	pub *amqp.Publisher
}

func New(amqpURI string, logger *slog.Logger) (*Transport, error) {
	config := amqp.NewDurablePubSubConfig(amqpURI, amqp.GenerateQueueNameTopicNameWithSuffix("crl"))
	pub, err := amqp.NewPublisher(config, watermill.NewSlogLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("amqptransport: new publisher: %w", err)
	}
	return &Transport{logger: logger, pub: pub}, nil
}

// Send implements orchestrator.SendFunc, publishing payload to a topic
// named after the endpoint.
func (t *Transport) Send(ep model.Endpoint, payload []byte) error {
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := t.pub.Publish(ep.Name, msg); err != nil {
		return fmt.Errorf("amqptransport: publish %s: %w", ep.Name, err)
	}
	return nil
}

// Close shuts the underlying publisher's channel/connection down.
func (t *Transport) Close() error {
	return t.pub.Close()
}
