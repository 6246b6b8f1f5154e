package kafka

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-restaurant-backend/internal/events"
)

// EventPublisher adapts Producer to events.Publisher.
type EventPublisher struct {
	P *Producer
}

func (e EventPublisher) Publish(ctx context.Context, topic string, env events.Envelope) error {
	value, err := Marshal(env)
	if err != nil {
		return err
	}
	return e.P.Publish(ctx, topic, events.PartitionKey(env.CorrelationID), value,
		kafka.Header{Key: "x-event-type", Value: []byte(env.EventType)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}
