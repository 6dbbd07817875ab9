package events

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/segmentio/kafka-go"
)

// DefaultTopic is the Kafka topic lifecycle events are published to.
const DefaultTopic = "object_lifecycle"

// KafkaNotifier publishes lifecycle events to a Kafka topic so that
// downstream pipelines can consume created/changed/deleted without
// linking the process.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier creates a notifier writing to the topic on the given
// brokers.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Notify publishes the event, keyed by the object uuid so all events of
// one object land in the same partition.
func (k *KafkaNotifier) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("cannot marshal lifecycle event: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.UUID.String()),
		Value: body,
	})
}

// Close flushes and closes the underlying writer.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
