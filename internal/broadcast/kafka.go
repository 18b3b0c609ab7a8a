package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes events to a Kafka topic keyed by event name so consumers
// see each kind in order.
type KafkaSink struct {
	writer MessageWriter
}

// NewKafkaWriter builds a kafka-go writer for the given brokers and topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// NewKafkaSink constructs a KafkaSink.
func NewKafkaSink(writer MessageWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

// Name implements Sink.
func (s *KafkaSink) Name() string { return "kafka" }

// Publish implements Sink.
func (s *KafkaSink) Publish(ctx context.Context, evt Event) error {
	if s == nil || s.writer == nil {
		return ErrSinkClosed
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("broadcast: encode %s: %w", evt.Name, err)
	}
	headers := []kafka.Header{
		{Key: "event", Value: []byte(evt.Name)},
		{Key: "occurred_at", Value: []byte(strconv.FormatInt(evt.OccurredAt.UnixMilli(), 10))},
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(evt.Name),
		Value:   payload,
		Headers: headers,
		Time:    evt.OccurredAt,
	})
}

// Close releases the writer.
func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
