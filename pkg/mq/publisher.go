package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"notifyhub/pkg/otel"
	"notifyhub/pkg/trace"
)

// MessageWriter is the subset of *kafka.Writer used by Publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes JSON events to one topic.
type Publisher struct {
	writer MessageWriter
	topic  string
}

func NewPublisher(writer MessageWriter, topic string) *Publisher {
	return &Publisher{writer: writer, topic: topic}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Publish marshals payload and writes it keyed by key. The trace id and the
// OpenTelemetry context travel in message headers.
func (p *Publisher) Publish(ctx context.Context, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	ctx, span := otel.MQPublishSpan(ctx, p.topic)
	defer span.End()

	msg := kafka.Message{
		Key:   []byte(key),
		Value: body,
	}
	if traceID := trace.FromContext(ctx); traceID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: trace.HeaderName, Value: []byte(traceID)})
	}
	otel.InjectKafkaHeaders(ctx, &msg)

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to publish to %s: %w", p.topic, err)
	}
	return nil
}
