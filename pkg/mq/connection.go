package mq

import (
	"time"

	"github.com/segmentio/kafka-go"

	"notifyhub/pkg/config"
)

// NewReader creates a consumer-group reader for the configured topic.
// Offsets are committed explicitly; a group without a committed offset starts
// from the earliest message.
func NewReader(cfg config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        cfg.PollTimeout,
	})
}

// NewWriter creates a synchronous writer for the configured topic.
func NewWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
		WriteTimeout:           10 * time.Second,
	}
}

// NewAdminClient creates the client used for metadata and topic creation.
func NewAdminClient(cfg config.KafkaConfig) *kafka.Client {
	return &kafka.Client{
		Addr:    kafka.TCP(cfg.Brokers...),
		Timeout: cfg.AdminTimeout,
	}
}
