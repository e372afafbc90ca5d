package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"notifyhub/pkg/apperr"
)

// TopicAdmin is the subset of *kafka.Client used for provisioning.
type TopicAdmin interface {
	Metadata(ctx context.Context, req *kafka.MetadataRequest) (*kafka.MetadataResponse, error)
	CreateTopics(ctx context.Context, req *kafka.CreateTopicsRequest) (*kafka.CreateTopicsResponse, error)
}

// TopicProvisioner makes sure the consumer's topic exists before subscribing.
type TopicProvisioner struct {
	admin             TopicAdmin
	topic             string
	numPartitions     int
	replicationFactor int
	timeout           time.Duration
	logger            *zap.Logger
}

func NewTopicProvisioner(admin TopicAdmin, topic string, numPartitions, replicationFactor int, timeout time.Duration, logger *zap.Logger) *TopicProvisioner {
	if numPartitions <= 0 {
		numPartitions = 1
	}
	if replicationFactor <= 0 {
		replicationFactor = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TopicProvisioner{
		admin:             admin,
		topic:             topic,
		numPartitions:     numPartitions,
		replicationFactor: replicationFactor,
		timeout:           timeout,
		logger:            logger,
	}
}

// EnsureTopicExists is idempotent. A concurrent creation by another instance
// (TopicAlreadyExists) counts as success; any other failure is a
// provisioning error.
func (p *TopicProvisioner) EnsureTopicExists(ctx context.Context) error {
	const op = "mq.EnsureTopicExists"

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	meta, err := p.admin.Metadata(ctx, &kafka.MetadataRequest{})
	if err != nil {
		return apperr.Provisioning(op, fmt.Errorf("failed to read metadata: %w", err))
	}
	for _, t := range meta.Topics {
		if t.Name == p.topic && t.Error == nil {
			p.logger.Debug("Topic already exists", zap.String("topic", p.topic))
			return nil
		}
	}

	p.logger.Info("Creating topic",
		zap.String("topic", p.topic),
		zap.Int("partitions", p.numPartitions),
		zap.Int("replication_factor", p.replicationFactor),
	)

	resp, err := p.admin.CreateTopics(ctx, &kafka.CreateTopicsRequest{
		Topics: []kafka.TopicConfig{{
			Topic:             p.topic,
			NumPartitions:     p.numPartitions,
			ReplicationFactor: p.replicationFactor,
		}},
	})
	if err != nil {
		return apperr.Provisioning(op, fmt.Errorf("failed to create topic: %w", err))
	}

	if topicErr := resp.Errors[p.topic]; topicErr != nil {
		if errors.Is(topicErr, kafka.TopicAlreadyExists) {
			p.logger.Info("Topic created concurrently", zap.String("topic", p.topic))
			return nil
		}
		return apperr.Provisioning(op, fmt.Errorf("failed to create topic %s: %w", p.topic, topicErr))
	}

	p.logger.Info("Topic created", zap.String("topic", p.topic))
	return nil
}
