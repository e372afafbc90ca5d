package mq

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"notifyhub/pkg/apperr"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/metrics"
	"notifyhub/pkg/otel"
	"notifyhub/pkg/trace"
	"notifyhub/pkg/util"
)

// Reader is the subset of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Provisioner ensures the topic exists before the consumer subscribes.
type Provisioner interface {
	EnsureTopicExists(ctx context.Context) error
}

// MessageHandler processes one message. A nil error or a permanent
// (validation) error acknowledges the message; anything else leaves it
// uncommitted and it is processed again.
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// State is the consumer's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateProvisioning
	StateSubscribed
	StatePolling
	StateProcessing
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProvisioning:
		return "provisioning"
	case StateSubscribed:
		return "subscribed"
	case StatePolling:
		return "polling"
	case StateProcessing:
		return "processing"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ConsumerConfig 消费者时间参数
type ConsumerConfig struct {
	Topic           string
	GroupID         string
	PollTimeout     time.Duration
	TopicRetryDelay time.Duration
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	ProcessTimeout  time.Duration
}

func (c *ConsumerConfig) withDefaults() {
	if c.PollTimeout <= 0 {
		c.PollTimeout = time.Second
	}
	if c.TopicRetryDelay <= 0 {
		c.TopicRetryDelay = 3 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxRetryBackoff < c.RetryBackoff {
		c.MaxRetryBackoff = 30 * time.Second
		if c.MaxRetryBackoff < c.RetryBackoff {
			c.MaxRetryBackoff = c.RetryBackoff
		}
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = 30 * time.Second
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ConsumerOption configures optional Consumer behaviour.
type ConsumerOption func(*Consumer)

// WithSleepFunc replaces the backoff sleep, used by tests.
func WithSleepFunc(fn SleepFunc) ConsumerOption {
	return func(c *Consumer) { c.sleep = fn }
}

// Consumer runs the single-goroutine poll/process/commit loop for one topic.
type Consumer struct {
	cfg         ConsumerConfig
	provisioner Provisioner
	newReader   func() Reader
	handler     MessageHandler
	logger      *zap.Logger
	sleep       SleepFunc
	state       atomic.Int32
}

// NewConsumer builds a consumer. newReader is called once, after the topic has
// been provisioned, so the group is joined only when the topic exists.
func NewConsumer(cfg ConsumerConfig, provisioner Provisioner, newReader func() Reader, handler MessageHandler, logger *zap.Logger, opts ...ConsumerOption) *Consumer {
	cfg.withDefaults()
	c := &Consumer{
		cfg:         cfg,
		provisioner: provisioner,
		newReader:   newReader,
		handler:     handler,
		logger:      logger,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	c.state.Store(int32(s))
}

// Run provisions the topic, subscribes and consumes until ctx is cancelled.
// A provisioning failure is returned immediately and the loop never starts.
// Graceful shutdown, including one that interrupts provisioning, returns nil.
func (c *Consumer) Run(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	c.setState(StateProvisioning)
	if err := c.provisioner.EnsureTopicExists(ctx); err != nil {
		c.setState(StateStopped)
		// 关闭信号打断了 metadata 请求，属于正常退出
		if ctx.Err() != nil {
			c.logger.Info("Consumer stopped during provisioning", zap.String("topic", c.cfg.Topic))
			return nil
		}
		if apperr.Is(err, apperr.KindProvisioning) {
			return err
		}
		return apperr.Provisioning("mq.Consumer.Run", err)
	}

	reader := c.newReader()
	c.setState(StateSubscribed)
	c.logger.Info("Consumer subscribed",
		zap.String("topic", c.cfg.Topic),
		zap.String("group_id", c.cfg.GroupID),
	)

	c.loop(ctx, reader)

	c.setState(StateStopping)
	c.logger.Info("Consumer stopping, leaving group", zap.String("topic", c.cfg.Topic))
	if err := reader.Close(); err != nil {
		c.logger.Error("Failed to close reader", zap.String("topic", c.cfg.Topic), zap.Error(err))
	}
	c.setState(StateStopped)
	c.logger.Info("Consumer stopped", zap.String("topic", c.cfg.Topic))
	return nil
}

func (c *Consumer) loop(ctx context.Context, reader Reader) {
	// kafka-go 的 reader 在 FetchMessage 后位置已前移，
	// 处理失败的消息在本地保留并在退避后重新处理，直到成功或退出
	var held *kafka.Message
	attempt := 0

	for ctx.Err() == nil {
		var msg kafka.Message
		if held != nil {
			msg = *held
		} else {
			c.setState(StatePolling)
			m, ok := c.poll(ctx, reader)
			if !ok {
				continue
			}
			msg = m
		}

		c.setState(StateProcessing)
		err := c.process(ctx, msg)
		if err != nil && !apperr.IsPermanent(err) {
			attempt++
			held = &msg
			delay := c.backoff(attempt)
			c.logger.Error("Message processing failed, will retry without commit",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.String("error_type", util.ClassifyError(err)),
				zap.Error(err),
			)
			if c.sleep(ctx, delay) != nil {
				return
			}
			continue
		}

		if err != nil {
			c.logger.Warn("Skipping unprocessable message",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}

		held = nil
		attempt = 0
		if !c.commit(ctx, reader, msg) {
			return
		}
	}
}

// poll fetches one message under the poll timeout. ok is false for an empty
// poll or a broker error that has already been waited out.
func (c *Consumer) poll(ctx context.Context, reader Reader) (kafka.Message, bool) {
	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()

	msg, err := reader.FetchMessage(pollCtx)
	if err == nil {
		return msg, true
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return kafka.Message{}, false
	}

	if errors.Is(err, kafka.UnknownTopicOrPartition) {
		metrics.IncrementBrokerError(c.cfg.Topic, "topic_unavailable")
		c.logger.Warn("Topic not available yet, backing off",
			zap.String("topic", c.cfg.Topic),
			zap.Duration("delay", c.cfg.TopicRetryDelay),
		)
		_ = c.sleep(ctx, c.cfg.TopicRetryDelay)
		return kafka.Message{}, false
	}

	metrics.IncrementBrokerError(c.cfg.Topic, "fetch")
	c.logger.Error("Failed to fetch message",
		zap.String("topic", c.cfg.Topic),
		zap.Error(apperr.TransientBroker("mq.Consumer.poll", err)),
	)
	_ = c.sleep(ctx, c.cfg.RetryBackoff)
	return kafka.Message{}, false
}

// process runs the handler on a context detached from shutdown so an
// in-flight message finishes within ProcessTimeout.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) (err error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ProcessTimeout)
	defer cancel()

	pctx, span := otel.MQConsumeSpan(pctx, &msg, c.cfg.GroupID)
	defer span.End()
	pctx = trace.Ensure(pctx, headerValue(msg, trace.HeaderName))

	log := logger.WithTrace(pctx, c.logger)
	log.Debug("Received message",
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Int("message_size", len(msg.Value)),
	)

	start := time.Now()
	defer func() {
		// Panic 恢复：按处理失败对待，不提交 offset
		if r := recover(); r != nil {
			log.Error("Handler panic recovered",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
		span.RecordError(err)
		metrics.RecordMQConsume(msg.Topic, resultLabel(err), time.Since(start))
	}()

	return c.handler(pctx, msg)
}

// commit acknowledges msg, retrying with backoff until it succeeds or the
// consumer is shutting down. It reports whether the loop should continue.
func (c *Consumer) commit(ctx context.Context, reader Reader, msg kafka.Message) bool {
	for attempt := 1; ; attempt++ {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ProcessTimeout)
		err := reader.CommitMessages(cctx, msg)
		cancel()
		if err == nil {
			return true
		}

		metrics.IncrementBrokerError(c.cfg.Topic, "commit")
		c.logger.Error("Failed to commit offset",
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if c.sleep(ctx, c.backoff(attempt)) != nil {
			return false
		}
	}
}

// backoff 指数退避，上限 MaxRetryBackoff
func (c *Consumer) backoff(attempt int) time.Duration {
	d := c.cfg.RetryBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.cfg.MaxRetryBackoff {
			return c.cfg.MaxRetryBackoff
		}
	}
	return d
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "processed"
	case apperr.IsPermanent(err):
		return "skipped"
	default:
		return "failed"
	}
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
