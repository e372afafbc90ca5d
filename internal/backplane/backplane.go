// Package backplane relays unread-count pushes between service instances so a
// user's connections receive them whichever instance consumed the event.
package backplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Message is the relayed payload.
type Message struct {
	UserID uuid.UUID `json:"userId"`
	Count  int64     `json:"count"`
}

// Broker is a fan-out channel: every subscriber sees every published payload.
type Broker interface {
	Publish(ctx context.Context, payload []byte) error
	// Subscribe blocks, calling handle for each payload, until ctx is done or
	// the subscription fails.
	Subscribe(ctx context.Context, handle func([]byte)) error
	Close() error
}

// Sink receives relayed counts, normally the local *realtime.Hub.
type Sink interface {
	Push(ctx context.Context, userID uuid.UUID, count int64) error
}

// Notifier publishes unread counts to the broker.
type Notifier struct {
	broker Broker
}

func NewNotifier(broker Broker) *Notifier {
	return &Notifier{broker: broker}
}

func (n *Notifier) Push(ctx context.Context, userID uuid.UUID, count int64) error {
	payload, err := json.Marshal(Message{UserID: userID, Count: count})
	if err != nil {
		return err
	}
	if err := n.broker.Publish(ctx, payload); err != nil {
		return fmt.Errorf("backplane publish: %w", err)
	}
	return nil
}

// Relay feeds broker messages into the local sink.
type Relay struct {
	broker       Broker
	sink         Sink
	logger       *zap.Logger
	retryBackoff time.Duration
	maxBackoff   time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
}

type RelayOption func(*Relay)

// WithRetryBackoff sets the resubscribe backoff, doubled per consecutive
// failure up to max.
func WithRetryBackoff(initial, max time.Duration) RelayOption {
	return func(r *Relay) {
		if initial > 0 {
			r.retryBackoff = initial
		}
		if max >= r.retryBackoff {
			r.maxBackoff = max
		}
	}
}

// WithRelaySleep replaces the backoff sleep, used by tests.
func WithRelaySleep(fn func(ctx context.Context, d time.Duration) error) RelayOption {
	return func(r *Relay) { r.sleep = fn }
}

func NewRelay(broker Broker, sink Sink, logger *zap.Logger, opts ...RelayOption) *Relay {
	r := &Relay{
		broker:       broker,
		sink:         sink,
		logger:       logger,
		retryBackoff: time.Second,
		maxBackoff:   30 * time.Second,
		sleep:        sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run subscribes until ctx is cancelled. A subscription that ends for any
// other reason is re-established after a backoff; the backoff resets once a
// resubscription has delivered a message.
func (r *Relay) Run(ctx context.Context) {
	r.logger.Info("Backplane relay started")
	attempt := 0
	for {
		var delivered atomic.Bool
		err := r.broker.Subscribe(ctx, func(payload []byte) {
			delivered.Store(true)
			r.deliver(ctx, payload)
		})
		if ctx.Err() != nil {
			break
		}

		if delivered.Load() {
			attempt = 0
		}
		attempt++
		if err == nil {
			err = errors.New("subscription closed")
		}
		delay := r.backoff(attempt)
		r.logger.Error("Backplane subscription ended, resubscribing",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if r.sleep(ctx, delay) != nil {
			break
		}
	}
	r.logger.Info("Backplane relay stopped")
}

func (r *Relay) deliver(ctx context.Context, payload []byte) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		r.logger.Warn("Dropping malformed backplane message", zap.Error(err))
		return
	}
	if err := r.sink.Push(ctx, msg.UserID, msg.Count); err != nil {
		r.logger.Error("Failed to deliver relayed unread count",
			zap.String("user_id", msg.UserID.String()),
			zap.Error(err),
		)
	}
}

func (r *Relay) backoff(attempt int) time.Duration {
	d := r.retryBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= r.maxBackoff {
			return r.maxBackoff
		}
	}
	return d
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
