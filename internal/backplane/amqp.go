package backplane

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"
)

var errBrokerClosed = errors.New("amqp broker closed")

// AMQPBroker uses a RabbitMQ fanout exchange. Each subscriber binds its own
// exclusive, auto-deleted queue. A dropped connection or channel is re-opened
// on the next Publish or Subscribe.
type AMQPBroker struct {
	url      string
	exchange string

	mu      sync.Mutex
	conn    *amqp091.Connection
	publish *amqp091.Channel
	closed  bool
}

// NewAMQPBroker dials url and declares the exchange.
func NewAMQPBroker(url, exchange string) (*AMQPBroker, error) {
	b := &AMQPBroker{url: url, exchange: exchange}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.publishChannelLocked(); err != nil {
		b.closeLocked()
		return nil, err
	}
	return b, nil
}

func declareExchange(ch *amqp091.Channel, name string) error {
	return ch.ExchangeDeclare(
		name,
		"fanout",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}

// connectionLocked returns a live connection, re-dialing if the previous one
// was closed by the server or the network.
func (b *AMQPBroker) connectionLocked() (*amqp091.Connection, error) {
	if b.closed {
		return nil, errBrokerClosed
	}
	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn, nil
	}

	conn, err := amqp091.Dial(b.url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	b.conn = conn
	b.publish = nil
	return conn, nil
}

func (b *AMQPBroker) publishChannelLocked() (*amqp091.Channel, error) {
	conn, err := b.connectionLocked()
	if err != nil {
		return nil, err
	}
	if b.publish != nil && !b.publish.IsClosed() {
		return b.publish, nil
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declareExchange(ch, b.exchange); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	b.publish = ch
	return ch, nil
}

func (b *AMQPBroker) Publish(ctx context.Context, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, err := b.publishChannelLocked()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx,
		b.exchange,
		"",
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp091.Transient,
		},
	)
	if err != nil {
		// 下一次 Publish 重新打开 channel
		_ = ch.Close()
		b.publish = nil
	}
	return err
}

func (b *AMQPBroker) subscribeChannel() (*amqp091.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, err := b.connectionLocked()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declareExchange(ch, b.exchange); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return ch, nil
}

// Subscribe consumes until ctx is done or the channel is closed underneath
// it. The caller resubscribes; a fresh queue is bound each time.
func (b *AMQPBroker) Subscribe(ctx context.Context, handle func([]byte)) error {
	ch, err := b.subscribeChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		"",
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	// 计数是覆盖式的，丢失可由下一次推送修复，因此自动 ack
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}
	closed := ch.NotifyClose(make(chan *amqp091.Error, 1))

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if amqpErr != nil {
				return fmt.Errorf("amqp channel closed: %w", amqpErr)
			}
			return errors.New("amqp channel closed")
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp deliveries closed")
			}
			handle(d.Body)
		}
	}
}

func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked()
}

func (b *AMQPBroker) closeLocked() error {
	b.closed = true
	if b.publish != nil {
		_ = b.publish.Close()
		b.publish = nil
	}
	if b.conn != nil {
		err := b.conn.Close()
		b.conn = nil
		if err != nil && !errors.Is(err, amqp091.ErrClosed) {
			return err
		}
	}
	return nil
}
