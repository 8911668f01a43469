// Package events publishes loan events to RabbitMQ.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Channel is the slice of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Rabbit publishes to a topic exchange. A nil *Rabbit is a valid publisher
// that drops everything, so callers need no broker in development.
type Rabbit struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       Channel
	exchange string
	log      zerolog.Logger
}

// Dial connects to url and declares exchange as a durable topic exchange.
func Dial(url, exchange string, log zerolog.Logger) (*Rabbit, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	r := New(ch, exchange, log)
	r.conn = conn
	return r, nil
}

// New wraps an open channel.
func New(ch Channel, exchange string, log zerolog.Logger) *Rabbit {
	return &Rabbit{ch: ch, exchange: exchange, log: log}
}

// Publish sends body as a persistent JSON message with routing key key.
func (r *Rabbit) Publish(ctx context.Context, key string, body []byte) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch == nil {
		return fmt.Errorf("publisher closed")
	}
	err := r.ch.PublishWithContext(ctx, r.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	r.log.Debug().Str("key", key).Int("bytes", len(body)).Msg("event published")
	return nil
}

func (r *Rabbit) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch != nil {
		_ = r.ch.Close()
		r.ch = nil
	}
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
}
