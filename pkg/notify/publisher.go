// Package notify publishes rank change events for downstream consumers
// (in-app notification and mail fanout run outside this repository).
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"dessincoach/pkg/domain"
)

// Publisher emits rank change events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	PublishRankChange(ctx context.Context, event domain.RankChangeEvent) error
}

// NopPublisher discards events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishRankChange(context.Context, domain.RankChangeEvent) error { return nil }

// AmqpPublisher publishes rank change events to a fanout exchange.
type AmqpPublisher struct {
	url      string
	exchange string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAmqpPublisher connects to the broker and declares the exchange.
func NewAmqpPublisher(url, exchange string) (*AmqpPublisher, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("amqp url required")
	}
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = "dessin.rank-events"
	}
	p := &AmqpPublisher{url: url, exchange: exchange}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AmqpPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(p.exchange, "fanout", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	p.conn = conn
	p.channel = channel
	return nil
}

// PublishRankChange sends one event as a persistent JSON message.
// A dropped connection is re-dialed once before giving up.
func (p *AmqpPublisher) PublishRankChange(ctx context.Context, event domain.RankChangeEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode rank event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.publish(ctx, body); err == nil {
		return nil
	}
	if err := p.reconnect(); err != nil {
		return err
	}
	return p.publish(ctx, body)
}

func (p *AmqpPublisher) publish(ctx context.Context, body []byte) error {
	if p.channel == nil || p.channel.IsClosed() {
		return amqp.ErrClosed
	}
	return p.channel.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

func (p *AmqpPublisher) reconnect() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	return p.connect()
}

// Close releases the broker connection.
func (p *AmqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
