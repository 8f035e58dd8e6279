package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrChannelUnavailable = errors.New("rabbitmq channel not available")

// RabbitPublisher publishes events to a durable topic exchange.
type RabbitPublisher struct {
	url      string
	exchange string

	mu     sync.RWMutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

// DialRabbit connects with retries (1.5x backoff, capped at 30s) and declares
// the exchange.
func DialRabbit(ctx context.Context, url, exchange string) (*RabbitPublisher, error) {
	p := &RabbitPublisher{url: url, exchange: exchange}

	const maxRetries = 10
	retryDelay := time.Second

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := p.connect()
		if err == nil {
			log.Printf("[events] connected to rabbitmq (attempt %d)", attempt)
			return p, nil
		}

		log.Printf("[events] rabbitmq connect attempt %d/%d failed: %v", attempt, maxRetries, err)
		if attempt == maxRetries {
			return nil, fmt.Errorf("rabbitmq connect after %d attempts: %w", maxRetries, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
			retryDelay = time.Duration(float64(retryDelay) * 1.5)
			if retryDelay > 30*time.Second {
				retryDelay = 30 * time.Second
			}
		}
	}

	return nil, errors.New("rabbitmq retry loop ended without success")
}

func (p *RabbitPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		p.exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}

	p.mu.Lock()
	p.conn = conn
	p.ch = ch
	p.mu.Unlock()
	return nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, e Event) error {
	p.mu.RLock()
	ch := p.ch
	closed := p.closed
	p.mu.RUnlock()

	if ch == nil || closed || ch.IsClosed() {
		return ErrChannelUnavailable
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.Type, err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return ch.PublishWithContext(
		publishCtx,
		p.exchange,
		e.Type,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    e.EventID,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    e.OccurredAt,
		},
	)
}

func (p *RabbitPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	log.Println("[events] rabbitmq connection closed")
}
