package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	pkgotel "inboxtriage/pkg/otel"
	"inboxtriage/pkg/trace"
)

const ExchangeName = "events"

// EventPublisher publishes domain events. Implementations must be safe for concurrent use.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Publisher publishes JSON events to the topic exchange.
type Publisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	mu      sync.Mutex // amqp channels are not safe for concurrent publishing
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:    conn,
		channel: ch,
	}, nil
}

func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// IsConnected checks if the publisher connection is still alive
func (p *Publisher) IsConnected() bool {
	if p.conn == nil || p.channel == nil {
		return false
	}
	return !p.conn.IsClosed()
}

// Publish publishes an event to the exchange with the given routing key.
func (p *Publisher) Publish(ctx context.Context, routingKey string, payload any) (err error) {
	ctx, span := pkgotel.MQPublishSpan(ctx, routingKey, ExchangeName)
	defer func() { pkgotel.EndSpan(span, err) }()

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}
	headers := amqp091.Table{}
	if traceID := trace.FromContext(ctx); traceID != "" {
		headers[trace.HeaderName()] = traceID
	}
	pkgotel.InjectMQHeaders(ctx, headers)
	msg.Headers = headers

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx, ExchangeName, routingKey, false, false, msg)
}

// LoggingPublisher wraps an EventPublisher so that failures are logged and never returned.
// A nil inner publisher drops events.
type LoggingPublisher struct {
	inner  EventPublisher
	logger *zap.Logger
}

func NewLoggingPublisher(inner EventPublisher, logger *zap.Logger) *LoggingPublisher {
	return &LoggingPublisher{inner: inner, logger: logger}
}

func (p *LoggingPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	if p.inner == nil {
		return nil
	}
	if err := p.inner.Publish(ctx, routingKey, payload); err != nil {
		p.logger.Warn("Failed to publish event",
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
	}
	return nil
}
