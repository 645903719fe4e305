// Package queue_publisher publishes domain events to RabbitMQ.  Publishing
// is fire-and-forget from the caller's point of view: errors are logged
// and returned, and handlers never fail a request because of them.
package queue_publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	q "github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/queue"
)

// Publisher is what handlers depend on.
type Publisher interface {
	Publish(ctx context.Context, eventType string, event any) error
}

const (
	dialTimeout   = 2 * time.Second
	redialBackoff = 5 * time.Second
)

// ErrBrokerUnavailable is returned without dialing while a failed dial is
// still inside its backoff window.
var ErrBrokerUnavailable = errors.New("broker unavailable")

// AMQPPublisher publishes persistent JSON messages to the marketplace
// events queue.  The connection is opened lazily and reopened after it
// closes.  A failed dial is not retried for redialBackoff, so a broker
// outage costs each request at most one short dial.
type AMQPPublisher struct {
	url    string
	logger *zap.Logger
	dial   func(url string) (*amqp.Connection, error)
	now    func() time.Time

	mu      sync.Mutex
	conn    *amqp.Connection
	retryAt time.Time
}

// NewAMQPPublisher returns a publisher for url; no connection is made yet.
func NewAMQPPublisher(url string, logger *zap.Logger) *AMQPPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPPublisher{
		url:    url,
		logger: logger.Named("publisher"),
		dial:   dialBroker,
		now:    time.Now,
	}
}

func dialBroker(url string) (*amqp.Connection, error) {
	return amqp.DialConfig(url, amqp.Config{
		Locale: "en_US",
		Dial:   amqp.DefaultDial(dialTimeout),
	})
}

func (p *AMQPPublisher) connection(ctx context.Context) (*amqp.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn, nil
	}
	if p.now().Before(p.retryAt) {
		return nil, ErrBrokerUnavailable
	}
	conn, err := p.dial(p.url)
	if err != nil {
		p.retryAt = p.now().Add(redialBackoff)
		return nil, err
	}
	p.retryAt = time.Time{}
	p.conn = conn
	return conn, nil
}

// Publish sends event to the marketplace.events queue with eventType as the
// message type.
func (p *AMQPPublisher) Publish(ctx context.Context, eventType string, event any) error {
	conn, err := p.connection(ctx)
	if err != nil {
		p.logger.Warn("dial failed", zap.String("type", eventType), zap.Error(err))
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		p.logger.Warn("channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	// Idempotent; durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(q.QueueName, true, false, false, false, nil); err != nil {
		p.logger.Warn("queue declare failed", zap.Error(err))
		return err
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", q.QueueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.logger.Warn("publish failed", zap.String("type", eventType), zap.Error(err))
	}
	return err
}

// Close closes the underlying connection, if any.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

// Nop discards every event.  It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
