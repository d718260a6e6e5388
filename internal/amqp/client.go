// Package amqp publishes and consumes expense lifecycle events on RabbitMQ.
package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Circuit breaker states
const (
	StateClosed   int32 = 0
	StateOpen     int32 = 1
	StateHalfOpen int32 = 2
)

const (
	// maxFailures opens the circuit after this many consecutive failures
	maxFailures = 5
	// openTimeout is how long the circuit stays open before a trial request
	openTimeout = 30 * time.Second
	// publishTimeout bounds a single publish
	publishTimeout = 5 * time.Second
	// maxReconnectAttempts bounds consecutive reconnect attempts in Consume
	maxReconnectAttempts = 5
)

// Client owns one connection and one channel to the broker. Publishing is
// guarded by a circuit breaker so a dead broker degrades writes to log noise
// instead of latency.
type Client struct {
	mu           sync.Mutex
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	url          string
	exchangeName string
	queueName    string

	// Circuit breaker state
	failureCount int64
	state        int32
	lastFailure  time.Time
}

// NewClient connects to the broker and declares the exchange, the queue and
// its bindings.
func NewClient(url, exchangeName, queueName string) (*Client, error) {
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
	}

	if err := client.connect(); err != nil {
		return nil, err
	}

	return client, nil
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := c.setup(channel); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.mu.Unlock()

	return nil
}

func (c *Client) setup(channel *amqp091.Channel) error {
	// Declare exchange
	err := channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	// Declare queue
	_, err = channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Bind the queue to every routing key it consumes
	for _, key := range []string{RoutingKeyExpenseCreated, RoutingKeyExpenseDeleted} {
		if err := channel.QueueBind(c.queueName, key, c.exchangeName, false, nil); err != nil {
			return fmt.Errorf("bind queue to %s: %w", key, err)
		}
	}

	return nil
}

// PublishExpenseCreated publishes an expense created event
func (c *Client) PublishExpenseCreated(ctx context.Context, expenseID, userID string) error {
	msg := NewExpenseCreatedMessage(expenseID, userID)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := c.publish(ctx, RoutingKeyExpenseCreated, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published expense created event",
		"expense_id", expenseID,
		"user_id", userID,
		"exchange", c.exchangeName)
	return nil
}

// PublishExpenseDeleted publishes an expense deleted event
func (c *Client) PublishExpenseDeleted(ctx context.Context, expenseID, userID, ledgerRef string) error {
	msg := NewExpenseDeletedMessage(expenseID, userID, ledgerRef)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := c.publish(ctx, RoutingKeyExpenseDeleted, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published expense deleted event",
		"expense_id", expenseID,
		"user_id", userID,
		"ledger_ref", ledgerRef,
		"exchange", c.exchangeName)
	return nil
}

func (c *Client) publish(ctx context.Context, routingKey string, body []byte) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("publish %s: circuit breaker is open", routingKey)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()

	if channel == nil {
		if err := c.connect(); err != nil {
			c.recordFailure()
			return fmt.Errorf("reconnect before publish: %w", err)
		}
		c.mu.Lock()
		channel = c.channel
		c.mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent, // survive broker restarts
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		if isConnectionError(err) {
			c.recordFailure()
			c.dropChannel()
		}
		return fmt.Errorf("publish message: %w", err)
	}

	c.recordSuccess()
	return nil
}

// Handlers dispatches consumed messages by routing key.
type Handlers struct {
	OnExpenseCreated func(ctx context.Context, msg *ExpenseCreatedMessage) error
	OnExpenseDeleted func(ctx context.Context, msg *ExpenseDeletedMessage) error
}

// Consume processes queue messages until ctx is cancelled. Deliveries are
// acked only after the handler succeeds; handler errors requeue, poison
// messages are dropped. Lost connections are re-dialed with backoff.
func (c *Client) Consume(ctx context.Context, handlers Handlers) error {
	attempt := 0
	for {
		err := c.consumeSession(ctx, handlers)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}

		if !isConnectionError(err) {
			return err
		}

		attempt++
		if attempt > maxReconnectAttempts {
			return fmt.Errorf("consume: giving up after %d reconnect attempts: %w", maxReconnectAttempts, err)
		}

		backoff := exponentialBackoff(attempt - 1)
		slog.WarnContext(ctx, "AMQP connection lost, reconnecting",
			"error", err,
			"attempt", attempt,
			"backoff", backoff.String())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		if err := c.connect(); err != nil {
			slog.ErrorContext(ctx, "AMQP reconnect failed", "error", err, "attempt", attempt)
			continue
		}
		attempt = 0
	}
}

func (c *Client) consumeSession(ctx context.Context, handlers Handlers) error {
	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()

	if channel == nil {
		return fmt.Errorf("consume: connection closed")
	}

	msgs, err := channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming expense events", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return nil
		case delivery, ok := <-msgs:
			if !ok {
				c.dropChannel()
				return fmt.Errorf("consume: connection closed")
			}
			c.dispatch(ctx, handlers, delivery)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, handlers Handlers, delivery amqp091.Delivery) {
	var err error

	switch delivery.RoutingKey {
	case RoutingKeyExpenseCreated:
		var msg *ExpenseCreatedMessage
		if msg, err = ExpenseCreatedMessageFromJSON(delivery.Body); err == nil {
			if handlers.OnExpenseCreated != nil {
				err = handlers.OnExpenseCreated(ctx, msg)
			}
		} else {
			slog.ErrorContext(ctx, "Failed to unmarshal message", "error", err, "routing_key", delivery.RoutingKey)
			delivery.Nack(false, false) // poison, do not requeue
			return
		}
	case RoutingKeyExpenseDeleted:
		var msg *ExpenseDeletedMessage
		if msg, err = ExpenseDeletedMessageFromJSON(delivery.Body); err == nil {
			if handlers.OnExpenseDeleted != nil {
				err = handlers.OnExpenseDeleted(ctx, msg)
			}
		} else {
			slog.ErrorContext(ctx, "Failed to unmarshal message", "error", err, "routing_key", delivery.RoutingKey)
			delivery.Nack(false, false) // poison, do not requeue
			return
		}
	default:
		slog.WarnContext(ctx, "Unknown routing key", "routing_key", delivery.RoutingKey)
		delivery.Nack(false, false)
		return
	}

	if err != nil {
		slog.ErrorContext(ctx, "Failed to handle message",
			"error", err,
			"routing_key", delivery.RoutingKey)
		delivery.Nack(false, true) // requeue for retry
		return
	}

	delivery.Ack(false)
}

func (c *Client) dropChannel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// isCircuitOpen reports whether publishes should be rejected outright. An
// open circuit transitions to half-open once openTimeout has passed.
func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}

	c.mu.Lock()
	last := c.lastFailure
	c.mu.Unlock()

	if time.Since(last) > openTimeout {
		atomic.StoreInt32(&c.state, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	failures := atomic.AddInt64(&c.failureCount, 1)
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()

	if failures >= maxFailures {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

// exponentialBackoff returns the wait before reconnect attempt n, capped at 30s.
func exponentialBackoff(attempt int) time.Duration {
	backoff := time.Second << uint(attempt)
	if backoff > 30*time.Second || backoff <= 0 {
		return 30 * time.Second
	}
	return backoff
}

// isConnectionError reports whether err looks like a broken broker link
// rather than a protocol or application error.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"connection refused",
		"connection closed",
		"connection reset",
		"unexpected EOF",
		"broken pipe",
		"use of closed network connection",
		"channel/connection is not open",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
