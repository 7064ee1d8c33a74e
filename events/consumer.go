/*
Package events consumes order-completion messages from RabbitMQ and applies
the matching wallet payments.

PURPOSE:
  The order processing service publishes a message when a checkout
  completes. This consumer charges the customer's wallet for it. The order
  id doubles as the idempotency key, so redelivered messages replay the
  committed payment instead of double-charging - messages may be consumed
  at-least-once safely.

DELIVERY SEMANTICS:
  - Malformed messages: Nack without requeue (they will never parse)
  - Client-rejected payments (insufficient funds, unknown tenant):
    Nack without requeue and log; retrying cannot help until a human or a
    deposit changes the wallet state
  - Transient failures (lock timeout, internal ledger errors): Nack with
    requeue for retry
  - Committed or replayed: Ack

RECONNECTION:
  The AMQP connection is monitored; on unexpected close the consumer
  redials with linear backoff and resumes consuming.

USAGE:
  consumer, err := events.NewConsumer(cfg.RabbitMQ, processor, log)
  if err != nil { ... }
  go consumer.Start(ctx)
  defer consumer.Close()
*/
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/wallet-engine/config"
	"github.com/warp/wallet-engine/wallet"
)

const (
	reconnectDelay       = 5 * time.Second
	maxReconnectAttempts = 10
	messageTimeout       = 30 * time.Second
)

// OrderCompletedMessage is the payload published by order processing when
// a checkout completes.
type OrderCompletedMessage struct {
	OrderID     string `json:"order_id"`
	UserID      string `json:"user_id"`
	TenantID    string `json:"tenant_id"`
	Amount      string `json:"amount"` // decimal string
	Currency    string `json:"currency,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"` // RFC3339
}

// Validate checks the fields a payment cannot be applied without.
func (m *OrderCompletedMessage) Validate() error {
	if m.OrderID == "" {
		return fmt.Errorf("missing order_id")
	}
	if m.UserID == "" {
		return fmt.Errorf("missing user_id")
	}
	if m.TenantID == "" {
		return fmt.Errorf("missing tenant_id")
	}
	amount, err := decimal.NewFromString(m.Amount)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", m.Amount, err)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", m.Amount)
	}
	return nil
}

// Entry converts the message into the wallet entry to apply. The order id
// is the idempotency key.
func (m *OrderCompletedMessage) Entry() wallet.Entry {
	amount, _ := decimal.NewFromString(m.Amount)
	return wallet.Entry{
		Type:           wallet.TxPayment,
		Amount:         wallet.Money{Value: amount, Currency: wallet.Currency(m.Currency)},
		RelatedOrderID: m.OrderID,
		ActorID:        "order-processing",
		IdempotencyKey: m.OrderID,
	}
}

// Context returns the tenant context the payment runs under. The consumer
// acts with the service role on behalf of the ordering user.
func (m *OrderCompletedMessage) Context() wallet.Context {
	return wallet.Context{
		UserID:   wallet.UserID(m.UserID),
		TenantID: wallet.TenantID(m.TenantID),
		Role:     wallet.RoleService,
	}
}

// Consumer applies order-completion payments from a RabbitMQ queue.
type Consumer struct {
	cfg       config.RabbitMQConfig
	processor *wallet.Processor
	log       *logrus.Logger

	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer connects to RabbitMQ and declares the order-completion queue.
func NewConsumer(cfg config.RabbitMQConfig, processor *wallet.Processor, log *logrus.Logger) (*Consumer, error) {
	if log == nil {
		log = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())

	c := &Consumer{
		cfg:       cfg,
		processor: processor,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}

	if err := c.connect(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return c, nil
}

func (c *Consumer) connect() error {
	conn, err := amqp.Dial(c.cfg.URL())
	if err != nil {
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		c.cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"host":  c.cfg.Host,
		"queue": c.cfg.Queue,
	}).Info("connected to RabbitMQ")

	go c.monitorConnection()

	return nil
}

func (c *Consumer) monitorConnection() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return
	}

	notifyClose := conn.NotifyClose(make(chan *amqp.Error))

	select {
	case err := <-notifyClose:
		if err != nil {
			c.log.WithError(err).Error("RabbitMQ connection closed unexpectedly")
			c.reconnect()
		}
	case <-c.ctx.Done():
		return
	}
}

func (c *Consumer) reconnect() {
	c.mu.Lock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		c.log.WithField("attempt", attempt).Info("attempting to reconnect to RabbitMQ")

		if err := c.connect(); err == nil {
			c.log.Info("successfully reconnected to RabbitMQ")
			go func() {
				if err := c.Start(c.ctx); err != nil && c.ctx.Err() == nil {
					c.log.WithError(err).Error("failed to restart consumer after reconnect")
				}
			}()
			return
		}

		delay := reconnectDelay * time.Duration(attempt)
		c.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("reconnection failed, retrying")

		select {
		case <-time.After(delay):
		case <-c.ctx.Done():
			return
		}
	}

	c.log.Error("max reconnection attempts reached, giving up")
}

// Start consumes until ctx is cancelled. Blocks.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.RLock()
	channel := c.channel
	c.mu.RUnlock()

	if channel == nil {
		return fmt.Errorf("channel is not initialized")
	}

	msgs, err := channel.Consume(
		c.cfg.Queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.log.WithField("workers", c.cfg.Workers).Info("starting consumer workers")

	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, msgs, i)
	}

	<-ctx.Done()
	c.log.Info("stopping consumer workers")
	c.wg.Wait()

	return nil
}

func (c *Consumer) worker(ctx context.Context, msgs <-chan amqp.Delivery, workerID int) {
	defer c.wg.Done()

	c.log.WithField("worker_id", workerID).Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			c.log.WithField("worker_id", workerID).Debug("worker stopped")
			return

		case msg, ok := <-msgs:
			if !ok {
				c.log.WithField("worker_id", workerID).Warn("message channel closed")
				return
			}

			c.processMessage(ctx, msg, workerID)
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg amqp.Delivery, workerID int) {
	ctx, cancel := context.WithTimeout(ctx, messageTimeout)
	defer cancel()

	var payload OrderCompletedMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		c.log.WithFields(logrus.Fields{
			"worker_id": workerID,
			"error":     err,
			"body":      string(msg.Body),
		}).Error("failed to unmarshal message")

		// Reject and don't requeue malformed messages
		_ = msg.Nack(false, false)
		return
	}

	if err := payload.Validate(); err != nil {
		c.log.WithFields(logrus.Fields{
			"worker_id": workerID,
			"order_id":  payload.OrderID,
			"error":     err,
		}).Error("invalid order-completion message")
		_ = msg.Nack(false, false)
		return
	}

	tx, err := c.processor.ApplyForUser(ctx, payload.Context(), wallet.UserID(payload.UserID), payload.Entry())
	if err != nil {
		fields := logrus.Fields{
			"worker_id": workerID,
			"order_id":  payload.OrderID,
			"tenant_id": payload.TenantID,
			"user_id":   payload.UserID,
			"error":     err,
		}
		if wallet.IsRetryable(err) {
			c.log.WithFields(fields).Warn("payment failed transiently, requeueing")
			_ = msg.Nack(false, true)
			return
		}
		// Insufficient funds, unknown tenant, validation: retrying the
		// same message cannot succeed.
		c.log.WithFields(fields).Error("payment rejected, dropping message")
		_ = msg.Nack(false, false)
		return
	}

	c.log.WithFields(logrus.Fields{
		"worker_id": workerID,
		"order_id":  payload.OrderID,
		"tx_id":     tx.ID,
		"amount":    tx.Amount.Value.String(),
	}).Info("order payment applied")
	_ = msg.Ack(false)
}

// Close stops the workers and tears the connection down.
func (c *Consumer) Close() {
	c.cancel()
	c.wg.Wait()

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

	c.log.Info("consumer closed")
}
