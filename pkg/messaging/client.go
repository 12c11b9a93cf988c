// Package messaging carries background jobs over RabbitMQ so they survive a
// process restart and can be consumed by any instance.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

const publishTimeout = 5 * time.Second

// ErrRequeue marks a handler error as temporary. The delivery is returned to
// the queue instead of being dropped.
var ErrRequeue = errors.New("requeue job")

// ErrClosed is returned when the broker closes the delivery channel.
var ErrClosed = errors.New("amqp delivery channel closed")

// JobHandler processes one delivered job. Returning nil acknowledges it.
type JobHandler func(ctx context.Context, job models.Job) error

// Client publishes and consumes jobs on a durable direct exchange bound to a
// single durable queue.
type Client struct {
	conn         *amqp.Connection
	pubMu        sync.Mutex
	pubChannel   *amqp.Channel
	exchangeName string
	queueName    string
	prefetch     int
	logger       *zap.Logger
}

// NewClient dials the broker and declares the exchange, queue and binding.
func NewClient(url, exchangeName, queueName string, prefetch int, logger *zap.Logger) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if prefetch < 1 {
		prefetch = 1
	}

	client := &Client{
		conn:         conn,
		pubChannel:   channel,
		exchangeName: exchangeName,
		queueName:    queueName,
		prefetch:     prefetch,
		logger:       logger.Named("amqp"),
	}

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return client, nil
}

func (c *Client) setup() error {
	err := c.pubChannel.ExchangeDeclare(
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

	_, err = c.pubChannel.QueueDeclare(
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

	// Routing key equals the queue name on the direct exchange.
	err = c.pubChannel.QueueBind(c.queueName, c.queueName, c.exchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// PublishJob validates and publishes a persistent job message.
func (c *Client) PublishJob(ctx context.Context, job models.Job) error {
	body, err := EncodeJob(job)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	// amqp channels are not safe for concurrent publishing.
	c.pubMu.Lock()
	err = c.pubChannel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Type:         string(job.Kind),
			Body:         body,
		},
	)
	c.pubMu.Unlock()
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}

	c.logger.Debug("published job",
		zap.String("kind", string(job.Kind)),
		zap.String("user_id", job.UserID),
		zap.String("queue", c.queueName))
	return nil
}

// ConsumeJobs delivers jobs to handler until ctx ends or the broker closes the
// channel. Up to prefetch deliveries are handled concurrently. A nil handler
// result acks the delivery; an error wrapping ErrRequeue requeues it; any other
// error or an undecodable body drops it. ConsumeJobs returns once every
// in-flight handler has finished.
func (c *Client) ConsumeJobs(ctx context.Context, handler JobHandler) error {
	channel, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer channel.Close()

	if err := channel.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
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

	c.logger.Info("started consuming jobs",
		zap.String("queue", c.queueName),
		zap.Int("prefetch", c.prefetch))

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("stopping job consumption", zap.Error(ctx.Err()))
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return ErrClosed
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.handle(ctx, delivery, handler)
			}()
		}
	}
}

func (c *Client) handle(ctx context.Context, delivery amqp.Delivery, handler JobHandler) {
	job, err := DecodeJob(delivery.Body)
	if err != nil {
		c.logger.Error("dropping undecodable job", zap.Error(err))
		c.reject(delivery, false)
		return
	}

	err = handler(ctx, job)
	switch {
	case err == nil:
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Warn("failed to ack job", zap.Error(ackErr))
		}
	case errors.Is(err, ErrRequeue):
		c.logger.Info("requeueing job",
			zap.String("kind", string(job.Kind)),
			zap.String("user_id", job.UserID),
			zap.Error(err))
		c.reject(delivery, true)
	default:
		c.logger.Error("dropping job after handler error",
			zap.String("kind", string(job.Kind)),
			zap.String("user_id", job.UserID),
			zap.Error(err))
		c.reject(delivery, false)
	}
}

func (c *Client) reject(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		c.logger.Warn("failed to nack job", zap.Bool("requeue", requeue), zap.Error(err))
	}
}

// Close closes the publish channel and the connection.
func (c *Client) Close() error {
	if c.pubChannel != nil {
		c.pubChannel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// EncodeJob validates a job and serializes it as a message body.
func EncodeJob(job models.Job) ([]byte, error) {
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	return body, nil
}

// DecodeJob parses and validates a message body.
func DecodeJob(body []byte) (models.Job, error) {
	var job models.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	if err := job.Validate(); err != nil {
		return models.Job{}, fmt.Errorf("invalid job: %w", err)
	}
	return job, nil
}
