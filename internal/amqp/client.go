// Package amqp publishes sync events and consumes remote change
// notifications over RabbitMQ.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"expensync/internal/log"

	"github.com/rabbitmq/amqp091-go"
)

const (
	// publishTimeout bounds a single publish.
	publishTimeout = 5 * time.Second

	// consumerPrefetch limits unacknowledged change notifications.
	consumerPrefetch = 1
	consumerTag      = "expensync-changes"
)

type Client struct {
	url          string
	exchangeName string
	eventsQueue  string
	changesQueue string
	logger       *log.Logger

	mu      sync.RWMutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

func NewClient(url, exchangeName, eventsQueue, changesQueue string) (*Client, error) {
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		eventsQueue:  eventsQueue,
		changesQueue: changesQueue,
		logger:       log.Default(log.ComponentAMQP),
	}
	if err := client.connect(); err != nil {
		return nil, err
	}
	return client, nil
}

// connect dials the broker and declares the topology. Callers hold mu or own c exclusively.
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

	if err := setup(channel, c.exchangeName, c.eventsQueue, c.changesQueue); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queues: %w", err)
	}

	c.conn = conn
	c.channel = channel
	return nil
}

// Reconnect replaces the connection and channel, e.g. after a broker restart.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.closeLocked()
	if err := c.connect(); err != nil {
		return err
	}
	c.logger.Info("Reconnected to AMQP broker")
	return nil
}

var errNotConnected = errors.New("not connected to AMQP broker")

func (c *Client) currentChannel() (*amqp091.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.channel == nil {
		return nil, errNotConnected
	}
	return c.channel, nil
}

func setup(channel *amqp091.Channel, exchangeName string, queues ...string) error {
	err := channel.ExchangeDeclare(
		exchangeName, // name
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

	for _, queue := range queues {
		if queue == "" {
			continue
		}
		_, err = channel.QueueDeclare(
			queue, // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}

		// Routing key is the queue name on a direct exchange
		if err := channel.QueueBind(queue, queue, exchangeName, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}

	return nil
}

func (c *Client) publish(ctx context.Context, routingKey string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	channel, err := c.currentChannel()
	if err != nil {
		return err
	}
	return channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// PublishSyncEvent announces that an outbox entry reached the remote store.
func (c *Client) PublishSyncEvent(ctx context.Context, ev *SyncEvent) error {
	body, err := ev.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal sync event: %w", err)
	}
	if err := c.publish(ctx, c.eventsQueue, body); err != nil {
		return fmt.Errorf("publish sync event: %w", err)
	}

	c.logger.DebugContext(ctx, "Published sync event",
		log.FieldExpenseID, ev.ExpenseID,
		"action", ev.Action,
		"queue", c.eventsQueue)
	return nil
}

// PublishRemoteChange announces a change made to the remote store by this process.
func (c *Client) PublishRemoteChange(ctx context.Context, msg *RemoteChangeMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal remote change: %w", err)
	}
	if err := c.publish(ctx, c.changesQueue, body); err != nil {
		return fmt.Errorf("publish remote change: %w", err)
	}
	return nil
}

// ConsumeRemoteChanges delivers remote change notifications to handler until
// ctx is cancelled. Handler errors requeue the message; malformed messages are dropped.
func (c *Client) ConsumeRemoteChanges(ctx context.Context, handler func(context.Context, *RemoteChangeMessage) error) error {
	channel, err := c.currentChannel()
	if err != nil {
		return err
	}
	if err := channel.Qos(consumerPrefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	msgs, err := channel.Consume(
		c.changesQueue, // queue
		consumerTag,    // consumer
		false,          // auto-ack
		false,          // exclusive
		false,          // no-local
		false,          // no-wait
		nil,            // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger.InfoContext(ctx, "Listening for remote changes", "queue", c.changesQueue)

	for {
		select {
		case <-ctx.Done():
			_ = channel.Cancel(consumerTag, false)
			c.logger.InfoContext(ctx, "Stopped listening for remote changes")
			return nil
		case delivery, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}

			msg, err := RemoteChangeMessageFromJSON(delivery.Body)
			if err != nil {
				c.logger.WarnContext(ctx, "Dropping malformed remote change", log.FieldError, err)
				_ = delivery.Nack(false, false)
				continue
			}

			if err := handler(ctx, msg); err != nil {
				c.logger.ErrorContext(ctx, "Remote change not applied, requeueing",
					log.FieldError, err,
					"month", msg.Month,
					"source", msg.Source)
				_ = delivery.Nack(false, true)
				continue
			}

			_ = delivery.Ack(false)
		}
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		conn := c.conn
		c.conn = nil
		if !conn.IsClosed() {
			return conn.Close()
		}
	}
	return nil
}
