package clients

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AmqpClient defines the interface for all AMQP operations
type AmqpClient interface {
	DeclareQueue(queueName string) error
	Publish(ctx context.Context, message []byte, queueName string) error
	SetupConsumer(queueName string, handler func(amqp.Delivery)) error
	Close() error
}

// RealAmqpClient implements AmqpClient with real AMQP operations
type RealAmqpClient struct {
	conn   *amqp.Connection
	logger *slog.Logger

	consumerStopped atomic.Bool
}

// Dial connects to the broker at url.
func Dial(url string) (*RealAmqpClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &RealAmqpClient{conn: conn}, nil
}

// NewAmqpClient wraps an existing connection
func NewAmqpClient(conn *amqp.Connection) *RealAmqpClient {
	return &RealAmqpClient{conn: conn}
}

// DeclareQueue declares a durable queue so messages survive a broker restart
func (c *RealAmqpClient) DeclareQueue(queueName string) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		queueName, // name of the queue
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	return err
}

// Publish publishes a persistent JSON message to a specified queue
func (c *RealAmqpClient) Publish(ctx context.Context, message []byte, queueName string) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	return ch.PublishWithContext(ctx,
		"",        // exchange
		queueName, // routing key (queue name)
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         message,
		},
	)
}

// SetupConsumer sets up a manual-ack consumer on a specified queue. The
// handler owns acking each delivery.
func (c *RealAmqpClient) SetupConsumer(queueName string, handler func(amqp.Delivery)) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}

	msgs, err := ch.Consume(
		queueName, // queue
		"",        // consumer
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		ch.Close()
		return err
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	go c.consume(queueName, msgs, closed, handler)

	return nil
}

// consume feeds deliveries to handler until the broker closes the channel,
// then marks the client unhealthy.
func (c *RealAmqpClient) consume(queueName string, msgs <-chan amqp.Delivery, closed <-chan *amqp.Error, handler func(amqp.Delivery)) {
	for d := range msgs {
		handler(d)
	}
	c.consumerStopped.Store(true)

	attrs := []any{"queue", queueName}
	select {
	case reason, ok := <-closed:
		if ok && reason != nil {
			attrs = append(attrs, "reason", reason.Error())
		}
	default:
	}
	c.log().Error("amqp consumer stopped", attrs...)
}

// Ping fails once the connection is closed or a consumer has stopped.
func (c *RealAmqpClient) Ping(_ context.Context) error {
	if c.conn == nil || c.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	if c.consumerStopped.Load() {
		return errors.New("amqp consumer stopped")
	}
	return nil
}

func (c *RealAmqpClient) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

func (c *RealAmqpClient) Close() error {
	return c.conn.Close()
}

var _ AmqpClient = (*RealAmqpClient)(nil)
