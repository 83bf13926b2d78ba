package network

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

type connection interface {
	connect() error
	createChannel() error
	exchangeDeclare(name, exchangeType string) error
	publish(ctx context.Context, exchange string, key string, body []byte, options *MessageOptions) error
	isClosed() bool
	close() error
	closeChannel() error
}

type AmqpConnection struct {
	url     string
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewAmqpConnection(url string) *AmqpConnection {
	return &AmqpConnection{url: url}
}

func (a *AmqpConnection) connect() error {
	conn, err := amqp.Dial(a.url)
	if err == nil {
		a.conn = conn
	}
	return err
}

func (a *AmqpConnection) createChannel() error {
	channel, err := a.conn.Channel()
	if err == nil {
		a.channel = channel
	}
	return err
}

func (a *AmqpConnection) channelOpen() bool {
	return a.channel != nil && !a.channel.IsClosed()
}

func (a *AmqpConnection) exchangeDeclare(name, exchangeType string) error {
	if !a.channelOpen() {
		return amqp.ErrClosed
	}
	return a.channel.ExchangeDeclare(
		name,
		exchangeType,
		durable,
		deleteWhenUnused,
		internal,
		noWait,
		nil, // arguments
	)
}

func (a *AmqpConnection) publish(ctx context.Context, exchange string, key string, body []byte, options *MessageOptions) error {
	if !a.channelOpen() {
		return amqp.ErrClosed
	}
	var headers amqp.Table
	var expTime string

	if options != nil {
		headers = amqp.Table{
			"Authorization": options.Authorization,
		}
		expTime = options.Expiration
	}

	return a.channel.PublishWithContext(
		ctx,
		exchange,
		key,
		mandatory,
		immediate,
		amqp.Publishing{
			Headers:      headers,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Expiration:   expTime,
		},
	)
}

func (a *AmqpConnection) isClosed() bool {
	return a.conn == nil || a.conn.IsClosed()
}

func (a *AmqpConnection) close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

func (a *AmqpConnection) closeChannel() error {
	if a.channel == nil {
		return nil
	}
	return a.channel.Close()
}
