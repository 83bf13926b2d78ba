package network

import (
	"context"
	"time"

	"github.com/janael-pinheiro/envsensor-gateway/pkg/entities"
)

const defaultExpirationTime = "60000"

// AMQPSink publishes readings to a fanout exchange, routed by channel ID.
type AMQPSink struct {
	amqp     Messaging
	exchange string
	now      func() time.Time
}

func NewAMQPSink(amqp Messaging, exchange string) *AMQPSink {
	return &AMQPSink{amqp: amqp, exchange: exchange, now: time.Now}
}

func (s *AMQPSink) Send(ctx context.Context, device entities.Device, fields entities.Fields) error {
	options := MessageOptions{
		Authorization: device.WriteKey,
		Expiration:    defaultExpirationTime,
	}

	message := ReadingSent{
		ChannelID: device.ChannelID,
		Data:      fields,
		Timestamp: s.now().Unix(),
	}

	return s.amqp.PublishPersistentMessage(ctx, s.exchange, exchangeTypeFanout, device.ChannelID, message, &options)
}

func (s *AMQPSink) Close() error {
	return s.amqp.Stop()
}
