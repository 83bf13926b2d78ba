// Package delivery forwards accepted readings to the telemetry sink with a
// bounded, fixed-interval retry.
package delivery

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/janael-pinheiro/envsensor-gateway/pkg/entities"
	"github.com/janael-pinheiro/envsensor-gateway/pkg/gateways/envsensor/network"
	"github.com/sirupsen/logrus"
)

const (
	RetryInterval = 10 * time.Second
	MaxAttempts   = 6
)

type Outcome int

const (
	Delivered Outcome = iota
	Dropped
)

func (o Outcome) String() string {
	if o == Delivered {
		return "delivered"
	}
	return "dropped"
}

// Client sends readings for one device through a shared sink.
type Client struct {
	device   entities.Device
	sink     network.Sink
	log      *logrus.Entry
	interval time.Duration
}

func NewClient(device entities.Device, sink network.Sink, log *logrus.Entry) *Client {
	return &Client{
		device:   device,
		sink:     sink,
		log:      log.WithField("channel", device.ChannelID),
		interval: RetryInterval,
	}
}

func (c *Client) policy(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.interval), MaxAttempts-1),
		ctx,
	)
}

// Deliver sends the reading, retrying transport failures. A reading that
// cannot be delivered is dropped and nil is returned; only errors that no
// retry can fix are returned.
func (c *Client) Deliver(ctx context.Context, reading entities.Reading) error {
	_, err := c.Send(ctx, reading)
	return err
}

// Send is Deliver reporting whether the reading reached the sink.
func (c *Client) Send(ctx context.Context, reading entities.Reading) (Outcome, error) {
	fields := reading.Fields()
	attempt := 0
	operation := func() error {
		attempt++
		err := c.sink.Send(ctx, c.device, fields)
		if err == nil || network.IsTransport(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, next time.Duration) {
		c.log.Warnf("send attempt %d/%d failed: %v, retrying in %s", attempt, MaxAttempts, err, next)
	}

	err := backoff.RetryNotify(operation, c.policy(ctx), notify)
	switch {
	case err == nil:
		c.log.WithFields(toLogFields(fields)).Info("sent")
		return Delivered, nil
	case network.IsTransport(err):
		c.log.Warnf("reading dropped after %d attempts: %v", attempt, err)
		return Dropped, nil
	case network.IsRejected(err):
		c.log.Warnf("reading rejected by sink: %v", err)
		return Dropped, nil
	}
	c.log.Errorf("reading not sent: %v", err)
	return Dropped, err
}

func toLogFields(fields entities.Fields) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for name, value := range fields {
		out[name] = value
	}
	return out
}
