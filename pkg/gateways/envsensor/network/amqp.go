package network

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	exchangeTypeFanout = "fanout"

	durable          = true
	deleteWhenUnused = false
	internal         = false
	noWait           = false
	mandatory        = false
	immediate        = false
)

// Messaging is the AMQP surface the readings publisher needs.
type Messaging interface {
	Start() error
	Stop() error
	PublishPersistentMessage(ctx context.Context, exchange, exchangeType, key string, data interface{}, options *MessageOptions) error
}

// MessageOptions represents the message publishing options
type MessageOptions struct {
	Authorization string
	Expiration    string
}

// AMQPHandler owns one broker connection and channel. Publishes share the
// channel under a read lock; reconnecting, reopening the channel and
// declaring exchanges take the write lock.
type AMQPHandler struct {
	mu                sync.RWMutex
	connection        connection
	declaredExchanges map[string]struct{}
	channelStale      bool
	newBackOff        func() backoff.BackOff
}

func NewAMQPHandler(connection connection) *AMQPHandler {
	return &AMQPHandler{
		connection:        connection,
		declaredExchanges: make(map[string]struct{}),
		newBackOff:        func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

// Start dials the broker, retrying with exponential backoff.
func (a *AMQPHandler) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return backoff.Retry(a.connect, a.newBackOff())
}

func (a *AMQPHandler) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connection.isClosed() {
		return nil
	}
	if err := a.connection.closeChannel(); err != nil {
		return err
	}
	return a.connection.close()
}

func (a *AMQPHandler) connect() error {
	if err := a.connection.connect(); err != nil {
		return err
	}
	return a.openChannel()
}

func (a *AMQPHandler) openChannel() error {
	if err := a.connection.createChannel(); err != nil {
		return err
	}
	a.declaredExchanges = make(map[string]struct{})
	a.channelStale = false
	return nil
}

func (a *AMQPHandler) ready(exchange string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.channelStale || a.connection.isClosed() {
		return false
	}
	_, ok := a.declaredExchanges[exchange]
	return ok
}

// prepare makes sure a usable channel exists and the exchange is declared on
// it. A failed declaration closes the channel on the broker side, so the
// channel is reopened on the next call.
func (a *AMQPHandler) prepare(exchange, exchangeType string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case a.connection.isClosed():
		if err := a.connect(); err != nil {
			return transportError(errors.Wrap(err, "reconnect"))
		}
	case a.channelStale:
		if err := a.openChannel(); err != nil {
			return transportError(errors.Wrap(err, "reopen channel"))
		}
	}

	// Reduces communication with the AMQP server by avoiding redeclaring an exchange.
	if _, ok := a.declaredExchanges[exchange]; !ok {
		if err := a.connection.exchangeDeclare(exchange, exchangeType); err != nil {
			a.channelStale = true
			return transportError(errors.Wrap(err, "error declaring exchange"))
		}
		a.declaredExchanges[exchange] = struct{}{}
	}
	return nil
}

// PublishPersistentMessage publishes data as JSON. A dropped broker
// connection is re-dialled and a closed channel reopened once per call;
// connectivity faults are reported as ErrTransport so the caller can retry.
func (a *AMQPHandler) PublishPersistentMessage(ctx context.Context, exchange, exchangeType, key string, data interface{}, options *MessageOptions) error {
	body, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "error encoding JSON message")
	}

	if !a.ready(exchange) {
		if err := a.prepare(exchange, exchangeType); err != nil {
			return err
		}
	}

	a.mu.RLock()
	err = a.connection.publish(ctx, exchange, key, body, options)
	a.mu.RUnlock()
	if err != nil {
		if errors.Is(err, amqp.ErrClosed) {
			a.mu.Lock()
			a.channelStale = true
			a.mu.Unlock()
		}
		return transportError(errors.Wrap(err, "error publishing message in channel"))
	}
	return nil
}
