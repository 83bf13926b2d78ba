package network

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type AmqpMock struct {
	mock.Mock
}

func (m *AmqpMock) Start() error {
	args := m.Called()
	return args.Error(0)
}

func (m *AmqpMock) Stop() error {
	args := m.Called()
	return args.Error(0)
}

func (m *AmqpMock) PublishPersistentMessage(ctx context.Context, exchange, exchangeType, key string, data interface{}, options *MessageOptions) error {
	args := m.Called(exchange, exchangeType, key, data, options)
	return args.Error(0)
}

type connectionMock struct {
	mock.Mock
}

func (c *connectionMock) connect() error {
	args := c.Called()
	return args.Error(0)
}

func (c *connectionMock) createChannel() error {
	args := c.Called()
	return args.Error(0)
}

func (c *connectionMock) exchangeDeclare(name, exchangeType string) error {
	args := c.Called(name, exchangeType)
	return args.Error(0)
}

func (c *connectionMock) publish(ctx context.Context, exchange string, key string, body []byte, options *MessageOptions) error {
	args := c.Called(exchange, key, body, options)
	return args.Error(0)
}

func (c *connectionMock) isClosed() bool {
	args := c.Called()
	return args.Bool(0)
}

func (c *connectionMock) close() error {
	args := c.Called()
	return args.Error(0)
}

func (c *connectionMock) closeChannel() error {
	args := c.Called()
	return args.Error(0)
}
