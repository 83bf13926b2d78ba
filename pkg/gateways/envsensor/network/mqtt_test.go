package network

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/janael-pinheiro/envsensor-gateway/pkg/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type tokenStub struct {
	completed bool
	err       error
}

func (t *tokenStub) Wait() bool                     { return t.completed }
func (t *tokenStub) WaitTimeout(time.Duration) bool { return t.completed }
func (t *tokenStub) Error() error                   { return t.err }
func (t *tokenStub) Done() <-chan struct{} {
	done := make(chan struct{})
	if t.completed {
		close(done)
	}
	return done
}

// gatedToken completes when release is closed.
type gatedToken struct {
	release chan struct{}
}

func (t *gatedToken) Wait() bool                     { <-t.release; return true }
func (t *gatedToken) WaitTimeout(time.Duration) bool { return false }
func (t *gatedToken) Done() <-chan struct{}          { return t.release }
func (t *gatedToken) Error() error                   { return nil }

type mqttClientMock struct {
	mock.Mock
}

func (m *mqttClientMock) Connect() mqtt.Token {
	return m.Called().Get(0).(mqtt.Token)
}

func (m *mqttClientMock) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return m.Called(topic, qos, retained, payload).Get(0).(mqtt.Token)
}

func (m *mqttClientMock) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

func newTestMQTTSink(t *testing.T, clients ...*mqttClientMock) (*MQTTSink, *[]*mqtt.ClientOptions) {
	sink, err := NewMQTTSink("tcp://broker.local:1883", "envsensor/%s", time.Second)
	require.NoError(t, err)
	sink.now = func() time.Time { return time.Unix(1700000000, 0) }
	var options []*mqtt.ClientOptions
	sink.newClient = func(o *mqtt.ClientOptions) mqttClient {
		options = append(options, o)
		c := clients[0]
		clients = clients[1:]
		return c
	}
	return sink, &options
}

func TestMQTTSinkSend(t *testing.T) {
	client := new(mqttClientMock)
	expected, _ := json.Marshal(ReadingSent{ChannelID: "123", Data: testFields, Timestamp: 1700000000})
	client.On("Connect").Return(&tokenStub{completed: true}).Once()
	client.On("Publish", "envsensor/123", byte(mqttQoS), false, expected).Return(&tokenStub{completed: true}).Twice()

	sink, options := newTestMQTTSink(t, client)
	assert.NoError(t, sink.Send(context.Background(), testDevice, testFields))
	assert.NoError(t, sink.Send(context.Background(), testDevice, testFields))

	client.AssertExpectations(t)
	require.Len(t, *options, 1)
	assert.Equal(t, "123", (*options)[0].Username)
	assert.Equal(t, "k", (*options)[0].Password)
	assert.Equal(t, "envsensor-123", (*options)[0].ClientID)
}

func TestMQTTSinkWhenConnectFailsThenTransportAndRetryDials(t *testing.T) {
	failing := new(mqttClientMock)
	failing.On("Connect").Return(&tokenStub{completed: true, err: errors.New("not authorized")})
	failing.On("Disconnect", uint(0)).Return().Once()
	working := new(mqttClientMock)
	working.On("Connect").Return(&tokenStub{completed: true})
	working.On("Publish", "envsensor/123", byte(mqttQoS), false, mock.Anything).Return(&tokenStub{completed: true})

	sink, options := newTestMQTTSink(t, failing, working)
	err := sink.Send(context.Background(), testDevice, testFields)
	assert.True(t, IsTransport(err))

	assert.NoError(t, sink.Send(context.Background(), testDevice, testFields))
	assert.Len(t, *options, 2)
}

func TestMQTTSinkWhenPublishTimesOutThenTransport(t *testing.T) {
	client := new(mqttClientMock)
	client.On("Connect").Return(&tokenStub{completed: true})
	client.On("Publish", "envsensor/123", byte(mqttQoS), false, mock.Anything).Return(&tokenStub{completed: false})

	sink, _ := newTestMQTTSink(t, client)
	sink.timeout = 20 * time.Millisecond
	err := sink.Send(context.Background(), testDevice, testFields)
	assert.True(t, IsTransport(err))
	assert.Contains(t, err.Error(), "timeout")
}

func TestMQTTSinkWhenContextCancelledThenSendReturns(t *testing.T) {
	client := new(mqttClientMock)
	client.On("Connect").Return(&tokenStub{completed: false})
	client.On("Disconnect", uint(0)).Return().Once()

	sink, _ := newTestMQTTSink(t, client)
	sink.timeout = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sink.Send(ctx, testDevice, testFields)
	assert.True(t, IsTransport(err))
	assert.ErrorIs(t, err, context.Canceled)
	client.AssertExpectations(t)
}

func TestMQTTSinkSlowConnectDoesNotBlockOtherChannels(t *testing.T) {
	release := make(chan struct{})
	connecting := make(chan struct{})
	slow := new(mqttClientMock)
	slow.On("Connect").Return(&gatedToken{release: release}).Run(func(mock.Arguments) { close(connecting) }).Once()
	slow.On("Publish", "envsensor/123", byte(mqttQoS), false, mock.Anything).Return(&tokenStub{completed: true})
	fast := new(mqttClientMock)
	fast.On("Connect").Return(&tokenStub{completed: true})
	fast.On("Publish", "envsensor/456", byte(mqttQoS), false, mock.Anything).Return(&tokenStub{completed: true})

	sink, err := NewMQTTSink("tcp://broker.local:1883", "envsensor/%s", 5*time.Second)
	require.NoError(t, err)
	clients := map[string]mqttClient{"envsensor-123": slow, "envsensor-456": fast}
	sink.newClient = func(o *mqtt.ClientOptions) mqttClient { return clients[o.ClientID] }

	slowDone := make(chan error, 1)
	go func() { slowDone <- sink.Send(context.Background(), testDevice, testFields) }()
	select {
	case <-connecting:
	case <-time.After(2 * time.Second):
		t.Fatal("connect never started")
	}

	fastDone := make(chan error, 1)
	go func() {
		fastDone <- sink.Send(context.Background(), entities.Device{ChannelID: "456", WriteKey: "w"}, testFields)
	}()
	select {
	case err := <-fastDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("send on one channel waited for another channel's connect")
	}

	close(release)
	assert.NoError(t, <-slowDone)
}

func TestMQTTSinkSeparateClientPerChannel(t *testing.T) {
	first := new(mqttClientMock)
	second := new(mqttClientMock)
	for _, c := range []*mqttClientMock{first, second} {
		c.On("Connect").Return(&tokenStub{completed: true})
		c.On("Publish", mock.Anything, byte(mqttQoS), false, mock.Anything).Return(&tokenStub{completed: true})
		c.On("Disconnect", uint(mqttQuiesceMs)).Return().Once()
	}

	sink, _ := newTestMQTTSink(t, first, second)
	assert.NoError(t, sink.Send(context.Background(), testDevice, testFields))
	assert.NoError(t, sink.Send(context.Background(), entities.Device{ChannelID: "456", WriteKey: "w"}, testFields))
	assert.NoError(t, sink.Close())

	first.AssertCalled(t, "Publish", "envsensor/123", byte(mqttQoS), false, mock.Anything)
	second.AssertCalled(t, "Publish", "envsensor/456", byte(mqttQoS), false, mock.Anything)
	first.AssertExpectations(t)
	second.AssertExpectations(t)
}

func TestNewMQTTSinkWhenInvalidBrokerThenError(t *testing.T) {
	_, err := NewMQTTSink("not a url", "envsensor/%s", time.Second)
	assert.Error(t, err)
}
