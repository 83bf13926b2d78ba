package network

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/janael-pinheiro/envsensor-gateway/pkg/entities"
	"github.com/pkg/errors"
)

const (
	mqttQoS          = 1
	mqttQuiesceMs    = 250
	mqttClientPrefix = "envsensor-"
)

type mqttClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes readings to an MQTT broker. Each channel gets its own
// client, authenticated with the channel ID and write key.
type MQTTSink struct {
	broker        string
	topicTemplate string
	timeout       time.Duration
	now           func() time.Time
	newClient     func(*mqtt.ClientOptions) mqttClient

	mu       sync.Mutex
	channels map[string]*mqttChannel
}

// mqttChannel serializes connecting for one channel so a slow broker
// handshake only holds up that channel.
type mqttChannel struct {
	mu     sync.Mutex
	client mqttClient
}

func NewMQTTSink(broker, topicTemplate string, timeout time.Duration) (*MQTTSink, error) {
	if _, err := url.ParseRequestURI(broker); err != nil {
		return nil, errors.Wrapf(err, "config error mqtt broker=%s", broker)
	}
	return &MQTTSink{
		broker:        broker,
		topicTemplate: topicTemplate,
		timeout:       timeout,
		now:           time.Now,
		newClient:     func(o *mqtt.ClientOptions) mqttClient { return mqtt.NewClient(o) },
		channels:      make(map[string]*mqttChannel),
	}, nil
}

func (s *MQTTSink) channel(channelID string) *mqttChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	channel, ok := s.channels[channelID]
	if !ok {
		channel = &mqttChannel{}
		s.channels[channelID] = channel
	}
	return channel
}

func (s *MQTTSink) client(ctx context.Context, device entities.Device) (mqttClient, error) {
	channel := s.channel(device.ChannelID)
	channel.mu.Lock()
	defer channel.mu.Unlock()

	if channel.client != nil {
		return channel.client, nil
	}

	options := mqtt.NewClientOptions().
		AddBroker(s.broker).
		SetClientID(mqttClientPrefix + device.ChannelID).
		SetUsername(device.ChannelID).
		SetPassword(device.WriteKey).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(s.timeout)
	c := s.newClient(options)
	if err := waitToken(ctx, c.Connect(), s.timeout, "mqtt connect"); err != nil {
		c.Disconnect(0)
		return nil, err
	}
	channel.client = c
	return c, nil
}

func (s *MQTTSink) Send(ctx context.Context, device entities.Device, fields entities.Fields) error {
	payload, err := json.Marshal(ReadingSent{
		ChannelID: device.ChannelID,
		Data:      fields,
		Timestamp: s.now().Unix(),
	})
	if err != nil {
		return errors.Wrap(err, "encode mqtt payload")
	}

	c, err := s.client(ctx, device)
	if err != nil {
		return err
	}
	topic := fmt.Sprintf(s.topicTemplate, device.ChannelID)
	return waitToken(ctx, c.Publish(topic, mqttQoS, false, payload), s.timeout, "mqtt publish")
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration, operation string) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-timer.C:
		return transportError(errors.Errorf("%s: timeout after %s", operation, timeout))
	case <-ctx.Done():
		return transportError(errors.Wrap(ctx.Err(), operation))
	}
	if err := token.Error(); err != nil {
		return transportError(errors.Wrap(err, operation))
	}
	return nil
}

func (s *MQTTSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for channelID, channel := range s.channels {
		channel.mu.Lock()
		if channel.client != nil {
			channel.client.Disconnect(mqttQuiesceMs)
		}
		channel.mu.Unlock()
		delete(s.channels, channelID)
	}
	return nil
}
