package entities

import "time"

const (
	SinkAmbient string = "ambient"
	SinkAMQP    string = "amqp"
	SinkMQTT    string = "mqtt"
)

// Device holds the delivery credentials of a registered sensor.
type Device struct {
	ChannelID string `yaml:"channelID"`
	WriteKey  string `yaml:"writeKey"`
}

type Configuration struct {
	Devices  map[string]Device `yaml:"devices"`
	Sink     SinkConfig        `yaml:"sink"`
	Scan     ScanConfig        `yaml:"scan"`
	Delivery DeliveryConfig    `yaml:"delivery"`
	Log      LogConfig         `yaml:"log"`
}

type SinkConfig struct {
	Kind          string        `yaml:"kind"`
	URL           string        `yaml:"url"`
	Exchange      string        `yaml:"exchange"`
	TopicTemplate string        `yaml:"topicTemplate"`
	Timeout       time.Duration `yaml:"timeout"`
}

type ScanConfig struct {
	Window  time.Duration `yaml:"window"`
	Adapter string        `yaml:"adapter"`
}

type DeliveryConfig struct {
	QueueSize int `yaml:"queueSize"`
}

type LogConfig struct {
	File string `yaml:"file"`
}
