package utils

import (
	"strings"
	"time"

	"github.com/janael-pinheiro/envsensor-gateway/pkg/entities"
	"github.com/pkg/errors"
)

const (
	DefaultScanWindow    = 5 * time.Second
	DefaultSinkTimeout   = 10 * time.Second
	DefaultQueueSize     = 8
	DefaultExchange      = "sensor.readings"
	DefaultTopicTemplate = "envsensor/%s"
	DefaultAdapter       = "hci0"
)

// LoadConfiguration reads the YAML document at path, applies defaults and
// validates it. Any error here is expected to stop the process.
func LoadConfiguration(path string) (entities.Configuration, error) {
	conf, err := ConfigurationParser(path, entities.Configuration{})
	if err != nil {
		return conf, errors.Wrapf(err, "parse configuration %s", path)
	}
	conf = ApplyDefaults(conf)
	if err := ValidateConfiguration(conf); err != nil {
		return conf, errors.Wrapf(err, "invalid configuration %s", path)
	}
	return conf, nil
}

// NormalizeAddress returns the canonical registry key for a hardware address.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func ApplyDefaults(conf entities.Configuration) entities.Configuration {
	devices := make(map[string]entities.Device, len(conf.Devices))
	for address, device := range conf.Devices {
		devices[NormalizeAddress(address)] = device
	}
	conf.Devices = devices

	if conf.Sink.Kind == "" {
		conf.Sink.Kind = entities.SinkAmbient
	}
	if conf.Sink.Timeout == 0 {
		conf.Sink.Timeout = DefaultSinkTimeout
	}
	if conf.Sink.Exchange == "" {
		conf.Sink.Exchange = DefaultExchange
	}
	if conf.Sink.TopicTemplate == "" {
		conf.Sink.TopicTemplate = DefaultTopicTemplate
	}
	if conf.Scan.Window == 0 {
		conf.Scan.Window = DefaultScanWindow
	}
	if conf.Scan.Adapter == "" {
		conf.Scan.Adapter = DefaultAdapter
	}
	if conf.Delivery.QueueSize <= 0 {
		conf.Delivery.QueueSize = DefaultQueueSize
	}
	return conf
}

func ValidateConfiguration(conf entities.Configuration) error {
	if len(conf.Devices) == 0 {
		return errors.New("no devices registered")
	}
	for address, device := range conf.Devices {
		if address == "" {
			return errors.New("device with empty address")
		}
		if device.ChannelID == "" {
			return errors.Errorf("device %s has no channelID", address)
		}
		if device.WriteKey == "" {
			return errors.Errorf("device %s has no writeKey", address)
		}
	}

	switch conf.Sink.Kind {
	case entities.SinkAmbient:
	case entities.SinkAMQP, entities.SinkMQTT:
		if conf.Sink.URL == "" {
			return errors.Errorf("sink %s requires url", conf.Sink.Kind)
		}
	default:
		return errors.Errorf("unknown sink kind %q", conf.Sink.Kind)
	}

	if conf.Scan.Window < 0 {
		return errors.New("scan window must be positive")
	}
	return nil
}
