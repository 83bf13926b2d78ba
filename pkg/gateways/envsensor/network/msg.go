package network

import "github.com/janael-pinheiro/envsensor-gateway/pkg/entities"

// ReadingSent is the broker message carrying one decoded reading.
type ReadingSent struct {
	ChannelID string          `json:"channelId"`
	Data      entities.Fields `json:"data"`
	Timestamp int64           `json:"timestamp"`
}
