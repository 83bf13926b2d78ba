package envsensor

import (
	"strings"

	"github.com/janael-pinheiro/envsensor-gateway/pkg/entities"
	"github.com/janael-pinheiro/envsensor-gateway/pkg/utils"
)

const (
	// ManufacturerMarker is the hex prefix identifying sensor payloads.
	ManufacturerMarker = "ffff"
	sequenceHexLength  = 2
)

// Observation is the part of an advertisement the gateway acts on.
type Observation struct {
	Address  string
	Sequence string
	Payload  string
}

// ParseAdvertisement extracts the sequence token and payload from the first
// manufacturer field carrying the sensor marker.
func ParseAdvertisement(advertisement entities.Advertisement) (Observation, bool) {
	for _, field := range advertisement.Fields {
		if field.Description != entities.ManufacturerDescription {
			continue
		}
		value := strings.ToLower(field.Value)
		if !strings.HasPrefix(value, ManufacturerMarker) {
			continue
		}
		rest := value[len(ManufacturerMarker):]
		if len(rest) < sequenceHexLength {
			continue
		}
		return Observation{
			Address:  utils.NormalizeAddress(advertisement.Address),
			Sequence: rest[:sequenceHexLength],
			Payload:  rest[sequenceHexLength:],
		}, true
	}
	return Observation{}, false
}
