// Package decoder turns the environment sensor's fixed 10-byte payload into
// a reading in physical units.
//
// Layout, five little-endian int16 values:
//
//	0-1 temperature         x100 (°C)
//	2-3 humidity            x100 (%RH)
//	4-5 pressure            x10  (hPa)
//	6-7 system temperature  x100 (°C)
//	8-9 battery voltage     x100 (V)
package decoder

import (
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/janael-pinheiro/envsensor-gateway/pkg/entities"
	"github.com/pkg/errors"
)

const PayloadSize = 10

var ErrMalformedPayload = errors.New("malformed payload")

var scales = [5]float64{100, 100, 10, 100, 100}

func Decode(blob []byte) (entities.Reading, error) {
	if len(blob) != PayloadSize {
		return entities.Reading{}, errors.Wrapf(ErrMalformedPayload, "expected %d bytes, got %d", PayloadSize, len(blob))
	}

	var values [5]float64
	for i := range values {
		raw := int16(binary.LittleEndian.Uint16(blob[i*2 : i*2+2]))
		values[i] = float64(raw) / scales[i]
	}

	return entities.Reading{
		Temperature:       values[0],
		Humidity:          values[1],
		Pressure:          values[2],
		SystemTemperature: values[3],
		BatteryVoltage:    values[4],
	}, nil
}

// DecodeHex decodes a payload given as hex text, as it appears in the
// manufacturer data of an advertisement.
func DecodeHex(payload string) (entities.Reading, error) {
	blob, err := hex.DecodeString(payload)
	if err != nil {
		return entities.Reading{}, errors.Wrapf(ErrMalformedPayload, "hex: %v", err)
	}
	return Decode(blob)
}

// Encode is the inverse of Decode. Values are rounded to the nearest scaled
// integer and clamped to the int16 range.
func Encode(reading entities.Reading) []byte {
	values := [5]float64{
		reading.Temperature,
		reading.Humidity,
		reading.Pressure,
		reading.SystemTemperature,
		reading.BatteryVoltage,
	}
	blob := make([]byte, PayloadSize)
	for i, value := range values {
		scaled := math.Round(value * scales[i])
		scaled = math.Max(math.MinInt16, math.Min(math.MaxInt16, scaled))
		binary.LittleEndian.PutUint16(blob[i*2:], uint16(int16(scaled)))
	}
	return blob
}
