package entities

// ManufacturerDescription is the scan field description carrying
// manufacturer-specific data.
const ManufacturerDescription = "Manufacturer"

// Reading is one decoded environment sensor measurement in physical units.
type Reading struct {
	Temperature       float64
	Humidity          float64
	Pressure          float64
	SystemTemperature float64
	BatteryVoltage    float64
}

// Fields maps sink field names (d1..d5) to values.
type Fields map[string]float64

func (r Reading) Fields() Fields {
	return Fields{
		"d1": r.Temperature,
		"d2": r.Humidity,
		"d3": r.Pressure,
		"d4": r.SystemTemperature,
		"d5": r.BatteryVoltage,
	}
}

type ScanField struct {
	Type        uint8
	Description string
	Value       string
}

// Advertisement is one advertisement record as reported by the scanner.
type Advertisement struct {
	Address string
	RSSI    int16
	Fields  []ScanField
}
