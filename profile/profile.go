// Package profile decodes Bluetooth SIG Heart Rate Profile and Battery
// Service characteristic payloads.
//
// All functions are pure: they map a payload plus a characteristic identity
// to an optional decoded value and keep no state. UUIDs are expected in the
// normalized short form produced by device.NormalizeUUID (lowercase,
// 16-bit where the SIG base applies).
package profile

import "strconv"

// Normalized UUIDs of the services and characteristics this package knows.
const (
	HeartRateServiceUUID     = "180d"
	HeartRateMeasurementUUID = "2a37"
	HeartRateControlPoint    = "2a39"
	BatteryServiceUUID       = "180f"
	BatteryLevelUUID         = "2a19"
)

// Kind identifies which reading a decoded value represents.
type Kind int

const (
	KindHeartRate Kind = iota
	KindBattery
)

func (k Kind) String() string {
	switch k {
	case KindHeartRate:
		return "heart_rate"
	case KindBattery:
		return "battery"
	default:
		return "unknown"
	}
}

// Reading is one decoded value, already rendered as the string-encoded
// integer consumers receive.
type Reading struct {
	Kind  Kind
	Value string
}

// Decode maps a characteristic payload to an optional reading.
//
// Heart Rate Measurement (2a37): byte 0 is the flags field; flags bit 0
// set means a little-endian uint16 at offset 1, clear means a uint8 at
// offset 1. Battery Level (2a19): uint8 at offset 0, zero suppressed as
// invalid. Any other characteristic identity produces no reading, as do
// payloads too short for their encoding.
func Decode(charUUID string, data []byte) (Reading, bool) {
	switch charUUID {
	case HeartRateMeasurementUUID:
		bpm, ok := decodeHeartRate(data)
		if !ok {
			return Reading{}, false
		}
		return Reading{Kind: KindHeartRate, Value: strconv.Itoa(bpm)}, true

	case BatteryLevelUUID:
		level, ok := DecodeBatteryLevel(data)
		if !ok {
			return Reading{}, false
		}
		return Reading{Kind: KindBattery, Value: strconv.Itoa(int(level))}, true

	default:
		return Reading{}, false
	}
}

func decodeHeartRate(data []byte) (int, bool) {
	if len(data) < 2 {
		return 0, false
	}
	flags := data[0]
	if flags&flagRate16Bit != 0 {
		if len(data) < 3 {
			return 0, false
		}
		return int(uint16(data[1]) | uint16(data[2])<<8), true
	}
	return int(data[1]), true
}

// DecodeBatteryLevel reads the Battery Level payload. A zero level is
// reported by some sensors before the first real sample and is treated
// as absent.
func DecodeBatteryLevel(data []byte) (uint8, bool) {
	if len(data) < 1 {
		return 0, false
	}
	if data[0] == 0 {
		return 0, false
	}
	return data[0], true
}
