package device

import (
	"encoding/binary"
	"fmt"

	"github.com/srg/hrmon/internal/bledb"
	"github.com/srg/hrmon/profile"
)

// Well-known GATT characteristic UUIDs (16-bit short form, normalized without dashes)
const (
	CharacteristicAppearance           = "2a01"
	CharacteristicHeartRateMeasurement = "2a37"
	CharacteristicBatteryLevel         = "2a19"
)

// CharacteristicParser is a function that parses a characteristic value
type CharacteristicParser func([]byte) (interface{}, error)

// parseAppearance parses the Appearance characteristic (0x2A01) value
// Returns human-readable appearance name (e.g., "Heart Rate Belt"), or nil if unknown
func parseAppearance(value []byte) (interface{}, error) {
	if len(value) != 2 {
		return nil, fmt.Errorf("appearance value must be 2 bytes, got %d", len(value))
	}

	code := binary.LittleEndian.Uint16(value)
	name := bledb.LookupAppearanceCode(code)

	// Return nil if unknown (bledb returns empty string for unknown codes)
	if name == "" {
		return nil, nil
	}

	return name, nil
}

// parseHeartRateMeasurement parses the Heart Rate Measurement characteristic (0x2A37) value.
// Returns a *profile.Measurement with BPM, contact status, energy and RR intervals.
func parseHeartRateMeasurement(value []byte) (interface{}, error) {
	m, err := profile.ParseMeasurement(value)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// parseBatteryLevel parses the Battery Level characteristic (0x2A19) value.
// Returns the level as uint8 in the 0-100 range.
func parseBatteryLevel(value []byte) (interface{}, error) {
	if len(value) != 1 {
		return nil, fmt.Errorf("battery level value must be 1 byte, got %d", len(value))
	}
	level := value[0]
	if level > 100 {
		return nil, fmt.Errorf("battery level out of range: %d", level)
	}
	return level, nil
}

// characteristicParsers maps normalized characteristic UUIDs to their parser functions
var characteristicParsers = map[string]CharacteristicParser{
	CharacteristicAppearance:           parseAppearance,
	CharacteristicHeartRateMeasurement: parseHeartRateMeasurement,
	CharacteristicBatteryLevel:         parseBatteryLevel,
}

// IsParsableCharacteristic returns true if the characteristic UUID supports value parsing
func IsParsableCharacteristic(uuid string) bool {
	normalizedUUID := NormalizeUUID(uuid)
	_, exists := characteristicParsers[normalizedUUID]
	return exists
}

// ParseCharacteristicValue parses a characteristic value based on its UUID.
// Returns the parsed value for well-known characteristics, or nil for unknown ones.
// Returns (nil, nil) for empty data.
func ParseCharacteristicValue(uuid string, value []byte) (interface{}, error) {
	// Normalize UUID for comparison (remove dashes, lowercase)
	normalizedUUID := NormalizeUUID(uuid)

	parser, exists := characteristicParsers[normalizedUUID]
	if !exists {
		// Unknown characteristic UUID, return nil
		return nil, nil
	}

	return parser(value)
}
