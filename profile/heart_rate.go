package profile

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Heart Rate Measurement flags field (payload byte 0).
const (
	flagRate16Bit      = 1 << 0
	flagContactStatus  = 1 << 1
	flagContactSupport = 1 << 2
	flagEnergyExpended = 1 << 3
	flagRRIntervals    = 1 << 4
)

// ContactStatus reports skin-contact detection as exposed by the
// sensor-contact flag bits.
type ContactStatus int

const (
	ContactUnsupported ContactStatus = iota
	ContactNotDetected
	ContactDetected
)

func (c ContactStatus) String() string {
	switch c {
	case ContactNotDetected:
		return "no contact"
	case ContactDetected:
		return "contact"
	default:
		return "unsupported"
	}
}

// Measurement is a fully parsed Heart Rate Measurement notification.
// Only BPM is always present; the optional fields follow the flags bits.
type Measurement struct {
	BPM            int
	Contact        ContactStatus
	EnergyExpended int             // kilojoules; -1 when absent
	RRIntervals    []time.Duration // beat-to-beat intervals, oldest first
}

// ParseMeasurement decodes a complete Heart Rate Measurement payload,
// including the optional energy-expended and RR-interval fields. Decode
// is sufficient when only the BPM value is needed.
func ParseMeasurement(data []byte) (Measurement, error) {
	if len(data) < 2 {
		return Measurement{}, fmt.Errorf("heart rate measurement too short: %d bytes", len(data))
	}

	flags := data[0]
	m := Measurement{EnergyExpended: -1}
	offset := 1

	if flags&flagRate16Bit != 0 {
		if len(data) < offset+2 {
			return Measurement{}, fmt.Errorf("heart rate measurement truncated at 16-bit value")
		}
		m.BPM = int(binary.LittleEndian.Uint16(data[offset:]))
		offset += 2
	} else {
		m.BPM = int(data[offset])
		offset++
	}

	if flags&flagContactSupport != 0 {
		if flags&flagContactStatus != 0 {
			m.Contact = ContactDetected
		} else {
			m.Contact = ContactNotDetected
		}
	}

	if flags&flagEnergyExpended != 0 {
		if len(data) < offset+2 {
			return Measurement{}, fmt.Errorf("heart rate measurement truncated at energy expended")
		}
		m.EnergyExpended = int(binary.LittleEndian.Uint16(data[offset:]))
		offset += 2
	}

	if flags&flagRRIntervals != 0 {
		for offset+2 <= len(data) {
			// RR intervals are in units of 1/1024 s.
			rr := time.Duration(binary.LittleEndian.Uint16(data[offset:])) * time.Second / 1024
			m.RRIntervals = append(m.RRIntervals, rr)
			offset += 2
		}
	}

	return m, nil
}
