package flh

import (
	"encoding/binary"
	"fmt"
)

// Telemetry payloads are distinguished by length. The session uses these to
// route a raw notification to its decoder.
const (
	HeightPayloadLen      = 2
	SensitivityPayloadLen = 1
	LimitsPayloadLen      = 4
)

// DecodeHeightNotification decodes a 2-byte little-endian millimeter
// payload into a Height. Wrong length or a value outside the travel range
// fails with ErrMalformedPayload; a corrupt notification must never produce
// a plausible-looking wrong height.
func DecodeHeightNotification(payload []byte) (Height, error) {
	if len(payload) != HeightPayloadLen {
		return 0, fmt.Errorf("%w: height payload must be %d bytes, got %d", ErrMalformedPayload, HeightPayloadLen, len(payload))
	}
	mm := binary.LittleEndian.Uint16(payload)
	h := Height(mm) * 10
	if !h.Valid() {
		return 0, fmt.Errorf("%w: height %dmm outside travel range", ErrMalformedPayload, mm)
	}
	return h, nil
}

// DecodeSensitivity decodes the desk's 1-byte echo of an applied
// sensitivity level.
func DecodeSensitivity(payload []byte) (Sensitivity, error) {
	if len(payload) != SensitivityPayloadLen {
		return 0, fmt.Errorf("%w: sensitivity payload must be %d byte, got %d", ErrMalformedPayload, SensitivityPayloadLen, len(payload))
	}
	s := Sensitivity(payload[0])
	if !s.Valid() {
		return 0, fmt.Errorf("%w: sensitivity %d out of range [0, %d]", ErrMalformedPayload, int(s), int(MaxSensitivity))
	}
	return s, nil
}

// DecodeLimitsNotification decodes the 4-byte travel-limits report the desk
// sends in response to the init frame: minimum and maximum millimeters,
// each little-endian.
func DecodeLimitsNotification(payload []byte) (lower, upper Height, err error) {
	if len(payload) != LimitsPayloadLen {
		return 0, 0, fmt.Errorf("%w: limits payload must be %d bytes, got %d", ErrMalformedPayload, LimitsPayloadLen, len(payload))
	}
	lower = Height(binary.LittleEndian.Uint16(payload[0:2])) * 10
	upper = Height(binary.LittleEndian.Uint16(payload[2:4])) * 10
	if !lower.Valid() || !upper.Valid() || lower > upper {
		return 0, 0, fmt.Errorf("%w: limits %d-%d outside travel range", ErrMalformedPayload, int(lower), int(upper))
	}
	return lower, upper, nil
}
