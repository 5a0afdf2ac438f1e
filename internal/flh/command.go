package flh

import (
	"encoding/binary"
	"fmt"
)

// Every command frame except init is 0xDD 0x00, a body, and a one-byte
// checksum over the body. The init frame is raw 8 bytes with no checksum;
// the firmware treats it specially.
const (
	frameHeader0 = 0xDD
	frameHeader1 = 0x00
)

// Move opcodes. The byte after the opcode is a fixed pad on move frames;
// the trailing body byte carries a sensitivity level, zero meaning "leave
// as is".
const (
	opStop  = 0x40
	opRaise = 0x41
	opLower = 0x42

	movePad = 0x20
)

// opAutoMove is the second body byte of a firmware-targeted move; opAutoStop
// halts one.
const (
	opAutoMove = 0x28
	opAutoStop = 0xC3
)

// Memory preset codes, indexed by slot-1. Recall drives the desk to the
// stored height; save overwrites the slot with the current height.
var (
	memoryRecallCodes = [4]byte{0x21, 0x22, 0x24, 0x28}
	memorySaveCodes   = [4]byte{0x31, 0x32, 0x34, 0x38}
)

// Checksum returns the FLH body checksum: the byte sum masked to 7 bits.
func Checksum(body []byte) byte {
	sum := 0
	for _, b := range body {
		sum += int(b)
	}
	return byte(sum & 0x7F)
}

// frame wraps body in the standard header and appends its checksum.
func frame(body ...byte) []byte {
	buf := make([]byte, 0, len(body)+3)
	buf = append(buf, frameHeader0, frameHeader1)
	buf = append(buf, body...)
	buf = append(buf, Checksum(body))
	return buf
}

// EncodeMove returns the continuous-move frame for d. Raise and lower keep
// the desk moving until a stop frame or its own limit switch; the desk does
// not stop on its own for these.
func EncodeMove(d Direction) ([]byte, error) {
	var op byte
	switch d {
	case Stop:
		op = opStop
	case Raise:
		op = opRaise
	case Lower:
		op = opLower
	default:
		return nil, fmt.Errorf("%w: unknown direction %d", ErrInvalidArgument, int(d))
	}
	return frame(op, movePad, 0x00, 0x00, 0x00), nil
}

// EncodeTargetHeight encodes h as the 2-byte little-endian millimeter value
// that height payloads carry in both directions. Out-of-range heights are
// rejected, never clamped.
func EncodeTargetHeight(h Height) ([]byte, error) {
	if !h.Valid() {
		return nil, fmt.Errorf("%w: height %d out of range [%d, %d]", ErrInvalidArgument, int(h), int(MinHeight), int(MaxHeight))
	}
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(h.Millimeters()))
	return buf, nil
}

// EncodeSensitivity returns the set-sensitivity frame. The level rides in
// the trailing body byte of a stop-opcode frame; the desk echoes the
// applied level back on the telemetry characteristic.
func EncodeSensitivity(level Sensitivity) ([]byte, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("%w: sensitivity %d out of range [0, %d]", ErrInvalidArgument, int(level), int(MaxSensitivity))
	}
	return frame(opStop, movePad, 0x00, 0x00, byte(level)), nil
}

// EncodeAutoMove returns the firmware-targeted move frame: the desk drives
// itself to h at the given sensitivity and stops without further host
// involvement.
func EncodeAutoMove(h Height, speed Sensitivity) ([]byte, error) {
	payload, err := EncodeTargetHeight(h)
	if err != nil {
		return nil, err
	}
	if !speed.Valid() {
		return nil, fmt.Errorf("%w: sensitivity %d out of range [0, %d]", ErrInvalidArgument, int(speed), int(MaxSensitivity))
	}
	return frame(opStop, opAutoMove, payload[0], payload[1], byte(speed)), nil
}

// EncodeAutoStop returns the frame that halts a firmware-targeted move.
func EncodeAutoStop() []byte {
	return frame(opAutoStop, 0x00, 0x00, 0x00)
}

// EncodeInit returns the raw wake/init frame. The firmware answers it with
// a travel-limits report and begins streaming height telemetry.
func EncodeInit() []byte {
	return []byte{0xDD, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
}

// EncodeMemoryRecall returns the frame that drives the desk to preset slot.
func EncodeMemoryRecall(slot MemorySlot) ([]byte, error) {
	if !slot.Valid() {
		return nil, fmt.Errorf("%w: memory slot %d out of range [%d, %d]", ErrInvalidArgument, int(slot), int(MinMemorySlot), int(MaxMemorySlot))
	}
	return frame(opStop, memoryRecallCodes[slot-1]), nil
}

// EncodeMemorySave returns the frame that stores the current height in
// preset slot.
func EncodeMemorySave(slot MemorySlot) ([]byte, error) {
	if !slot.Valid() {
		return nil, fmt.Errorf("%w: memory slot %d out of range [%d, %d]", ErrInvalidArgument, int(slot), int(MinMemorySlot), int(MaxMemorySlot))
	}
	return frame(opStop, memorySaveCodes[slot-1]), nil
}
