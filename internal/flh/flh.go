// Package flh implements the wire protocol of FLH-series desk controllers:
// command framing and telemetry decoding for motorized height-adjustable
// desks. Everything here is pure translation between semantic values and
// bytes; no I/O, no state.
package flh

import (
	"errors"
	"fmt"
	"math"
)

// FLH desk BLE UUIDs. The controller exposes a Nordic-UART-style service
// with one write characteristic for commands and one notify characteristic
// for telemetry.
const (
	ServiceUUID       = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	CommandCharUUID   = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	TelemetryCharUUID = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

var (
	// ErrInvalidArgument reports a caller-supplied value outside the
	// protocol's contract. Nothing is transmitted for such a value.
	ErrInvalidArgument = errors.New("flh: invalid argument")

	// ErrMalformedPayload reports a corrupt or truncated notification.
	// A decoder returning it never also returns a usable value.
	ErrMalformedPayload = errors.New("flh: malformed payload")
)

// Height is a desk height in tenths of a millimeter.
type Height int

// FLH desks travel between 72.0cm and 122.0cm.
const (
	MinHeight Height = 7200
	MaxHeight Height = 12200
)

// Valid reports whether h lies within the desk's travel range.
func (h Height) Valid() bool { return h >= MinHeight && h <= MaxHeight }

// Millimeters returns h rounded to the nearest millimeter, the unit the
// wire protocol carries.
func (h Height) Millimeters() int { return (int(h) + 5) / 10 }

// Cm returns h in centimeters.
func (h Height) Cm() float64 { return float64(h) / 100 }

// String formats h the way it is printed on the desk's handset.
func (h Height) String() string { return fmt.Sprintf("%.1fcm", h.Cm()) }

// HeightFromCm converts a centimeter value (as entered by a user) to a
// Height. Range validation is left to the encoder.
func HeightFromCm(cm float64) Height { return Height(math.Round(cm * 100)) }

// Sensitivity is the desk's movement-speed setting, carried on the wire as
// a single byte in [0, 8]. Which end is slowest is firmware-defined;
// confirm against hardware rather than assume.
type Sensitivity int

// MaxSensitivity is the highest level the firmware accepts.
const MaxSensitivity Sensitivity = 8

// Valid reports whether s is a level the firmware accepts.
func (s Sensitivity) Valid() bool { return s >= 0 && s <= MaxSensitivity }

// Direction selects a continuous-move command.
type Direction int

const (
	Stop Direction = iota
	Raise
	Lower
)

func (d Direction) String() string {
	switch d {
	case Stop:
		return "stop"
	case Raise:
		return "raise"
	case Lower:
		return "lower"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// MemorySlot is one of the desk's four stored positions, numbered 1-4 to
// match the handset buttons.
type MemorySlot int

// MinMemorySlot and MaxMemorySlot bound the handset's preset buttons.
const (
	MinMemorySlot MemorySlot = 1
	MaxMemorySlot MemorySlot = 4
)

// Valid reports whether slot names a handset preset button.
func (m MemorySlot) Valid() bool { return m >= MinMemorySlot && m <= MaxMemorySlot }
