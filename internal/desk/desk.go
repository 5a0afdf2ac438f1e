// Package desk is the connection and movement engine for FLH-series desk
// controllers. It owns the BLE session lifecycle (wake handshake, ordered
// command delivery, reconnection with backoff), supervises movement goals
// against streamed height telemetry, and publishes everything it learns
// about the desk through a snapshot store.
//
// The desk firmware never acknowledges commands, so the engine treats
// telemetry as the only source of truth: a movement goal completes when
// the reported height crosses its target, not when the command is written.
package desk

import (
	"context"

	"github.com/OTZro/flh-desk/internal/ble"
	"github.com/OTZro/flh-desk/internal/flh"
)

// Address identifies a desk controller on the BLE transport.
type Address struct {
	// MAC is the peripheral address: a colon-separated MAC on Linux and
	// Windows, a CoreBluetooth UUID on macOS.
	MAC string
	// ServiceUUID overrides the FLH service UUID. Empty means the
	// protocol default.
	ServiceUUID string
}

// Options bundles session and controller tuning.
type Options struct {
	Session    SessionOptions
	Controller ControllerOptions
}

// DefaultOptions returns production defaults for both layers.
func DefaultOptions() Options {
	return Options{
		Session:    DefaultSessionOptions(),
		Controller: DefaultControllerOptions(),
	}
}

// Desk couples a session and a controller around a shared telemetry store
// and exposes the whole engine as one object.
type Desk struct {
	session    *Session
	controller *Controller
	store      *TelemetryStore
}

// New assembles an engine for the desk at addr over adapter. Nothing
// touches the radio until Connect.
func New(adapter ble.Adapter, addr Address, opts Options) *Desk {
	store := NewTelemetryStore()
	session := NewSession(adapter, addr, store, opts.Session)
	controller := NewController(session, store, opts.Controller)
	session.SetHandler(controller)
	return &Desk{
		session:    session,
		controller: controller,
		store:      store,
	}
}

// Connect starts the session: connect, wake the controller, keep the link
// alive until Disconnect. It returns once the connection loop is running;
// watch Subscribe for StateConnected.
func (d *Desk) Connect(ctx context.Context) error {
	return d.session.Connect(ctx)
}

// Disconnect tears the link down and stops reconnecting.
func (d *Desk) Disconnect() error {
	return d.session.Disconnect()
}

// State reports the connection state.
func (d *Desk) State() ConnectionState {
	return d.session.State()
}

// Open raises the desk toward its upper travel limit.
func (d *Desk) Open() error {
	return d.controller.Open()
}

// Close lowers the desk toward its bottom travel limit. It does not
// release the connection; use Disconnect for that.
func (d *Desk) Close() error {
	return d.controller.Close()
}

// Stop halts any movement, including firmware-driven memory recalls.
func (d *Desk) Stop() error {
	return d.controller.Stop()
}

// GoTo moves the desk to an absolute height.
func (d *Desk) GoTo(target flh.Height) error {
	return d.controller.GoTo(target)
}

// SetPosition moves the desk to a percentage of its travel range.
func (d *Desk) SetPosition(percent int) error {
	return d.controller.SetPosition(percent)
}

// SetSensitivity applies a movement-speed level.
func (d *Desk) SetSensitivity(level flh.Sensitivity) error {
	return d.controller.SetSensitivity(level)
}

// RecallMemory drives the desk to a handset preset slot.
func (d *Desk) RecallMemory(slot flh.MemorySlot) error {
	return d.controller.RecallMemory(slot)
}

// SaveMemory stores the current height in a handset preset slot.
func (d *Desk) SaveMemory(slot flh.MemorySlot) error {
	return d.controller.SaveMemory(slot)
}

// Snapshot returns the latest known desk state.
func (d *Desk) Snapshot() Snapshot {
	return d.store.Get()
}

// Subscribe streams state snapshots. Slow consumers see the latest state,
// not every intermediate one. The returned cancel releases the
// subscription and closes the channel.
func (d *Desk) Subscribe() (<-chan Snapshot, func()) {
	return d.store.Subscribe()
}
