package desk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/OTZro/flh-desk/internal/ble"
	"github.com/OTZro/flh-desk/internal/flh"
)

var (
	errCharNotFound    = errors.New("characteristic not found")
	errPeerUnreachable = errors.New("peer unreachable")
)

// fakeCharacteristic records writes and lets tests inject notifications.
type fakeCharacteristic struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	callback func(data []byte)
}

func (c *fakeCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.writes = append(c.writes, buf)
	return nil
}

func (c *fakeCharacteristic) Subscribe(callback func(data []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = callback
	return nil
}

// SimulateNotification delivers a payload as if the peripheral sent it.
func (c *fakeCharacteristic) SimulateNotification(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

func (c *fakeCharacteristic) setWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeCharacteristic) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *fakeCharacteristic) writtenFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// fakeConnection hands out one characteristic per UUID and lets tests drop
// the link.
type fakeConnection struct {
	mu           sync.Mutex
	command      *fakeCharacteristic
	telemetry    *fakeCharacteristic
	disconnected bool
	disconnectCb func()
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{
		command:   &fakeCharacteristic{},
		telemetry: &fakeCharacteristic{},
	}
}

func (c *fakeConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (ble.Characteristic, error) {
	switch charUUID {
	case flh.CommandCharUUID:
		return c.command, nil
	case flh.TelemetryCharUUID:
		return c.telemetry, nil
	}
	return nil, errCharNotFound
}

func (c *fakeConnection) Disconnect() error {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConnection) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

func (c *fakeConnection) OnDisconnect(callback func()) {
	c.mu.Lock()
	c.disconnectCb = callback
	c.mu.Unlock()
}

// SimulateDisconnect drops the link from the peripheral side.
func (c *fakeConnection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// fakeAdapter produces a fresh connection per Connect call and can fail a
// configured number of attempts first.
type fakeAdapter struct {
	mu          sync.Mutex
	enabled     bool
	connectErrs int // fail this many Connect calls before succeeding; -1 fails forever
	conns       []*fakeConnection
}

func (a *fakeAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = true
	return nil
}

func (a *fakeAdapter) Scan(ctx context.Context, serviceUUID string) ([]ble.Device, error) {
	return nil, nil
}

func (a *fakeAdapter) Connect(ctx context.Context, address string) (ble.Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connectErrs != 0 {
		if a.connectErrs > 0 {
			a.connectErrs--
		}
		return nil, errPeerUnreachable
	}
	conn := newFakeConnection()
	a.conns = append(a.conns, conn)
	return conn, nil
}

func (a *fakeAdapter) connCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}

func (a *fakeAdapter) latest() *fakeConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.conns) == 0 {
		return nil
	}
	return a.conns[len(a.conns)-1]
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}
