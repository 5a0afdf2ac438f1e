package desk

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/OTZro/flh-desk/internal/ble"
	"github.com/OTZro/flh-desk/internal/flh"
)

// ConnectionState tracks the session's link to the desk. It is owned
// exclusively by the session; everything else observes it through the
// telemetry store.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota // no session running
	StateConnecting                          // establishing the link
	StateConnected                           // link up, commands accepted
	StateReconnecting                        // link lost, backoff in progress
	StateUnavailable                         // reconnect budget exhausted
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionOptions configures connection behavior.
type SessionOptions struct {
	QueueSize            int           // outbound command queue capacity
	ReconnectBase        time.Duration // first backoff step
	ReconnectMax         int           // max reconnect backoff in seconds
	MaxReconnectAttempts int           // consecutive connect failures before Unavailable; 0 retries forever
	NotificationTimeout  time.Duration // telemetry silence treated as link loss; 0 disables
	CommandsPerSecond    float64       // outbound write pacing
	WakeDelay            time.Duration // pause between the wake stop and the init frame
}

// DefaultSessionOptions returns production defaults. The desk streams
// height about once a second while awake, so 90 seconds of silence means
// the link is dead even though the radio has not said so.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		QueueSize:            64,
		ReconnectBase:        time.Second,
		ReconnectMax:         30,
		MaxReconnectAttempts: 10,
		NotificationTimeout:  90 * time.Second,
		CommandsPerSecond:    20,
		WakeDelay:            time.Second,
	}
}

// TelemetryHandler receives decoded telemetry and link events from the
// session. The movement controller implements it.
type TelemetryHandler interface {
	HandleHeight(h flh.Height)
	HandleSensitivity(level flh.Sensitivity)
	HandleLimits(lower, upper flh.Height)
	// HandleDisconnected fires whenever the link goes down, deliberately
	// or not. An in-flight goal must not survive it.
	HandleDisconnected()
}

// Session owns exactly one BLE link to one desk: a single loop establishes
// the connection, writes queued commands in submission order, routes
// notifications, and reconnects with backoff when the link drops.
type Session struct {
	adapter ble.Adapter
	addr    Address
	store   *TelemetryStore
	opts    SessionOptions
	handler TelemetryHandler
	limiter *rate.Limiter

	cmdCh    chan []byte
	notifyCh chan []byte

	mu     sync.Mutex
	state  ConnectionState
	cancel context.CancelFunc
	done   chan struct{}
}

// link bundles what serve needs from one established connection.
type link struct {
	conn  ble.Connection
	write ble.Characteristic
	down  <-chan struct{}
}

// NewSession creates a session for the desk at addr. Nothing touches the
// radio until Connect starts the loop.
func NewSession(adapter ble.Adapter, addr Address, store *TelemetryStore, opts SessionOptions) *Session {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = time.Second
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 30
	}
	if opts.CommandsPerSecond <= 0 {
		opts.CommandsPerSecond = 20
	}
	if opts.WakeDelay <= 0 {
		opts.WakeDelay = time.Second
	}
	if addr.ServiceUUID == "" {
		addr.ServiceUUID = flh.ServiceUUID
	}
	return &Session{
		adapter:  adapter,
		addr:     addr,
		store:    store,
		opts:     opts,
		limiter:  rate.NewLimiter(rate.Limit(opts.CommandsPerSecond), 1),
		cmdCh:    make(chan []byte, opts.QueueSize),
		notifyCh: make(chan []byte, 32),
		state:    StateDisconnected,
	}
}

// SetHandler routes decoded telemetry and link events to h. Must be called
// before Connect.
func (s *Session) SetHandler(h TelemetryHandler) {
	s.handler = h
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect starts the session's connection loop. Idempotent: calling it
// while the loop is running is a no-op. The loop owns the link from here
// on, reconnecting with backoff until ctx is canceled, Disconnect is
// called, or the attempt budget runs out.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateConnecting, StateConnected, StateReconnecting:
		return nil
	}
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("desk: enable adapter: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = StateConnecting
	s.store.setConnection(StateConnecting)
	go s.run(runCtx)
	return nil
}

// Disconnect stops the connection loop and releases the link. Any active
// goal is canceled on the way down. Safe to call repeatedly; the session
// stays Disconnected until the next Connect.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	s.setState(StateDisconnected)
	return nil
}

// SendCommand queues frame for transmission. Commands go onto the wire
// strictly in submission order; the desk firmware is stateful about
// sequencing. Only valid while Connected, and the queue is bounded: a
// saturated queue rejects rather than buffering indefinitely. The state
// check and the enqueue are one atomic step, so a frame accepted here was
// queued before the link it was accepted for went down, and the teardown
// drain removes it.
func (s *Session) SendCommand(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateUnavailable {
		return fmt.Errorf("%w: reconnect attempts exhausted", ErrUnavailable)
	}
	if s.state != StateConnected {
		return fmt.Errorf("%w: state %s", ErrNotConnected, s.state)
	}
	select {
	case s.cmdCh <- frame:
		return nil
	default:
		return ErrCommandQueueFull
	}
}

// setState records a state transition and publishes it. No-op transitions
// are swallowed so observers only see real changes.
func (s *Session) setState(state ConnectionState) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()
	s.store.setConnection(state)
}

// run is the connection loop: establish, serve, reconnect with backoff.
// It exits on ctx cancellation or when the attempt budget is exhausted.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	attempt := 0
	for {
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return
		}

		s.setState(StateConnecting)
		lk, err := s.establish(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.setState(StateDisconnected)
				return
			}
			attempt++
			slog.Warn("[DESK] connect attempt failed", "address", s.addr.MAC, "attempt", attempt, "error", err)
			if s.opts.MaxReconnectAttempts > 0 && attempt >= s.opts.MaxReconnectAttempts {
				slog.Error("[DESK] giving up on desk", "address", s.addr.MAC, "attempts", attempt)
				s.setState(StateUnavailable)
				return
			}
			s.setState(StateReconnecting)
			if !s.sleep(ctx, backoffDelay(attempt-1, s.opts.ReconnectBase, s.opts.ReconnectMax)) {
				s.setState(StateDisconnected)
				return
			}
			continue
		}

		attempt = 0
		s.setState(StateConnected)
		slog.Info("[DESK] connected", "address", s.addr.MAC)

		err = s.serve(ctx, lk)

		// Leave Connected before draining: from here SendCommand rejects,
		// so nothing can slip into the queue behind the drain and carry
		// onto the next link.
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
		} else {
			s.setState(StateReconnecting)
		}

		lk.conn.Disconnect()
		s.drainCommands()
		if s.handler != nil {
			s.handler.HandleDisconnected()
		}

		if ctx.Err() != nil {
			slog.Info("[DESK] disconnected", "address", s.addr.MAC)
			return
		}
		slog.Warn("[DESK] link lost, reconnecting", "address", s.addr.MAC, "error", err)
	}
}

// establish dials the desk, discovers both characteristics, subscribes to
// telemetry, and runs the wake handshake. Every failure is classified as
// ErrConnectFailed so the backoff loop treats them uniformly.
func (s *Session) establish(ctx context.Context) (*link, error) {
	conn, err := s.adapter.Connect(ctx, s.addr.MAC)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	write, err := conn.DiscoverCharacteristic(s.addr.ServiceUUID, flh.CommandCharUUID)
	if err != nil {
		conn.Disconnect()
		return nil, fmt.Errorf("%w: discover command characteristic: %v", ErrConnectFailed, err)
	}
	notify, err := conn.DiscoverCharacteristic(s.addr.ServiceUUID, flh.TelemetryCharUUID)
	if err != nil {
		conn.Disconnect()
		return nil, fmt.Errorf("%w: discover telemetry characteristic: %v", ErrConnectFailed, err)
	}

	down := make(chan struct{})
	var once sync.Once
	conn.OnDisconnect(func() {
		once.Do(func() { close(down) })
	})

	// The subscription callback runs on the BLE stack's goroutine and must
	// not block; payloads are copied onto the loop's channel and dropped
	// with a complaint if it is full.
	err = notify.Subscribe(func(payload []byte) {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		select {
		case s.notifyCh <- buf:
		default:
			slog.Warn("[DESK] notification buffer full, dropping payload", "len", len(buf))
		}
	})
	if err != nil {
		conn.Disconnect()
		return nil, fmt.Errorf("%w: subscribe to telemetry: %v", ErrConnectFailed, err)
	}

	if err := s.wake(ctx, write); err != nil {
		conn.Disconnect()
		return nil, err
	}

	return &link{conn: conn, write: write, down: down}, nil
}

// wake brings the controller out of sleep: a stop frame, a settle pause,
// then the init frame. The desk answers the init with its travel-limits
// report and starts streaming height telemetry.
func (s *Session) wake(ctx context.Context, write ble.Characteristic) error {
	stop, _ := flh.EncodeMove(flh.Stop)
	if err := write.Write(stop); err != nil {
		return fmt.Errorf("%w: wake write: %v", ErrConnectFailed, err)
	}
	select {
	case <-time.After(s.opts.WakeDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := write.Write(flh.EncodeInit()); err != nil {
		return fmt.Errorf("%w: init write: %v", ErrConnectFailed, err)
	}
	return nil
}

// serve pumps one established link: queued commands out in order, raw
// notifications in, until the link drops, telemetry goes silent, or ctx is
// canceled.
func (s *Session) serve(ctx context.Context, lk *link) error {
	var idle *time.Timer
	var idleC <-chan time.Time
	if s.opts.NotificationTimeout > 0 {
		idle = time.NewTimer(s.opts.NotificationTimeout)
		defer idle.Stop()
		idleC = idle.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-lk.down:
			return fmt.Errorf("desk: transport reported disconnect")

		case frame := <-s.cmdCh:
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
			if err := lk.write.Write(frame); err != nil {
				return fmt.Errorf("desk: write command: %w", err)
			}

		case payload := <-s.notifyCh:
			if idle != nil {
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				idle.Reset(s.opts.NotificationTimeout)
			}
			s.dispatch(payload)

		case <-idleC:
			return fmt.Errorf("desk: no telemetry for %s", s.opts.NotificationTimeout)
		}
	}
}

// dispatch routes a raw notification payload to its decoder by length.
// Malformed payloads are logged and dropped; bad wire data never stalls
// the session or the notifications behind it.
func (s *Session) dispatch(payload []byte) {
	switch len(payload) {
	case flh.HeightPayloadLen:
		h, err := flh.DecodeHeightNotification(payload)
		if err != nil {
			slog.Warn("[DESK] dropping malformed height payload", "payload", fmt.Sprintf("%x", payload), "error", err)
			return
		}
		if s.handler != nil {
			s.handler.HandleHeight(h)
		}
	case flh.SensitivityPayloadLen:
		level, err := flh.DecodeSensitivity(payload)
		if err != nil {
			slog.Warn("[DESK] dropping malformed sensitivity payload", "payload", fmt.Sprintf("%x", payload), "error", err)
			return
		}
		if s.handler != nil {
			s.handler.HandleSensitivity(level)
		}
	case flh.LimitsPayloadLen:
		lower, upper, err := flh.DecodeLimitsNotification(payload)
		if err != nil {
			slog.Warn("[DESK] dropping malformed limits payload", "payload", fmt.Sprintf("%x", payload), "error", err)
			return
		}
		if s.handler != nil {
			s.handler.HandleLimits(lower, upper)
		}
	default:
		slog.Warn("[DESK] dropping notification with unexpected length", "len", len(payload), "payload", fmt.Sprintf("%x", payload))
	}
}

// drainCommands discards queued commands after a link goes down. A stale
// movement command must never fire on a fresh link whose goal was already
// canceled.
func (s *Session) drainCommands() {
	for {
		select {
		case <-s.cmdCh:
		default:
			return
		}
	}
}

// sleep waits d or until ctx is canceled; it reports whether the full wait
// elapsed.
func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// backoffDelay returns the reconnection delay for attempt n: base doubling
// per attempt, capped at maxSeconds, jittered ±20% so clients sharing a
// desk do not retry in lockstep.
func backoffDelay(attempt int, base time.Duration, maxSeconds int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	delay := base * time.Duration(1<<uint(attempt))
	if limit := time.Duration(maxSeconds) * time.Second; delay > limit {
		delay = limit
	}
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(delay) * jitter)
}
