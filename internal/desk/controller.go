package desk

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/OTZro/flh-desk/internal/flh"
)

// ControllerOptions configures movement supervision.
type ControllerOptions struct {
	// Tolerance is how close telemetry must come to a target, in tenths of
	// a millimeter, for the goal to count as reached. The desk reports at
	// about 1Hz while moving 25-40mm between readings, so anything much
	// under 50 would overshoot every time.
	Tolerance flh.Height
	// Watchdog bounds a goal's lifetime. Full travel takes the hardware
	// around 20 seconds.
	Watchdog time.Duration
	// NativeTargeting delegates targeted moves to the desk firmware's
	// auto-move command instead of a supervised continuous move.
	// Completion is still judged from telemetry.
	NativeTargeting bool
}

// DefaultControllerOptions returns production defaults.
func DefaultControllerOptions() ControllerOptions {
	return ControllerOptions{
		Tolerance: 50,
		Watchdog:  30 * time.Second,
	}
}

// CommandSender is the slice of the session the controller needs: ordered
// delivery of command frames. Direct sensitivity commands and movement
// commands share the one queue so nothing interleaves on the wire.
// SendCommand must enqueue without blocking: the controller calls it with
// its goal lock held to keep wire order aligned with goal order.
type CommandSender interface {
	SendCommand(frame []byte) error
}

// Controller turns movement intents into wire commands and supervises goal
// completion from streamed height telemetry; the desk acknowledges nothing,
// so reaching a target can only be observed. At most one goal is active at
// a time: a new goal supersedes the previous one without error.
type Controller struct {
	sender CommandSender
	store  *TelemetryStore
	opts   ControllerOptions

	mu   sync.Mutex
	goal *activeGoal
}

// activeGoal is the in-flight movement being supervised.
type activeGoal struct {
	id          string
	kind        GoalKind
	dir         flh.Direction
	target      flh.Height
	native      bool
	watchdog    *time.Timer
	requestedAt time.Time
}

// NewController creates a controller that issues commands through sender
// and records outcomes in store.
func NewController(sender CommandSender, store *TelemetryStore, opts ControllerOptions) *Controller {
	if opts.Tolerance <= 0 {
		opts.Tolerance = 50
	}
	if opts.Watchdog <= 0 {
		opts.Watchdog = 30 * time.Second
	}
	return &Controller{sender: sender, store: store, opts: opts}
}

// Compile-time check that Controller implements TelemetryHandler.
var _ TelemetryHandler = (*Controller)(nil)

// Open raises the desk toward its upper travel limit. The goal completes
// when telemetry reaches the limit within tolerance, and fails if the
// watchdog fires first.
func (c *Controller) Open() error {
	frame, err := flh.EncodeMove(flh.Raise)
	if err != nil {
		return err
	}
	return c.startGoal(GoalRaise, flh.Raise, flh.MaxHeight, frame, false)
}

// Close lowers the desk toward its bottom travel limit. Close is the
// movement intent, not a resource release; Disconnect on the session is
// what tears the link down.
func (c *Controller) Close() error {
	frame, err := flh.EncodeMove(flh.Lower)
	if err != nil {
		return err
	}
	return c.startGoal(GoalLower, flh.Lower, flh.MinHeight, frame, false)
}

// Stop halts movement and clears any active goal as canceled. Idempotent:
// stopping with nothing in flight still sends the stop frame (the desk may
// be moving on its own, e.g. after a memory recall) and is not an error.
// While disconnected it only clears local goal state.
func (c *Controller) Stop() error {
	c.mu.Lock()
	frame, _ := flh.EncodeMove(flh.Stop)
	if c.goal != nil && c.goal.native {
		frame = flh.EncodeAutoStop()
	}
	c.cancelGoalLocked("stopped")
	err := c.sender.SendCommand(frame)
	c.mu.Unlock()

	if err != nil {
		if errors.Is(err, ErrNotConnected) || errors.Is(err, ErrUnavailable) {
			return nil
		}
		return err
	}
	return nil
}

// GoTo moves the desk to target and supervises completion from telemetry.
// If the desk is already within tolerance the goal completes immediately;
// nothing is sent unless a superseded goal still has the desk moving, in
// which case the motor is stopped first. A direction is chosen from the
// sign of (target - current), which requires at least one height reading.
func (c *Controller) GoTo(target flh.Height) error {
	if !target.Valid() {
		return fmt.Errorf("%w: height %d out of range [%d, %d]", flh.ErrInvalidArgument, int(target), int(flh.MinHeight), int(flh.MaxHeight))
	}

	snap := c.store.Get()
	if snap.Height == 0 {
		return ErrHeightUnknown
	}

	delta := target - snap.Height
	if abs(delta) <= c.opts.Tolerance {
		c.mu.Lock()
		if g := c.goal; g != nil {
			// The superseded goal's last command has the desk in motion;
			// completing without a stop would leave it running.
			frame, _ := flh.EncodeMove(flh.Stop)
			if g.native {
				frame = flh.EncodeAutoStop()
			}
			c.cancelGoalLocked("superseded")
			if err := c.sender.SendCommand(frame); err != nil && !errors.Is(err, ErrNotConnected) && !errors.Is(err, ErrUnavailable) {
				slog.Error("[DESK] stop for superseded goal failed", "error", err)
			}
		}
		c.store.setGoal(GoalInfo{
			ID:          ulid.Make().String(),
			Kind:        GoalGoTo,
			Target:      target,
			Status:      GoalCompleted,
			RequestedAt: time.Now(),
		})
		c.mu.Unlock()
		return nil
	}

	dir := flh.Raise
	if delta < 0 {
		dir = flh.Lower
	}

	if c.opts.NativeTargeting {
		frame, err := flh.EncodeAutoMove(target, snap.Sensitivity)
		if err != nil {
			return err
		}
		return c.startGoal(GoalGoTo, dir, target, frame, true)
	}

	frame, err := flh.EncodeMove(dir)
	if err != nil {
		return err
	}
	return c.startGoal(GoalGoTo, dir, target, frame, false)
}

// SetPosition moves the desk to a percentage of its travel range, 0 being
// the bottom.
func (c *Controller) SetPosition(percent int) error {
	target, err := flh.HeightForPosition(percent)
	if err != nil {
		return err
	}
	return c.GoTo(target)
}

// SetSensitivity applies a movement-speed level. One-shot, not a goal, and
// valid regardless of movement state. The desk echoes the applied level on
// the telemetry characteristic, which is what updates the snapshot.
func (c *Controller) SetSensitivity(level flh.Sensitivity) error {
	frame, err := flh.EncodeSensitivity(level)
	if err != nil {
		return err
	}
	return c.sender.SendCommand(frame)
}

// RecallMemory drives the desk to handset preset slot. The movement is
// firmware-driven and not goal-tracked; Stop still halts it.
func (c *Controller) RecallMemory(slot flh.MemorySlot) error {
	frame, err := flh.EncodeMemoryRecall(slot)
	if err != nil {
		return err
	}
	return c.sender.SendCommand(frame)
}

// SaveMemory stores the desk's current height in handset preset slot.
func (c *Controller) SaveMemory(slot flh.MemorySlot) error {
	frame, err := flh.EncodeMemorySave(slot)
	if err != nil {
		return err
	}
	return c.sender.SendCommand(frame)
}

// startGoal supersedes any active goal, arms the watchdog, publishes the
// new goal, and sends its first command frame.
func (c *Controller) startGoal(kind GoalKind, dir flh.Direction, target flh.Height, frame []byte, native bool) error {
	g := &activeGoal{
		id:          ulid.Make().String(),
		kind:        kind,
		dir:         dir,
		target:      target,
		native:      native,
		requestedAt: time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelGoalLocked("superseded")
	c.goal = g
	g.watchdog = time.AfterFunc(c.opts.Watchdog, func() { c.expireGoal(g.id) })
	c.store.setGoal(GoalInfo{
		ID:          g.id,
		Kind:        kind,
		Target:      target,
		Status:      GoalActive,
		RequestedAt: g.requestedAt,
	})

	// Sent while still holding the lock: a concurrent completion, stop, or
	// supersession either fully precedes this frame or fully follows it.
	if err := c.sender.SendCommand(frame); err != nil {
		g.watchdog.Stop()
		c.goal = nil
		c.store.setGoal(GoalInfo{
			ID:          g.id,
			Kind:        kind,
			Target:      target,
			Status:      GoalFailed,
			Reason:      err.Error(),
			RequestedAt: g.requestedAt,
		})
		return err
	}

	slog.Info("[DESK] movement goal started", "goal", g.id, "kind", kind.String(), "target", target.String())
	return nil
}

// cancelGoalLocked clears the active goal as canceled and disarms its
// watchdog. Caller holds c.mu. No-op without an active goal.
func (c *Controller) cancelGoalLocked(reason string) {
	g := c.goal
	if g == nil {
		return
	}
	g.watchdog.Stop()
	c.goal = nil
	c.store.setGoal(GoalInfo{
		ID:          g.id,
		Kind:        g.kind,
		Target:      g.target,
		Status:      GoalCanceled,
		Reason:      reason,
		RequestedAt: g.requestedAt,
	})
	slog.Info("[DESK] movement goal canceled", "goal", g.id, "reason", reason)
}

// expireGoal fires on watchdog expiry. The id guard makes a stale timer
// whose goal was superseded or finished a no-op.
func (c *Controller) expireGoal(id string) {
	c.mu.Lock()
	g := c.goal
	if g == nil || g.id != id {
		c.mu.Unlock()
		return
	}
	c.goal = nil
	c.store.setGoal(GoalInfo{
		ID:          g.id,
		Kind:        g.kind,
		Target:      g.target,
		Status:      GoalFailed,
		Reason:      ErrMovementTimeout.Error(),
		RequestedAt: g.requestedAt,
	})
	frame, _ := flh.EncodeMove(flh.Stop)
	if g.native {
		frame = flh.EncodeAutoStop()
	}
	err := c.sender.SendCommand(frame)
	c.mu.Unlock()

	slog.Warn("[DESK] movement watchdog expired", "goal", id, "target", g.target.String())
	if err != nil && !errors.Is(err, ErrNotConnected) && !errors.Is(err, ErrUnavailable) {
		slog.Error("[DESK] stop after watchdog expiry failed", "goal", id, "error", err)
	}
}

// HandleHeight records a decoded height and evaluates the active goal.
func (c *Controller) HandleHeight(h flh.Height) {
	c.store.setHeight(h)

	c.mu.Lock()
	g := c.goal
	if g == nil || !goalReached(g.dir, h, g.target, c.opts.Tolerance) {
		c.mu.Unlock()
		return
	}
	g.watchdog.Stop()
	c.goal = nil
	c.store.setGoal(GoalInfo{
		ID:          g.id,
		Kind:        g.kind,
		Target:      g.target,
		Status:      GoalCompleted,
		RequestedAt: g.requestedAt,
	})

	// The firmware stops itself on a native targeted move; a continuous
	// move runs until told otherwise. The stop goes out under the lock so
	// it cannot land behind a superseding goal's first frame.
	var sendErr error
	if !g.native {
		frame, _ := flh.EncodeMove(flh.Stop)
		sendErr = c.sender.SendCommand(frame)
	}
	c.mu.Unlock()

	slog.Info("[DESK] movement goal completed", "goal", g.id, "height", h.String())
	if sendErr != nil && !errors.Is(sendErr, ErrNotConnected) && !errors.Is(sendErr, ErrUnavailable) {
		slog.Error("[DESK] stop at goal completion failed", "goal", g.id, "error", sendErr)
	}
}

// HandleSensitivity records the desk's echo of an applied level.
func (c *Controller) HandleSensitivity(level flh.Sensitivity) {
	c.store.setSensitivity(level)
}

// HandleLimits records the desk-reported travel limits from the init
// response. The protocol constants stay authoritative for validation.
func (c *Controller) HandleLimits(lower, upper flh.Height) {
	c.store.setLimits(lower, upper)
}

// HandleDisconnected cancels the active goal. A goal never survives a link
// drop; movement is not silently resumed after reconnecting.
func (c *Controller) HandleDisconnected() {
	c.mu.Lock()
	c.cancelGoalLocked("link lost")
	c.mu.Unlock()
}

// goalReached reports whether height h satisfies a goal moving in dir
// toward target: the reading crossed the target, or landed within
// tolerance of it. Readings merely closer than before do not count; noisy
// telemetry must not stop a move early.
func goalReached(dir flh.Direction, h, target, tolerance flh.Height) bool {
	switch dir {
	case flh.Raise:
		return h >= target-tolerance
	case flh.Lower:
		return h <= target+tolerance
	default:
		return false
	}
}

func abs(h flh.Height) flh.Height {
	if h < 0 {
		return -h
	}
	return h
}
