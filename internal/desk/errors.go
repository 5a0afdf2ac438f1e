package desk

import "errors"

// Sentinel errors for the engine. Transport and payload faults are handled
// inside the session's loop and drive reconnection or per-message drops;
// these cover what callers and observers can see. Match with errors.Is.
var (
	// ErrNotConnected reports a command attempted outside the Connected
	// state. The caller should await connection rather than expect the
	// session to buffer indefinitely.
	ErrNotConnected = errors.New("desk: not connected")

	// ErrConnectFailed classifies a single failed connection attempt. The
	// session's backoff loop keeps retrying it up to the attempt budget.
	ErrConnectFailed = errors.New("desk: connect failed")

	// ErrUnavailable means the reconnect attempt budget is exhausted. The
	// same condition is visible to observers as StateUnavailable.
	ErrUnavailable = errors.New("desk: unavailable")

	// ErrMovementTimeout marks a goal abandoned by the watchdog.
	ErrMovementTimeout = errors.New("desk: movement watchdog expired")

	// ErrHeightUnknown reports a targeted move requested before any height
	// telemetry has arrived; without a current height there is no way to
	// choose a direction.
	ErrHeightUnknown = errors.New("desk: current height unknown")

	// ErrCommandQueueFull reports a saturated outbound queue.
	ErrCommandQueueFull = errors.New("desk: command queue full")
)
