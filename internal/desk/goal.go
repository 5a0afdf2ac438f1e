package desk

import (
	"fmt"
	"time"

	"github.com/OTZro/flh-desk/internal/flh"
)

// GoalKind identifies what a movement goal is trying to do.
type GoalKind int

const (
	GoalRaise GoalKind = iota + 1 // continuous raise toward the upper limit
	GoalLower                     // continuous lower toward the lower limit
	GoalGoTo                      // targeted move supervised from telemetry
)

func (k GoalKind) String() string {
	switch k {
	case GoalRaise:
		return "raise"
	case GoalLower:
		return "lower"
	case GoalGoTo:
		return "goto"
	default:
		return fmt.Sprintf("goal(%d)", int(k))
	}
}

// GoalStatus is the lifecycle state of a movement goal.
type GoalStatus int

const (
	GoalNone      GoalStatus = iota // no goal has been issued yet
	GoalActive                      // movement in flight
	GoalCompleted                   // target reached within tolerance
	GoalCanceled                    // stopped, superseded, or link lost
	GoalFailed                      // watchdog expiry or send failure
)

func (s GoalStatus) String() string {
	switch s {
	case GoalNone:
		return "none"
	case GoalActive:
		return "active"
	case GoalCompleted:
		return "completed"
	case GoalCanceled:
		return "canceled"
	case GoalFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// GoalInfo is the observer-visible record of the current or most recent
// movement goal. It rides in the telemetry snapshot.
type GoalInfo struct {
	ID          string // ULID, unique per goal
	Kind        GoalKind
	Target      flh.Height
	Status      GoalStatus
	Reason      string // why the goal ended, for Canceled and Failed
	RequestedAt time.Time
}
