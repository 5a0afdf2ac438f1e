// Package schedule fires desk position changes on a clock: each entry pairs
// a cron expression or fixed interval with a target position, so a desk can
// alternate between sitting and standing heights through the day without
// anyone touching the handset.
package schedule

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Mover is the slice of the desk engine the runner drives.
type Mover interface {
	SetPosition(percent int) error
}

// Entry is one recurring position change.
type Entry struct {
	// Spec is a five-field cron expression ("0 9 * * 1-5"), a cron
	// descriptor ("@hourly"), or a Go duration ("45m").
	Spec string
	// Position is the target as a percentage of travel, 0 the bottom.
	Position int
}

// Runner owns a cron scheduler wired to a Mover. Entries are validated and
// registered at construction; a failed position change is logged and the
// schedule keeps running.
type Runner struct {
	cron  *cron.Cron
	mover Mover

	mu      sync.Mutex
	started bool
}

// NewRunner builds a runner for entries. Every entry is parsed up front so
// a bad schedule fails at startup, not at 9am.
func NewRunner(mover Mover, entries []Entry) (*Runner, error) {
	r := &Runner{cron: cron.New(), mover: mover}
	for _, e := range entries {
		if e.Position < 0 || e.Position > 100 {
			return nil, fmt.Errorf("schedule: position %d out of range [0, 100] for entry %q", e.Position, e.Spec)
		}
		sched, err := parseSpec(e.Spec)
		if err != nil {
			return nil, fmt.Errorf("schedule: invalid spec %q: %w", e.Spec, err)
		}
		spec, position := e.Spec, e.Position
		r.cron.Schedule(sched, cron.FuncJob(func() {
			if err := mover.SetPosition(position); err != nil {
				slog.Warn("[SCHED] scheduled move failed", "spec", spec, "position", position, "error", err)
				return
			}
			slog.Info("[SCHED] scheduled move", "spec", spec, "position", position)
		}))
	}
	return r, nil
}

// Start begins firing entries. Idempotent.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.cron.Start()
	r.started = true
}

// Stop halts the schedule and waits for a running job to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	<-r.cron.Stop().Done()
	r.started = false
}

// parseSpec accepts a cron expression first and falls back to a Go
// duration.
func parseSpec(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, fmt.Errorf("empty spec")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(spec); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(spec)
	if err != nil {
		return nil, fmt.Errorf("not a cron expression or duration")
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive")
	}
	return &constantDelay{delay: dur}, nil
}

// constantDelay implements cron.Schedule for a fixed interval. Unlike
// cron.Every it supports sub-second durations.
type constantDelay struct {
	delay time.Duration
}

func (d *constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}
