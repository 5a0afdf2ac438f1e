package schedule

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeMover struct {
	mu        sync.Mutex
	positions []int
	err       error
}

func (m *fakeMover) SetPosition(percent int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.positions = append(m.positions, percent)
	return nil
}

func (m *fakeMover) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

func (m *fakeMover) last() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.positions) == 0 {
		return -1
	}
	return m.positions[len(m.positions)-1]
}

func TestRunnerFiresEntry(t *testing.T) {
	mover := &fakeMover{}
	r, err := NewRunner(mover, []Entry{{Spec: "25ms", Position: 40}})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}

	r.Start()
	time.Sleep(150 * time.Millisecond)
	r.Stop()

	if c := mover.count(); c < 1 {
		t.Fatalf("entry fired %d times, want at least 1", c)
	}
	if got := mover.last(); got != 40 {
		t.Errorf("moved to position %d, want 40", got)
	}
}

func TestRunnerStopHaltsFiring(t *testing.T) {
	mover := &fakeMover{}
	r, err := NewRunner(mover, []Entry{{Spec: "20ms", Position: 80}})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}

	r.Start()
	time.Sleep(80 * time.Millisecond)
	r.Stop()

	fired := mover.count()
	time.Sleep(80 * time.Millisecond)
	if c := mover.count(); c != fired {
		t.Errorf("entries fired after Stop: %d then %d", fired, c)
	}
}

func TestRunnerKeepsRunningAfterMoveFailure(t *testing.T) {
	mover := &fakeMover{err: errors.New("not connected")}
	r, err := NewRunner(mover, []Entry{{Spec: "20ms", Position: 50}})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}

	r.Start()
	time.Sleep(100 * time.Millisecond)
	r.Stop()
	// Nothing recorded because every move failed, and nothing panicked or
	// stopped the cron loop. The real assertion is that Stop is reachable.
}

func TestRunnerAcceptsCronExpressions(t *testing.T) {
	for _, spec := range []string{"0 9 * * 1-5", "*/5 * * * *", "@hourly", "45m"} {
		if _, err := NewRunner(&fakeMover{}, []Entry{{Spec: spec, Position: 50}}); err != nil {
			t.Errorf("NewRunner(%q) error = %v", spec, err)
		}
	}
}

func TestRunnerRejectsInvalidSpec(t *testing.T) {
	for _, spec := range []string{"", "not-a-spec", "-5m", "0 0 0 0 0 0 0"} {
		if _, err := NewRunner(&fakeMover{}, []Entry{{Spec: spec, Position: 50}}); err == nil {
			t.Errorf("NewRunner(%q) error = nil, want parse failure", spec)
		}
	}
}

func TestRunnerRejectsInvalidPosition(t *testing.T) {
	for _, position := range []int{-1, 101} {
		if _, err := NewRunner(&fakeMover{}, []Entry{{Spec: "30m", Position: position}}); err == nil {
			t.Errorf("NewRunner(position=%d) error = nil, want range failure", position)
		}
	}
}
