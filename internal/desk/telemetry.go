package desk

import (
	"sync"
	"time"

	"github.com/OTZro/flh-desk/internal/flh"
)

// Snapshot is an immutable point-in-time view of desk telemetry. Observers
// always receive copies; no field is ever mutated in place after publish.
type Snapshot struct {
	Height      flh.Height // 0 until the first decoded height arrives
	Connection  ConnectionState
	Sensitivity flh.Sensitivity
	MinLimit    flh.Height // desk-reported travel limits, 0 until the init response
	MaxLimit    flh.Height
	Goal        GoalInfo
	LastUpdated time.Time
}

// TelemetryStore holds the last-known snapshot: the single read model the
// session and controller write and everything else reads. Reads never block
// on I/O, and a slow observer never blocks a writer.
type TelemetryStore struct {
	mu      sync.RWMutex
	snap    Snapshot
	subs    map[int]chan Snapshot
	nextSub int
}

// NewTelemetryStore creates an empty store.
func NewTelemetryStore() *TelemetryStore {
	return &TelemetryStore{subs: make(map[int]chan Snapshot)}
}

// Get returns a copy of the current snapshot.
func (t *TelemetryStore) Get() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

// Subscribe registers an observer. The returned channel carries snapshot
// updates conflated to the latest value: a slow reader sees the newest
// state rather than a backlog. The cancel function closes the channel and
// releases the subscription; calling it twice is safe.
func (t *TelemetryStore) Subscribe() (<-chan Snapshot, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	ch := make(chan Snapshot, 1)
	t.subs[id] = ch

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if sub, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// update applies fn to the snapshot and publishes the result to all
// subscribers. fn runs under the write lock and must not perform I/O.
func (t *TelemetryStore) update(fn func(*Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.snap)
	t.snap.LastUpdated = time.Now()
	for _, ch := range t.subs {
		select {
		case ch <- t.snap:
		default:
			// The subscriber has an unread snapshot pending; replace it
			// with the newer one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- t.snap:
			default:
			}
		}
	}
}

func (t *TelemetryStore) setConnection(state ConnectionState) {
	t.update(func(s *Snapshot) { s.Connection = state })
}

func (t *TelemetryStore) setHeight(h flh.Height) {
	t.update(func(s *Snapshot) { s.Height = h })
}

func (t *TelemetryStore) setSensitivity(level flh.Sensitivity) {
	t.update(func(s *Snapshot) { s.Sensitivity = level })
}

func (t *TelemetryStore) setLimits(lower, upper flh.Height) {
	t.update(func(s *Snapshot) {
		s.MinLimit = lower
		s.MaxLimit = upper
	})
}

func (t *TelemetryStore) setGoal(g GoalInfo) {
	t.update(func(s *Snapshot) { s.Goal = g })
}
