package desk

import (
	"testing"
	"time"
)

func TestTelemetryStoreStartsEmpty(t *testing.T) {
	store := NewTelemetryStore()

	snap := store.Get()
	if snap.Height != 0 {
		t.Errorf("initial height = %d, want 0", snap.Height)
	}
	if snap.Connection != StateDisconnected {
		t.Errorf("initial connection = %v, want %v", snap.Connection, StateDisconnected)
	}
	if snap.Goal.Status != GoalNone {
		t.Errorf("initial goal status = %v, want %v", snap.Goal.Status, GoalNone)
	}
	if !snap.LastUpdated.IsZero() {
		t.Errorf("initial LastUpdated = %v, want zero", snap.LastUpdated)
	}
}

func TestTelemetryStoreGetReflectsUpdates(t *testing.T) {
	store := NewTelemetryStore()

	store.setHeight(9520)
	store.setSensitivity(3)
	store.setLimits(7200, 12200)

	snap := store.Get()
	if snap.Height != 9520 {
		t.Errorf("height = %d, want 9520", snap.Height)
	}
	if snap.Sensitivity != 3 {
		t.Errorf("sensitivity = %d, want 3", snap.Sensitivity)
	}
	if snap.MinLimit != 7200 || snap.MaxLimit != 12200 {
		t.Errorf("limits = (%d, %d), want (7200, 12200)", snap.MinLimit, snap.MaxLimit)
	}
	if snap.LastUpdated.IsZero() {
		t.Error("LastUpdated still zero after updates")
	}
}

func TestTelemetryStoreSubscribeDelivers(t *testing.T) {
	store := NewTelemetryStore()
	ch, cancel := store.Subscribe()
	defer cancel()

	store.setHeight(9000)

	select {
	case snap := <-ch:
		if snap.Height != 9000 {
			t.Errorf("delivered height = %d, want 9000", snap.Height)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestTelemetryStoreSubscribeConflates(t *testing.T) {
	store := NewTelemetryStore()
	ch, cancel := store.Subscribe()
	defer cancel()

	// Three updates land before the subscriber reads; only the newest
	// survives.
	store.setHeight(9000)
	store.setHeight(9100)
	store.setHeight(9200)

	select {
	case snap := <-ch:
		if snap.Height != 9200 {
			t.Errorf("delivered height = %d, want 9200 (latest)", snap.Height)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}

	select {
	case snap := <-ch:
		t.Errorf("unexpected second snapshot with height %d", snap.Height)
	default:
	}
}

func TestTelemetryStoreCancelClosesChannel(t *testing.T) {
	store := NewTelemetryStore()
	ch, cancel := store.Subscribe()

	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}
	cancel() // repeat must not panic

	store.setHeight(9000) // publish after cancel must not panic either
}

func TestTelemetryStoreMultipleSubscribers(t *testing.T) {
	store := NewTelemetryStore()
	first, cancelFirst := store.Subscribe()
	defer cancelFirst()
	second, cancelSecond := store.Subscribe()
	defer cancelSecond()

	store.setHeight(8800)

	for i, ch := range []<-chan Snapshot{first, second} {
		select {
		case snap := <-ch:
			if snap.Height != 8800 {
				t.Errorf("subscriber %d height = %d, want 8800", i, snap.Height)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got no snapshot", i)
		}
	}
}
