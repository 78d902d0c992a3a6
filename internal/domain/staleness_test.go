package domain

import (
	"reflect"
	"testing"
	"time"
)

func TestStalenessNeverCheckedIsFresh(t *testing.T) {
	tr := NewStalenessTracker(30*time.Second, 3)
	now := time.Now()

	if tr.IsStale("never", now.Add(24*time.Hour)) {
		t.Error("IsStale() = true for a site never successfully checked")
	}
	if tr.Observe("never", nil, now) {
		t.Error("Observe() with nil checkedAt should not count as an update")
	}
}

func TestStalenessTransitions(t *testing.T) {
	interval := 30 * time.Second
	tr := NewStalenessTracker(interval, 3)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if !tr.Observe("a", ptrTime(base), base) {
		t.Fatal("Observe() first check should reset")
	}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"just observed", base, false},
		{"at threshold", base.Add(3 * interval), false},
		{"past threshold", base.Add(3*interval + time.Millisecond), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tr.IsStale("a", tt.at); got != tt.want {
				t.Errorf("IsStale() = %v, want %v", got, tt.want)
			}
		})
	}

	later := base.Add(5 * interval)
	if tr.Observe("a", ptrTime(base), later) {
		t.Error("Observe() with the same checkedAt should not reset staleness")
	}
	if !tr.IsStale("a", later) {
		t.Error("site should still be stale after a repeated check timestamp")
	}

	if !tr.Observe("a", ptrTime(base.Add(4*interval)), later) {
		t.Fatal("Observe() with a newer check should reset")
	}
	if tr.IsStale("a", later) {
		t.Error("site should be fresh right after a new successful check")
	}
}

func TestStalenessIsPerSite(t *testing.T) {
	interval := time.Second
	tr := NewStalenessTracker(interval, 2)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tr.Observe("a", ptrTime(base), base)
	tr.Observe("b", ptrTime(base), base)

	later := base.Add(10 * time.Second)
	tr.Observe("b", ptrTime(later), later)

	if !tr.IsStale("a", later) {
		t.Error("site a should be stale: other sites' updates must not refresh it")
	}
	if tr.IsStale("b", later) {
		t.Error("site b should be fresh")
	}
}

func TestStalenessSweepReportsTransitionsOnce(t *testing.T) {
	tr := NewStalenessTracker(time.Second, 1)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tr.Observe("b", ptrTime(base), base)
	tr.Observe("a", ptrTime(base), base)
	tr.Observe("c", ptrTime(base.Add(5*time.Second)), base.Add(5*time.Second))

	at := base.Add(2 * time.Second)
	if got, want := tr.Sweep(at), []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Sweep() = %v, want %v", got, want)
	}
	if got := tr.Sweep(at.Add(time.Second)); len(got) != 0 {
		t.Errorf("second Sweep() = %v, want no new transitions", got)
	}

	tr.Observe("a", ptrTime(at), at)
	if got := tr.Sweep(at.Add(2 * time.Second)); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("Sweep() after refresh = %v, want [a]", got)
	}
}

func TestStalenessCountsFromCheckedAt(t *testing.T) {
	tr := NewStalenessTracker(30*time.Second, 3)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// The backend's own checker stopped two hours ago.
	if !tr.Observe("old", ptrTime(now.Add(-2*time.Hour)), now) {
		t.Fatal("Observe() first check should reset")
	}
	if !tr.IsStale("old", now) {
		t.Error("IsStale() = false for a check older than the window")
	}
	if got := tr.Sweep(now); !reflect.DeepEqual(got, []string{"old"}) {
		t.Errorf("Sweep() = %v, want [old]", got)
	}

	// A backend clock running ahead counts from the local observation.
	tr.Observe("ahead", ptrTime(now.Add(time.Hour)), now)
	if tr.IsStale("ahead", now.Add(90*time.Second)) {
		t.Error("IsStale() = true within the window of the local observation")
	}
	if !tr.IsStale("ahead", now.Add(91*time.Second)) {
		t.Error("IsStale() = false past the window of the local observation")
	}
}

func TestStalenessForget(t *testing.T) {
	tr := NewStalenessTracker(time.Second, 1)
	base := time.Now()
	tr.Observe("a", ptrTime(base), base)
	tr.Forget("a")

	if tr.IsStale("a", base.Add(time.Hour)) {
		t.Error("forgotten site should not be stale")
	}
}

func TestStalenessDefaults(t *testing.T) {
	tr := NewStalenessTracker(0, 0)
	if want := DefaultMissedIntervals * DefaultPollInterval; tr.Window() != want {
		t.Errorf("Window() = %v, want %v", tr.Window(), want)
	}
}
