package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrSnakeDoc/sitewatch/internal/domain"
	"github.com/MrSnakeDoc/sitewatch/internal/index"
	"github.com/MrSnakeDoc/sitewatch/internal/logger"
)

// trackerSweeper exposes a bare StalenessTracker as a Sweeper
type trackerSweeper struct {
	mu      sync.Mutex
	tracker *domain.StalenessTracker
	calls   int
}

func (ts *trackerSweeper) SweepStale(now time.Time) []string {
	ts.mu.Lock()
	ts.calls++
	ts.mu.Unlock()
	return ts.tracker.Sweep(now)
}

func (ts *trackerSweeper) callCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.calls
}

func TestStalenessSweeper_Sweep(t *testing.T) {
	log := logger.New("error", false)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tracker := domain.NewStalenessTracker(10*time.Second, 3)
	tracker.Observe("old", &base, base)
	recent := base.Add(25 * time.Second)
	tracker.Observe("recent", &recent, recent)

	ss := NewStalenessSweeper(&trackerSweeper{tracker: tracker}, log, time.Hour)
	ss.now = func() time.Time { return base.Add(31 * time.Second) }

	stale := ss.Sweep()
	if len(stale) != 1 || stale[0] != "old" {
		t.Errorf("Sweep() = %v, want [old]", stale)
	}
	if again := ss.Sweep(); len(again) != 0 {
		t.Errorf("second Sweep() = %v, want nothing new", again)
	}
}

func TestStalenessSweeper_RunsPeriodically(t *testing.T) {
	ts := &trackerSweeper{tracker: domain.NewStalenessTracker(time.Second, 1)}
	ss := NewStalenessSweeper(ts, logger.New("error", false), 5*time.Millisecond)

	if err := ss.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer ss.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for ts.callCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeper ran %d times, want at least 3", ts.callCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStalenessSweeper_StopTwice(t *testing.T) {
	ts := &trackerSweeper{tracker: domain.NewStalenessTracker(time.Second, 1)}
	ss := NewStalenessSweeper(ts, logger.New("error", false), time.Hour)
	if err := ss.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	ss.Stop()
	ss.Stop()
}

type fakeSource struct {
	state domain.MirrorState
	err   error
}

func (f fakeSource) Load(ctx context.Context) (domain.MirrorState, error) {
	return f.state, f.err
}

func TestRedisSyncer_Sync(t *testing.T) {
	log := logger.New("error", false)

	store := index.NewSnapshotStore()
	rs := NewRedisSyncer(fakeSource{state: domain.MirrorState{
		Seq: 12,
		Sites: []domain.SiteRecord{
			{ID: "a", URL: "https://a.example.com", Status: domain.StatusUp},
			{ID: "b", URL: "https://b.example.com", Status: domain.StatusDown},
			{ID: "c", URL: "https://c.example.com", Status: domain.StatusUp},
		},
		Removed: []string{"c"},
	}}, store, log)

	n, err := rs.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if n != 2 || store.Count() != 2 {
		t.Errorf("Sync() restored %d, store has %d; want 2", n, store.Count())
	}
	if store.Seq() != 12 {
		t.Errorf("Seq() after Sync() = %d, want the mirrored 12", store.Seq())
	}

	empty := NewRedisSyncer(fakeSource{}, index.NewSnapshotStore(), log)
	if n, err := empty.Sync(context.Background()); err != nil || n != 0 {
		t.Errorf("Sync() on empty mirror = %d, %v", n, err)
	}

	boom := errors.New("connection refused")
	failing := NewRedisSyncer(fakeSource{err: boom}, index.NewSnapshotStore(), log)
	if _, err := failing.Sync(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Sync() error = %v, want wrapped source error", err)
	}
}
