package domain

import (
	"sort"
	"sync"
	"time"
)

const (
	// DefaultMissedIntervals is how many poll intervals may pass without a new
	// successful check before a site is flagged stale.
	DefaultMissedIntervals = 3
	// DefaultPollInterval mirrors the dashboard's 30s refresh.
	DefaultPollInterval = 30 * time.Second
)

// StalenessTracker flags sites whose data has not been refreshed by a new
// successful check within MissedIntervals * Interval.
//
// Age is measured from the backend's checked_at. A checked_at ahead of the
// local clock counts from when it was observed instead.
//
// Sites that were never successfully checked are FRESH: staleness only applies
// once at least one success has been observed.
type StalenessTracker struct {
	mu     sync.Mutex
	window time.Duration
	sites  map[string]*freshness
}

type freshness struct {
	checkedAt  time.Time // backend timestamp of the last successful check seen
	observedAt time.Time // local time that check was observed
	stale      bool      // last state reported by Sweep
}

// since is the instant the site's age is counted from.
func (f *freshness) since() time.Time {
	if f.checkedAt.After(f.observedAt) {
		return f.observedAt
	}
	return f.checkedAt
}

// NewStalenessTracker creates a tracker; non-positive arguments select defaults.
func NewStalenessTracker(interval time.Duration, missedIntervals int) *StalenessTracker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if missedIntervals <= 0 {
		missedIntervals = DefaultMissedIntervals
	}
	return &StalenessTracker{
		window: time.Duration(missedIntervals) * interval,
		sites:  make(map[string]*freshness),
	}
}

// Window returns the staleness window.
func (t *StalenessTracker) Window() time.Duration { return t.window }

// Observe records a successful check for one site. It resets the site to
// FRESH only when checkedAt is newer than the last check seen, and reports
// whether it did.
func (t *StalenessTracker) Observe(id string, checkedAt *time.Time, now time.Time) bool {
	if checkedAt == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.sites[id]
	if ok && !checkedAt.After(st.checkedAt) {
		return false
	}
	if !ok {
		st = &freshness{}
		t.sites[id] = st
	}
	st.checkedAt = *checkedAt
	st.observedAt = now
	st.stale = false
	return true
}

// IsStale reports whether the site is STALE at now.
func (t *StalenessTracker) IsStale(id string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.sites[id]
	if !ok {
		return false
	}
	return now.Sub(st.since()) > t.window
}

// Sweep returns the sites that turned STALE since the previous sweep, sorted by id.
func (t *StalenessTracker) Sweep(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var turned []string
	for id, st := range t.sites {
		if st.stale || now.Sub(st.since()) <= t.window {
			continue
		}
		st.stale = true
		turned = append(turned, id)
	}
	sort.Strings(turned)
	return turned
}

// Forget drops all state for a site (used on unregistration).
func (t *StalenessTracker) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.sites, id)
}
