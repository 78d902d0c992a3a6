package monitor

import (
	"fmt"
	"time"

	"github.com/MrSnakeDoc/sitewatch/internal/domain"
)

// SiteView is a record as the UI renders it.
type SiteView struct {
	domain.SiteRecord
	Display domain.DisplayStatus `json:"display_status"`
	Stale   bool                 `json:"stale"`
}

// FailureInfo backs the "last update failed at T" indicator.
type FailureInfo struct {
	At   time.Time        `json:"at"`
	Kind domain.ErrorKind `json:"kind"`
}

// View is the full UI state: the last good snapshot plus the failure indicator.
type View struct {
	Seq         uint64       `json:"seq"`
	Sites       []SiteView   `json:"sites"`
	LastUpdate  *time.Time   `json:"last_update"`
	LastFailure *FailureInfo `json:"last_failure,omitempty"`
	StaleAfter  string       `json:"stale_after"`
}

// Staleness answers getStaleness(id).
type Staleness struct {
	ID            string     `json:"id"`
	Stale         bool       `json:"stale"`
	LastCheckedAt *time.Time `json:"last_checked_at"`
	StaleAfter    string     `json:"stale_after"`
}

// StoreInfo summarises the snapshot store for operators.
type StoreInfo struct {
	Sites     int
	Seq       uint64
	LastMerge time.Time
}

// StoreInfo reports the snapshot store's size, sequence and last merge time.
func (m *Monitor) StoreInfo() StoreInfo {
	return StoreInfo{
		Sites:     m.store.Count(),
		Seq:       m.store.Seq(),
		LastMerge: m.store.LastMerge(),
	}
}

// View builds the current UI state. LastFailure is only set while the most
// recent tick failed.
func (m *Monitor) View() View {
	snap := m.store.Snapshot()
	now := m.now()

	v := View{
		Seq:        snap.Seq,
		Sites:      make([]SiteView, 0, len(snap.Sites)),
		StaleAfter: m.tracker.Window().String(),
	}
	for _, rec := range snap.Sites {
		v.Sites = append(v.Sites, m.view(rec, now))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.lastSuccess.IsZero() {
		t := m.lastSuccess
		v.LastUpdate = &t
	}
	if !m.lastFailure.IsZero() && m.lastFailure.After(m.lastSuccess) {
		v.LastFailure = &FailureInfo{At: m.lastFailure, Kind: m.lastKind}
	}
	return v
}

// Site returns the UI view of one site.
func (m *Monitor) Site(id string) (SiteView, error) {
	rec, ok := m.store.Get(id)
	if !ok {
		return SiteView{}, fmt.Errorf("site %q: %w", id, domain.ErrSiteNotFound)
	}
	return m.view(rec, m.now()), nil
}

// Staleness reports whether one site's data is stale.
func (m *Monitor) Staleness(id string) (Staleness, error) {
	rec, ok := m.store.Get(id)
	if !ok {
		return Staleness{}, fmt.Errorf("site %q: %w", id, domain.ErrSiteNotFound)
	}
	return Staleness{
		ID:            rec.ID,
		Stale:         m.tracker.IsStale(id, m.now()),
		LastCheckedAt: rec.CheckedAt,
		StaleAfter:    m.tracker.Window().String(),
	}, nil
}

func (m *Monitor) view(rec domain.SiteRecord, now time.Time) SiteView {
	return SiteView{
		SiteRecord: rec,
		Display:    m.classifier.Classify(rec),
		Stale:      m.tracker.IsStale(rec.ID, now),
	}
}
