package index

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrSnakeDoc/sitewatch/internal/domain"
)

// SnapshotStore holds the canonical set of site records.
// It is the only component allowed to mutate them; readers always get copies.
type SnapshotStore struct {
	mu         sync.RWMutex
	order      []string                      // registration order
	sites      map[string]*domain.SiteRecord // ID -> record
	discovered map[string]struct{}           // added by Merge, not registered yet
	removed    map[string]struct{}           // unregistered; Merge ignores them
	seq        uint64                        // incremented on every successful merge
	lastMerge  time.Time
	now        func() time.Time
}

// NewSnapshotStore creates an empty store
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		sites:      make(map[string]*domain.SiteRecord),
		discovered: make(map[string]struct{}),
		removed:    make(map[string]struct{}),
		now:        time.Now,
	}
}

// Register adds a new site in UNKNOWN status with no check timestamp.
// A site a poll already reported is claimed as is; registering it a second
// time fails with ErrSiteExists. Registering clears a previous unregistration.
func (s *SnapshotStore) Register(id, url string) (domain.SiteRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.SiteRecord{}, fmt.Errorf("register: empty id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.removed, id)
	if cur, ok := s.sites[id]; ok {
		if _, found := s.discovered[id]; !found {
			return domain.SiteRecord{}, fmt.Errorf("register %q: %w", id, domain.ErrSiteExists)
		}
		delete(s.discovered, id)
		if cur.URL == "" {
			cur.URL = url
		}
		return cur.Clone(), nil
	}

	now := s.now()
	rec := &domain.SiteRecord{
		ID:           id,
		URL:          url,
		Status:       domain.StatusUnknown,
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	s.sites[id] = rec
	s.order = append(s.order, id)
	return rec.Clone(), nil
}

// Unregister removes a site. This is the only way a record leaves the store.
// Later payloads that still carry the id are ignored until it is registered again.
func (s *SnapshotStore) Unregister(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sites[id]; !ok {
		return fmt.Errorf("unregister %q: %w", id, domain.ErrSiteNotFound)
	}
	delete(s.sites, id)
	delete(s.discovered, id)
	s.removed[id] = struct{}{}
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Merge applies a (possibly partial) payload.
//
// The whole payload is validated before anything is written: on error the
// store is left exactly as it was. Sites absent from the payload are never
// touched, ids the store has not seen yet are appended in payload order, and
// unregistered ids are skipped.
func (s *SnapshotStore) Merge(updates []domain.SiteUpdate, at time.Time) (domain.Snapshot, error) {
	if err := domain.Validate(updates); err != nil {
		return domain.Snapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range updates {
		if _, gone := s.removed[u.ID]; gone {
			continue
		}
		rec, ok := s.sites[u.ID]
		if !ok {
			rec = &domain.SiteRecord{
				ID:           u.ID,
				Status:       domain.StatusUnknown,
				RegisteredAt: at,
			}
			s.sites[u.ID] = rec
			s.discovered[u.ID] = struct{}{}
			s.order = append(s.order, u.ID)
		}
		apply(rec, u, at)
	}

	s.seq++
	s.lastMerge = at
	return s.snapshotLocked(at), nil
}

// apply overwrites the mutable fields present in u. Validate has already run,
// so status parsing cannot fail here.
func apply(rec *domain.SiteRecord, u domain.SiteUpdate, at time.Time) {
	newCheck := isNewCheck(rec, u)

	if u.URL != nil && rec.URL == "" {
		rec.URL = *u.URL
	}
	if u.Status != nil {
		st, _ := domain.ParseStatus(*u.Status)
		rec.Status = st
	}
	if u.ResponseTimeMS != nil {
		v := *u.ResponseTimeMS
		rec.ResponseTimeMS = &v
	}
	if u.StatusCode != nil {
		v := *u.StatusCode
		rec.StatusCode = &v
	}
	if u.CheckedAt != nil {
		v := *u.CheckedAt
		rec.CheckedAt = &v
	}

	if newCheck {
		if isDown(rec) {
			rec.ConsecutiveFailures++
		} else {
			rec.ConsecutiveFailures = 0
		}
	}
	rec.UpdatedAt = at
}

// isNewCheck reports whether u carries an observation the store has not seen.
// Without a timestamp, any status field counts as a fresh observation.
func isNewCheck(rec *domain.SiteRecord, u domain.SiteUpdate) bool {
	if u.CheckedAt != nil {
		return rec.CheckedAt == nil || u.CheckedAt.After(*rec.CheckedAt)
	}
	return u.Status != nil || u.StatusCode != nil
}

func isDown(rec *domain.SiteRecord) bool {
	if rec.StatusCode != nil {
		return *rec.StatusCode < 200 || *rec.StatusCode > 399
	}
	return rec.Status == domain.StatusDown
}

// Get returns a copy of one record
func (s *SnapshotStore) Get(id string) (domain.SiteRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sites[id]
	if !ok {
		return domain.SiteRecord{}, false
	}
	return rec.Clone(), true
}

// All returns copies of every record in registration order
func (s *SnapshotStore) All() []domain.SiteRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.allLocked()
}

func (s *SnapshotStore) allLocked() []domain.SiteRecord {
	out := make([]domain.SiteRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.sites[id].Clone())
	}
	return out
}

// Snapshot returns the current records with the merge sequence number
func (s *SnapshotStore) Snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshotLocked(s.now())
}

func (s *SnapshotStore) snapshotLocked(at time.Time) domain.Snapshot {
	return domain.Snapshot{
		Seq:     s.seq,
		Sites:   s.allLocked(),
		TakenAt: at,
	}
}

// Restore bulk-loads the persistence mirror, keeping record order.
// Sites already present keep their identity; they only take the restored
// observation if they were never checked. The merge sequence never moves
// backwards. It returns how many records changed.
func (s *SnapshotStore) Restore(state domain.MirrorState) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range state.Removed {
		if _, ok := s.sites[id]; !ok {
			s.removed[id] = struct{}{}
		}
	}
	if state.Seq > s.seq {
		s.seq = state.Seq
	}
	if state.TakenAt.After(s.lastMerge) {
		s.lastMerge = state.TakenAt
	}

	n := 0
	for _, r := range state.Sites {
		if r.ID == "" {
			continue
		}
		if _, gone := s.removed[r.ID]; gone {
			continue
		}
		cur, ok := s.sites[r.ID]
		if !ok {
			rec := r.Clone()
			if rec.Status == "" {
				rec.Status = domain.StatusUnknown
			}
			s.sites[r.ID] = &rec
			s.order = append(s.order, r.ID)
			n++
			continue
		}
		if cur.CheckedAt != nil || r.CheckedAt == nil {
			continue
		}
		restored := r.Clone()
		cur.Status = restored.Status
		cur.ResponseTimeMS = restored.ResponseTimeMS
		cur.StatusCode = restored.StatusCode
		cur.CheckedAt = restored.CheckedAt
		cur.ConsecutiveFailures = restored.ConsecutiveFailures
		cur.UpdatedAt = restored.UpdatedAt
		n++
	}
	return n
}

// Count returns the number of registered sites
func (s *SnapshotStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.sites)
}

// Seq returns the current merge sequence number
func (s *SnapshotStore) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.seq
}

// LastMerge returns the time of the last successful merge
func (s *SnapshotStore) LastMerge() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastMerge
}
