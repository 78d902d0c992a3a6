package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrSnakeDoc/sitewatch/internal/domain"
	"github.com/MrSnakeDoc/sitewatch/internal/index"
	"github.com/MrSnakeDoc/sitewatch/internal/logger"
)

// DefaultMirrorTimeout bounds each best-effort write to the mirror.
const DefaultMirrorTimeout = 2 * time.Second

// ErrInvalidURL is returned by Register for addresses that cannot be monitored.
var ErrInvalidURL = errors.New("url must be an absolute http(s) address")

// Registrar creates sites on the monitoring backend.
type Registrar interface {
	RegisterSite(ctx context.Context, rawURL string) (domain.SiteUpdate, error)
}

// Mirror persists records outside the process (Redis). Optional.
type Mirror interface {
	SaveSnapshot(ctx context.Context, snap domain.Snapshot) error
	SaveSite(ctx context.Context, site domain.SiteRecord) error
	DeleteSite(ctx context.Context, id string) error
}

// Monitor wires a poll result through the snapshot store, the staleness
// tracker and the classifier, and notifies listeners.
type Monitor struct {
	store         *index.SnapshotStore
	tracker       *domain.StalenessTracker
	classifier    domain.Classifier
	backend       Registrar
	mirror        Mirror
	logger        logger.Logger
	mirrorTimeout time.Duration
	now           func() time.Time

	mu          sync.RWMutex
	ready       bool
	lastSuccess time.Time
	lastFailure time.Time
	lastKind    domain.ErrorKind
	onUpdate    []func(domain.Snapshot)
	onError     []func(*domain.FetchError)
	onStale     []func([]string)
}

// New creates a monitor. mirror may be nil.
func New(
	store *index.SnapshotStore,
	tracker *domain.StalenessTracker,
	classifier domain.Classifier,
	backend Registrar,
	mirror Mirror,
	log logger.Logger,
) *Monitor {
	return &Monitor{
		store:         store,
		tracker:       tracker,
		classifier:    classifier,
		backend:       backend,
		mirror:        mirror,
		logger:        log,
		mirrorTimeout: DefaultMirrorTimeout,
		now:           time.Now,
	}
}

// OnUpdate registers fn to run after every successful merge.
func (m *Monitor) OnUpdate(fn func(domain.Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = append(m.onUpdate, fn)
}

// OnError registers fn to run after every failed tick.
func (m *Monitor) OnError(fn func(*domain.FetchError)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onError = append(m.onError, fn)
}

// OnStale registers fn to run when sites turn stale.
func (m *Monitor) OnStale(fn func(ids []string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStale = append(m.onStale, fn)
}

// HandleResult applies one poll outcome. A payload rejected by validation
// is reported like any other failure and leaves the store untouched.
func (m *Monitor) HandleResult(res domain.PollResult) error {
	if !res.OK() {
		m.fail(res.Err, res.At)
		return nil
	}

	snap, err := m.store.Merge(res.Updates, res.At)
	if err != nil {
		fe := domain.AsFetchError(err)
		m.fail(fe, res.At)
		return fe
	}

	for _, u := range res.Updates {
		m.tracker.Observe(u.ID, u.CheckedAt, res.At)
	}

	m.mu.Lock()
	m.ready = true
	m.lastSuccess = res.At
	listeners := append([]func(domain.Snapshot){}, m.onUpdate...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}

	if m.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.mirrorTimeout)
		defer cancel()
		if err := m.mirror.SaveSnapshot(ctx, snap); err != nil {
			// Don't fail - the in-memory store is the source of truth
			m.logger.Warn("failed to mirror snapshot to redis",
				logger.Uint64("seq", snap.Seq),
				logger.Error(err))
		}
	}
	return nil
}

func (m *Monitor) fail(fe *domain.FetchError, at time.Time) {
	m.mu.Lock()
	m.ready = true
	m.lastFailure = at
	m.lastKind = fe.Kind
	listeners := append([]func(*domain.FetchError){}, m.onError...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(fe)
	}
}

// Register creates the site on the backend, then tracks it locally in
// UNKNOWN status until the first poll reports on it.
func (m *Monitor) Register(ctx context.Context, rawURL string) (SiteView, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !validSiteURL(rawURL) {
		return SiteView{}, ErrInvalidURL
	}

	created, err := m.backend.RegisterSite(ctx, rawURL)
	if err != nil {
		return SiteView{}, fmt.Errorf("backend register: %w", err)
	}

	siteURL := rawURL
	if created.URL != nil && *created.URL != "" {
		siteURL = *created.URL
	}
	rec, err := m.store.Register(created.ID, siteURL)
	if err != nil {
		return SiteView{}, err
	}

	m.logger.Info("site registered",
		logger.String("site_id", rec.ID),
		logger.String("url", rec.URL))

	if m.mirror != nil {
		mctx, cancel := context.WithTimeout(ctx, m.mirrorTimeout)
		defer cancel()
		if err := m.mirror.SaveSite(mctx, rec); err != nil {
			m.logger.Warn("failed to mirror site to redis",
				logger.String("site_id", rec.ID),
				logger.Error(err))
		}
	}
	return m.view(rec, m.now()), nil
}

// Track starts monitoring a site the backend already knows about, without
// calling it. Used for sites pinned in the seed file.
func (m *Monitor) Track(id, rawURL string) error {
	_, err := m.store.Register(id, rawURL)
	return err
}

// Unregister stops tracking a site. It is the only deletion path.
func (m *Monitor) Unregister(ctx context.Context, id string) error {
	if err := m.store.Unregister(id); err != nil {
		return err
	}
	m.tracker.Forget(id)

	m.logger.Info("site unregistered", logger.String("site_id", id))

	if m.mirror != nil {
		mctx, cancel := context.WithTimeout(ctx, m.mirrorTimeout)
		defer cancel()
		if err := m.mirror.DeleteSite(mctx, id); err != nil {
			m.logger.Warn("failed to delete site from redis",
				logger.String("site_id", id),
				logger.Error(err))
		}
	}
	return nil
}

// Restore loads the mirror at startup. Restored sites count as observed when
// they were last merged, so old data turns stale on schedule.
func (m *Monitor) Restore(state domain.MirrorState) int {
	n := m.store.Restore(state)
	now := m.now()
	for _, rec := range m.store.All() {
		observed := rec.UpdatedAt
		if observed.IsZero() || observed.After(now) {
			observed = now
		}
		m.tracker.Observe(rec.ID, rec.CheckedAt, observed)
	}
	if n > 0 {
		m.mu.Lock()
		m.ready = true
		m.mu.Unlock()
	}
	return n
}

// SweepStale reports the sites that turned stale since the previous sweep.
func (m *Monitor) SweepStale(now time.Time) []string {
	turned := m.tracker.Sweep(now)
	if len(turned) == 0 {
		return nil
	}

	stale := turned[:0]
	for _, id := range turned {
		if _, ok := m.store.Get(id); ok {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	m.mu.RLock()
	listeners := append([]func([]string){}, m.onStale...)
	m.mu.RUnlock()

	for _, fn := range listeners {
		fn(stale)
	}
	return stale
}

// Ready reports whether the first poll completed or a snapshot was restored.
func (m *Monitor) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// Window returns the staleness window.
func (m *Monitor) Window() time.Duration {
	return m.tracker.Window()
}

func validSiteURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
