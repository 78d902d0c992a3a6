package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrSnakeDoc/sitewatch/internal/domain"
	"github.com/MrSnakeDoc/sitewatch/internal/index"
	"github.com/MrSnakeDoc/sitewatch/internal/logger"
)

// recordingHandler collects every delivered result
type recordingHandler struct {
	mu      sync.Mutex
	results []domain.PollResult
	got     chan domain.PollResult
	err     error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{got: make(chan domain.PollResult, 64)}
}

func (h *recordingHandler) HandleResult(res domain.PollResult) error {
	h.mu.Lock()
	h.results = append(h.results, res)
	err := h.err
	h.mu.Unlock()
	select {
	case h.got <- res:
	default:
	}
	return err
}

func (h *recordingHandler) next(t *testing.T) domain.PollResult {
	t.Helper()
	select {
	case res := <-h.got:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a poll result")
		return domain.PollResult{}
	}
}

// storeHandler merges successful results into a snapshot store
type storeHandler struct {
	store *index.SnapshotStore
}

func (h storeHandler) HandleResult(res domain.PollResult) error {
	if !res.OK() {
		return nil
	}
	_, err := h.store.Merge(res.Updates, res.At)
	return err
}

func TestPollerFiresImmediately(t *testing.T) {
	h := newRecordingHandler()
	fetch := func(ctx context.Context) ([]domain.SiteUpdate, error) {
		return []domain.SiteUpdate{{ID: "a"}}, nil
	}

	p := NewPoller(fetch, h, logger.New("error", false), time.Hour, time.Second)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Stop()

	res := h.next(t)
	if !res.OK() || len(res.Updates) != 1 {
		t.Errorf("first result = %+v, want one update", res)
	}

	if err := p.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestPollerSkipsOverlappingTicks(t *testing.T) {
	h := newRecordingHandler()
	release := make(chan struct{})
	var calls atomic.Int32
	var concurrent, maxConcurrent atomic.Int32

	fetch := func(ctx context.Context) ([]domain.SiteUpdate, error) {
		calls.Add(1)
		n := concurrent.Add(1)
		defer concurrent.Add(-1)
		for {
			m := maxConcurrent.Load()
			if n <= m || maxConcurrent.CompareAndSwap(m, n) {
				break
			}
		}
		<-release
		return nil, nil
	}

	p := NewPoller(fetch, h, logger.New("error", false), 5*time.Millisecond, time.Minute)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	time.Sleep(60 * time.Millisecond)

	if got := calls.Load(); got != 1 {
		t.Errorf("fetch called %d times while blocked, want 1", got)
	}
	st := p.Stats()
	if st.Skipped == 0 {
		t.Error("Stats().Skipped = 0, want overlapping ticks to be skipped")
	}
	if !st.InFlight {
		t.Error("Stats().InFlight = false while a fetch is outstanding")
	}
	if err := p.Trigger(); !errors.Is(err, ErrFetchInFlight) {
		t.Errorf("Trigger() error = %v, want ErrFetchInFlight", err)
	}

	close(release)
	h.next(t)

	p.Stop()
	p.Wait()

	if got := maxConcurrent.Load(); got != 1 {
		t.Errorf("max concurrent fetches = %d, want 1", got)
	}
}

func TestPollerTimeoutProducesFailure(t *testing.T) {
	h := newRecordingHandler()
	fetch := func(ctx context.Context) ([]domain.SiteUpdate, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	p := NewPoller(fetch, h, logger.New("error", false), time.Hour, 20*time.Millisecond)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	res := h.next(t)
	if res.OK() {
		t.Fatal("expected a failure")
	}
	if res.Err.Kind != domain.ErrTimeout {
		t.Errorf("kind = %v, want %v", res.Err.Kind, domain.ErrTimeout)
	}

	// The stuck fetch must not stall later ticks.
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := p.Trigger()
		if err == nil {
			break
		}
		if !errors.Is(err, ErrFetchInFlight) || time.Now().After(deadline) {
			t.Fatalf("Trigger() after timeout error = %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	h.next(t)
}

func TestPollerTimeoutWhenFetchIgnoresContext(t *testing.T) {
	h := newRecordingHandler()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var calls atomic.Int32
	fetch := func(ctx context.Context) ([]domain.SiteUpdate, error) {
		calls.Add(1)
		<-release
		return []domain.SiteUpdate{{ID: "late"}}, nil
	}

	p := NewPoller(fetch, h, logger.New("error", false), 20*time.Millisecond, 30*time.Millisecond)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	for i := 0; i < 2; i++ {
		res := h.next(t)
		if res.OK() || res.Err.Kind != domain.ErrTimeout {
			t.Fatalf("result %d = %+v, want a timeout failure", i, res)
		}
	}
	if got := calls.Load(); got < 2 {
		t.Errorf("fetch called %d times, want a new fetch after the timeout", got)
	}
	if st := p.Stats(); st.Ticks < 2 || st.LastErrorKind != domain.ErrTimeout {
		t.Errorf("Stats() = %+v, want at least 2 ticks ending in timeout", st)
	}
}

func TestPollerFailuresDoNotStopPolling(t *testing.T) {
	h := newRecordingHandler()
	var calls atomic.Int32
	fetch := func(ctx context.Context) ([]domain.SiteUpdate, error) {
		if calls.Add(1) <= 3 {
			return nil, &domain.FetchError{Kind: domain.ErrHTTP, StatusCode: 502}
		}
		return nil, nil
	}

	p := NewPoller(fetch, h, logger.New("error", false), 5*time.Millisecond, time.Second)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	for i := 0; i < 3; i++ {
		res := h.next(t)
		if res.OK() || res.Err.Kind != domain.ErrHTTP {
			t.Fatalf("result %d = %+v, want http failure", i, res)
		}
	}
	if res := h.next(t); !res.OK() {
		t.Fatalf("poller did not recover: %+v", res)
	}

	p.Stop()
	p.Wait()

	st := p.Stats()
	if st.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d after success, want 0", st.ConsecutiveFailures)
	}
	if st.LastFailure.IsZero() || st.LastSuccess.IsZero() {
		t.Errorf("Stats() = %+v, want both timestamps set", st)
	}
	if st.LastErrorKind != domain.ErrHTTP {
		t.Errorf("LastErrorKind = %v", st.LastErrorKind)
	}
	if st.Running {
		t.Error("Running = true after Stop()")
	}
}

func TestPollerHandlerErrorCountsAsFailure(t *testing.T) {
	h := newRecordingHandler()
	h.err = domain.NewFetchError(domain.ErrMalformedPayload, errors.New("bad record"))
	fetch := func(ctx context.Context) ([]domain.SiteUpdate, error) { return nil, nil }

	p := NewPoller(fetch, h, logger.New("error", false), time.Hour, time.Second)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.next(t)
	p.Stop()
	p.Wait()

	st := p.Stats()
	if st.ConsecutiveFailures != 1 || st.LastErrorKind != domain.ErrMalformedPayload {
		t.Errorf("Stats() = %+v, want one malformed_payload failure", st)
	}
}

func TestPollerStopDuringFetchLeavesStoreUnchanged(t *testing.T) {
	store := index.NewSnapshotStore()
	store.Register("a", "https://a.example.com")
	before := store.Snapshot()

	started := make(chan struct{})
	release := make(chan struct{})
	code := 503
	fetch := func(ctx context.Context) ([]domain.SiteUpdate, error) {
		close(started)
		<-release // ignores ctx: the response lands late
		return []domain.SiteUpdate{{ID: "a", StatusCode: &code}}, nil
	}

	p := NewPoller(fetch, storeHandler{store: store}, logger.New("error", false), time.Hour, time.Minute)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	<-started
	p.Stop()
	close(release)
	p.Wait()

	after := store.Snapshot()
	if after.Seq != before.Seq {
		t.Errorf("Seq = %d, want %d: late response was merged", after.Seq, before.Seq)
	}
	a, _ := store.Get("a")
	if a.StatusCode != nil {
		t.Error("late response mutated the store after Stop()")
	}
}

func TestPollerStopIsIdempotent(t *testing.T) {
	p := NewPoller(
		func(ctx context.Context) ([]domain.SiteUpdate, error) { return nil, nil },
		newRecordingHandler(),
		logger.New("error", false),
		time.Hour,
		time.Second,
	)

	// Never started: no-op.
	p.Stop()
	if err := p.Trigger(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Trigger() before Start() error = %v, want ErrNotRunning", err)
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	p.Stop()
	p.Stop()
	p.Wait()

	if err := p.Trigger(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Trigger() after Stop() error = %v, want ErrNotRunning", err)
	}
}

func TestPollerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newRecordingHandler()
	p := NewPoller(
		func(ctx context.Context) ([]domain.SiteUpdate, error) { return nil, nil },
		h,
		logger.New("error", false),
		5*time.Millisecond,
		time.Second,
	)
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	h.next(t)
	cancel()

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller goroutines did not exit after context cancellation")
	}
}
