package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/sitewatch/internal/domain"
	"github.com/MrSnakeDoc/sitewatch/internal/logger"
)

const (
	DefaultPollInterval = domain.DefaultPollInterval
	DefaultFetchTimeout = 10 * time.Second
)

var (
	ErrAlreadyStarted = errors.New("poller already started")
	ErrNotRunning     = errors.New("poller not running")
	ErrFetchInFlight  = errors.New("a fetch is already in flight")
)

// FetchFunc retrieves one (possibly partial) payload from the backend.
type FetchFunc func(ctx context.Context) ([]domain.SiteUpdate, error)

// ResultHandler consumes the outcome of each tick. A non-nil error means the
// result could not be applied (ex: a payload rejected by validation) and is
// counted as a failed tick.
type ResultHandler interface {
	HandleResult(res domain.PollResult) error
}

// Stats is a point-in-time view of the poller's counters.
type Stats struct {
	Running             bool             `json:"running"`
	InFlight            bool             `json:"in_flight"`
	Ticks               uint64           `json:"ticks"`
	Skipped             uint64           `json:"skipped"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	LastSuccess         time.Time        `json:"last_success"`
	LastFailure         time.Time        `json:"last_failure"`
	LastErrorKind       domain.ErrorKind `json:"last_error_kind,omitempty"`
}

// Poller fetches the site collection every interval, with at most one fetch
// outstanding. Ticks that come due while a fetch is running are skipped.
type Poller struct {
	fetch        FetchFunc
	handler      ResultHandler
	logger       logger.Logger
	interval     time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	inFlight atomic.Bool
	wg       sync.WaitGroup

	// deliverMu is held while a result is handed to the handler and while
	// Stop flips the stopped flag. Lock order: deliverMu, then mu.
	deliverMu sync.Mutex

	mu      sync.Mutex // guards everything below
	started bool
	stopped bool
	runCtx  context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	stats   Stats
}

// NewPoller creates a poller; non-positive durations select the defaults.
func NewPoller(
	fetch FetchFunc,
	handler ResultHandler,
	log logger.Logger,
	interval time.Duration,
	fetchTimeout time.Duration,
) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}

	return &Poller{
		fetch:        fetch,
		handler:      handler,
		logger:       log,
		interval:     interval,
		fetchTimeout: fetchTimeout,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
}

// Interval returns the configured poll interval.
func (p *Poller) Interval() time.Duration { return p.interval }

// Start fires the first tick immediately, then one every interval.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	p.runCtx, p.cancel = context.WithCancel(ctx)
	runCtx := p.runCtx
	p.mu.Unlock()

	p.logger.Info("poller started",
		logger.Duration("interval", p.interval),
		logger.Duration("fetch_timeout", p.fetchTimeout))

	p.tick(runCtx)

	ticker := time.NewTicker(p.interval)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.tick(runCtx)
			case <-p.stopCh:
				return
			case <-runCtx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop cancels the timer and any in-flight request. Once it returns, no
// further result reaches the handler. Safe to call more than once, and a
// no-op if the poller was never started.
func (p *Poller) Stop() {
	p.deliverMu.Lock()
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		p.deliverMu.Unlock()
		return
	}
	p.stopped = true
	close(p.stopCh)
	cancel := p.cancel
	p.mu.Unlock()
	p.deliverMu.Unlock()

	cancel()
	p.logger.Info("poller stopped")
}

// Wait blocks until the ticker goroutine and any in-flight tick have exited.
// A fetch abandoned after its timeout is not waited for.
func (p *Poller) Wait() {
	p.wg.Wait()
}

// Trigger requests an immediate out-of-band tick, subject to the same
// overlap rule as scheduled ticks.
func (p *Poller) Trigger() error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return ErrNotRunning
	}
	runCtx := p.runCtx
	p.mu.Unlock()

	p.logger.Info("manual poll triggered")
	if !p.tick(runCtx) {
		return ErrFetchInFlight
	}
	return nil
}

// Stats returns a copy of the counters.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	s.Running = p.started && !p.stopped
	s.InFlight = p.inFlight.Load()
	return s
}

// tick launches a fetch unless one is already outstanding, and reports
// whether it did.
func (p *Poller) tick(ctx context.Context) bool {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.mu.Lock()
		p.stats.Skipped++
		p.mu.Unlock()
		p.logger.Debug("poll tick skipped, fetch still in flight")
		return false
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.inFlight.Store(false)
		return false
	}
	p.stats.Ticks++
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(ctx)
	return true
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()
	defer p.inFlight.Store(false)

	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	type outcome struct {
		updates []domain.SiteUpdate
		err     error
	}
	done := make(chan outcome, 1)

	start := p.now()
	go func() {
		updates, err := p.fetch(fetchCtx)
		done <- outcome{updates, err}
	}()

	var (
		updates []domain.SiteUpdate
		err     error
	)
	select {
	case o := <-done:
		updates, err = o.updates, o.err
	case <-fetchCtx.Done():
		// A fetch that ignores its context is abandoned; its late result is dropped.
		err = fetchCtx.Err()
	}
	at := p.now()

	var res domain.PollResult
	if err != nil {
		fe := domain.AsFetchError(err)
		if fe.Kind != domain.ErrTimeout && errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			fe = domain.NewFetchError(domain.ErrTimeout, err)
		}
		res = domain.Failure(fe, at)
	} else {
		res = domain.Success(updates, at)
	}

	p.deliver(ctx, res, at.Sub(start))
}

// deliver hands res to the handler unless Stop was requested meanwhile.
func (p *Poller) deliver(ctx context.Context, res domain.PollResult, took time.Duration) {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()

	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped || ctx.Err() != nil {
		p.logger.Debug("dropping poll result after stop")
		return
	}

	var fe *domain.FetchError
	if !res.OK() {
		fe = res.Err
	}
	if err := p.handler.HandleResult(res); err != nil && fe == nil {
		fe = domain.AsFetchError(err)
	}

	p.mu.Lock()
	if fe == nil {
		p.stats.ConsecutiveFailures = 0
		p.stats.LastSuccess = res.At
	} else {
		p.stats.ConsecutiveFailures++
		p.stats.LastFailure = res.At
		p.stats.LastErrorKind = fe.Kind
	}
	failures := p.stats.ConsecutiveFailures
	p.mu.Unlock()

	if fe != nil {
		p.logger.Warn("poll failed",
			logger.String("kind", string(fe.Kind)),
			logger.Int("consecutive_failures", failures),
			logger.Duration("took", took),
			logger.Error(fe))
		return
	}
	p.logger.Debug("poll succeeded",
		logger.Int("sites", len(res.Updates)),
		logger.Duration("took", took))
}
