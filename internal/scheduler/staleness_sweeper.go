package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/MrSnakeDoc/sitewatch/internal/logger"
)

// Sweeper flags sites whose data went stale.
type Sweeper interface {
	SweepStale(now time.Time) []string
}

// StalenessSweeper runs a sweep every interval so sites turn STALE even when
// no poll succeeds for a long time.
type StalenessSweeper struct {
	sweeper  Sweeper
	logger   logger.Logger
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewStalenessSweeper creates a new sweeper
func NewStalenessSweeper(s Sweeper, log logger.Logger, interval time.Duration) *StalenessSweeper {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return &StalenessSweeper{
		sweeper:  s,
		logger:   log,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sweep
func (ss *StalenessSweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(ss.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ss.Sweep()
			case <-ss.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the sweeper. Safe to call more than once.
func (ss *StalenessSweeper) Stop() {
	ss.stopOnce.Do(func() {
		close(ss.stopCh)
	})
}

// Sweep runs one pass and returns the sites that just turned stale
func (ss *StalenessSweeper) Sweep() []string {
	stale := ss.sweeper.SweepStale(ss.now())

	if len(stale) > 0 {
		ss.logger.Warn("sites turned stale",
			logger.Int("count", len(stale)),
			logger.Strings("site_ids", stale))
	} else {
		ss.logger.Debug("no sites turned stale")
	}

	return stale
}
