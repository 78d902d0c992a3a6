package scheduler

import (
	"context"
	"fmt"

	"github.com/MrSnakeDoc/sitewatch/internal/domain"
	"github.com/MrSnakeDoc/sitewatch/internal/logger"
)

// SiteSource returns the mirrored state
type SiteSource interface {
	Load(ctx context.Context) (domain.MirrorState, error)
}

// Restorer loads mirrored state into the in-memory store
type Restorer interface {
	Restore(state domain.MirrorState) int
}

// RedisSyncer restores the mirrored snapshot on startup
type RedisSyncer struct {
	source SiteSource
	target Restorer
	logger logger.Logger
}

// NewRedisSyncer creates a new Redis syncer
func NewRedisSyncer(source SiteSource, target Restorer, log logger.Logger) *RedisSyncer {
	return &RedisSyncer{
		source: source,
		target: target,
		logger: log,
	}
}

// Sync loads sites from Redis into memory and returns how many were restored
func (rs *RedisSyncer) Sync(ctx context.Context) (int, error) {
	rs.logger.Info("restoring sites from redis")

	state, err := rs.source.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read mirrored sites: %w", err)
	}

	if len(state.Sites) == 0 && len(state.Removed) == 0 && state.Seq == 0 {
		rs.logger.Info("no sites found in redis")
		return 0, nil
	}

	n := rs.target.Restore(state)

	rs.logger.Info("restored sites from redis",
		logger.Int("mirrored", len(state.Sites)),
		logger.Int("restored", n),
		logger.Int("removed", len(state.Removed)),
		logger.Uint64("seq", state.Seq))

	return n, nil
}
