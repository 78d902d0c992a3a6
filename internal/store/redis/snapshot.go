package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/sitewatch/internal/domain"
)

// SnapshotMeta describes the last snapshot written to the mirror
type SnapshotMeta struct {
	Seq     uint64
	TakenAt time.Time
}

// SaveSnapshot mirrors every record of snap plus its sequence number
func (s *Store) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	if err := s.SaveSitesMany(ctx, snap.Sites); err != nil {
		return err
	}
	err := s.client.HSet(ctx, SnapshotMetaKey(),
		"seq", strconv.FormatUint(snap.Seq, 10),
		"taken_at", snap.TakenAt.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to save snapshot meta: %w", err)
	}
	return nil
}

// GetSnapshotMeta returns the mirrored snapshot's metadata; ok is false when
// nothing was mirrored yet.
func (s *Store) GetSnapshotMeta(ctx context.Context) (SnapshotMeta, bool, error) {
	vals, err := s.client.HGetAll(ctx, SnapshotMetaKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return SnapshotMeta{}, false, nil
		}
		return SnapshotMeta{}, false, fmt.Errorf("failed to get snapshot meta: %w", err)
	}
	if len(vals) == 0 {
		return SnapshotMeta{}, false, nil
	}

	var meta SnapshotMeta
	if meta.Seq, err = strconv.ParseUint(vals["seq"], 10, 64); err != nil {
		return SnapshotMeta{}, false, fmt.Errorf("invalid snapshot seq %q: %w", vals["seq"], err)
	}
	if meta.TakenAt, err = time.Parse(time.RFC3339Nano, vals["taken_at"]); err != nil {
		return SnapshotMeta{}, false, fmt.Errorf("invalid snapshot time %q: %w", vals["taken_at"], err)
	}
	return meta, true, nil
}

// Load reads everything needed to rebuild the in-memory store at startup
func (s *Store) Load(ctx context.Context) (domain.MirrorState, error) {
	sites, err := s.GetAllSites(ctx)
	if err != nil {
		return domain.MirrorState{}, err
	}
	removed, err := s.GetRemovedSites(ctx)
	if err != nil {
		return domain.MirrorState{}, err
	}
	meta, _, err := s.GetSnapshotMeta(ctx)
	if err != nil {
		return domain.MirrorState{}, err
	}

	return domain.MirrorState{
		Sites:   sites,
		Seq:     meta.Seq,
		TakenAt: meta.TakenAt,
		Removed: removed,
	}, nil
}
