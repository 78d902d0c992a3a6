package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/sitewatch/internal/domain"
)

const (
	// DefaultSiteTTL is how long a mirrored record survives without being refreshed
	DefaultSiteTTL = 7 * 24 * time.Hour
)

// Store mirrors the snapshot store into Redis so a restart does not start blank
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore creates a new Redis store. A non-positive ttl selects DefaultSiteTTL.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultSiteTTL
	}
	return &Store{
		client: client,
		ttl:    ttl,
	}
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// SaveSite stores one site record
func (s *Store) SaveSite(ctx context.Context, site domain.SiteRecord) error {
	return s.SaveSitesMany(ctx, []domain.SiteRecord{site})
}

// SaveSitesMany stores multiple site records (bulk operation).
// A site keeps the order score it got the first time it was saved, and
// saving it lifts a previous removal.
func (s *Store) SaveSitesMany(ctx context.Context, sites []domain.SiteRecord) error {
	if len(sites) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, site := range sites {
		data, err := json.Marshal(site)
		if err != nil {
			return fmt.Errorf("failed to marshal site %s: %w", site.ID, err)
		}

		pipe.Set(ctx, SiteKey(site.ID), data, s.ttl)
		pipe.ZAddNX(ctx, SiteOrderKey(), redis.Z{
			Score:  float64(site.RegisteredAt.UnixNano()),
			Member: site.ID,
		})
		pipe.SRem(ctx, RemovedSitesKey(), site.ID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save sites: %w", err)
	}
	return nil
}

// GetAllSites retrieves every mirrored site in registration order.
// IDs whose record expired are pruned from the order set.
func (s *Store) GetAllSites(ctx context.Context) ([]domain.SiteRecord, error) {
	ids, err := s.client.ZRange(ctx, SiteOrderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get site IDs: %w", err)
	}
	if len(ids) == 0 {
		return []domain.SiteRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = SiteKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get sites: %w", err)
	}

	sites := make([]domain.SiteRecord, 0, len(ids))
	var expired []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var site domain.SiteRecord
		if err := json.Unmarshal([]byte(raw), &site); err != nil {
			// Skip records that can't be decoded
			continue
		}
		sites = append(sites, site)
	}

	if len(expired) > 0 {
		_ = s.client.ZRem(ctx, SiteOrderKey(), expired...).Err()
	}
	return sites, nil
}

// DeleteSite removes a site from Redis and remembers it was unregistered
func (s *Store) DeleteSite(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, SiteKey(id))
	pipe.ZRem(ctx, SiteOrderKey(), id)
	pipe.SAdd(ctx, RemovedSitesKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete site: %w", err)
	}
	return nil
}

// GetRemovedSites returns the IDs of sites unregistered locally
func (s *Store) GetRemovedSites(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, RemovedSitesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get removed sites: %w", err)
	}
	return ids, nil
}
