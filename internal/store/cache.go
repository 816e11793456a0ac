package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taxroll/lead-reconciler/internal/logger"
)

// snapshotCacheKey holds the serialized snapshot in redis
const snapshotCacheKey = "leadrecon:snapshot"

// cachedStore fronts the postgres store with a redis snapshot cache. The
// snapshot is read on every upload and every dashboard load, so it is the
// one hot read worth caching. Redis being down degrades to postgres reads,
// never to an error.
type cachedStore struct {
	Store
	redis redis.UniversalClient
	ttl   time.Duration
}

// NewCachedStore wraps a store with a redis snapshot cache tier
func NewCachedStore(inner Store, client redis.UniversalClient, ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &cachedStore{Store: inner, redis: client, ttl: ttl}
}

// LoadSnapshot serves from redis when possible and reads through to postgres
// on a miss
func (s *cachedStore) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	payload, err := s.redis.Get(ctx, snapshotCacheKey).Bytes()
	if err == nil {
		var snapshot Snapshot
		if err := json.Unmarshal(payload, &snapshot); err == nil {
			return &snapshot, nil
		}
		logger.WarnCtx(ctx, "corrupt cached snapshot, reading through", zap.Error(err))
	} else if !errors.Is(err, redis.Nil) {
		logger.WarnCtx(ctx, "snapshot cache read failed, reading through", zap.Error(err))
	}

	snapshot, err := s.Store.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(snapshot); err == nil {
		if err := s.redis.Set(ctx, snapshotCacheKey, payload, s.ttl).Err(); err != nil {
			logger.WarnCtx(ctx, "snapshot cache write failed", zap.Error(err))
		}
	}

	return snapshot, nil
}

// SaveSnapshot writes through and drops the cached snapshot
func (s *cachedStore) SaveSnapshot(ctx context.Context, input SaveSnapshotInput) (int64, error) {
	version, err := s.Store.SaveSnapshot(ctx, input)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx)
	return version, nil
}

// SetPropertyLocation writes through and drops the cached snapshot
func (s *cachedStore) SetPropertyLocation(ctx context.Context, accountID string, lat, lng float64) error {
	if err := s.Store.SetPropertyLocation(ctx, accountID, lat, lng); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// SetMotivationScore writes through and drops the cached snapshot
func (s *cachedStore) SetMotivationScore(ctx context.Context, accountID string, score int) error {
	if err := s.Store.SetMotivationScore(ctx, accountID, score); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// DeactivateNotSeenSince writes through and drops the cached snapshot
func (s *cachedStore) DeactivateNotSeenSince(ctx context.Context, cutoff time.Time) (int64, error) {
	count, err := s.Store.DeactivateNotSeenSince(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.invalidate(ctx)
	}
	return count, nil
}

func (s *cachedStore) invalidate(ctx context.Context) {
	if err := s.redis.Del(ctx, snapshotCacheKey).Err(); err != nil {
		// stale reads expire with the TTL
		logger.WarnCtx(ctx, "snapshot cache invalidation failed", zap.Error(err))
	}
}
