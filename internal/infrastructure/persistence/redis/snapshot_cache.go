package redis

import (
	"context"
	"errors"
	"time"

	"github.com/classeviva-hub/classeviva-poller/internal/domain/school"
	"github.com/classeviva-hub/classeviva-poller/internal/domain/shared"
)

// SnapshotCache keeps the latest Snapshot of every account in Redis.
type SnapshotCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewSnapshotCache creates a SnapshotCache. A non-positive ttl uses
// TTLSnapshot.
func NewSnapshotCache(cache *Cache, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = TTLSnapshot
	}
	return &SnapshotCache{cache: cache, ttl: ttl}
}

// Save stores snapshot as the latest one of its account.
func (s *SnapshotCache) Save(ctx context.Context, snapshot *school.Snapshot) error {
	if snapshot == nil {
		return ErrCacheNilValue
	}
	if snapshot.Account == "" {
		return shared.NewDomainError("redis", "SaveSnapshot", shared.ErrInvalidInput, "snapshot has no account")
	}
	return s.cache.Set(ctx, SnapshotKey(snapshot.Account), snapshot, s.ttl)
}

// Load returns the latest snapshot of account. It returns
// shared.ErrNotFound when none is stored.
func (s *SnapshotCache) Load(ctx context.Context, account string) (*school.Snapshot, error) {
	var snap school.Snapshot
	if err := s.cache.Get(ctx, SnapshotKey(account), &snap); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, shared.WrapError("redis", "LoadSnapshot", shared.ErrNotFound, "no snapshot for "+account, err)
		}
		return nil, err
	}
	return &snap, nil
}

// Delete forgets the snapshot of account.
func (s *SnapshotCache) Delete(ctx context.Context, account string) error {
	return s.cache.Delete(ctx, SnapshotKey(account))
}
