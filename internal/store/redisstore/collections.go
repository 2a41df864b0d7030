package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jasrulete/AI-Scheduler/internal/datasync"
	"github.com/redis/go-redis/v9"
)

// CollectionCache stores refetched collections so the bridge and the
// worker share one view.
type CollectionCache struct {
	store *Store
	ttl   time.Duration
}

var _ datasync.Cache = (*CollectionCache)(nil)

// Collections returns a cache; ttl <= 0 keeps entries until overwritten.
func (s *Store) Collections(ttl time.Duration) *CollectionCache {
	return &CollectionCache{store: s, ttl: ttl}
}

func collectionKey(c datasync.Collection) string {
	return keyPrefix + "collection:" + string(c)
}

func (cc *CollectionCache) Put(ctx context.Context, c datasync.Collection, data json.RawMessage) error {
	ttl := cc.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := cc.store.rdb.Set(ctx, collectionKey(c), []byte(data), ttl).Err(); err != nil {
		return fmt.Errorf("cache %s: %w", c, err)
	}
	return nil
}

func (cc *CollectionCache) Get(ctx context.Context, c datasync.Collection) (json.RawMessage, bool, error) {
	b, err := cc.store.rdb.Get(ctx, collectionKey(c)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached %s: %w", c, err)
	}
	return json.RawMessage(b), true, nil
}
