package datasync

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// Fetcher loads one collection from the backend.
type Fetcher interface {
	Fetch(ctx context.Context, collection string) (json.RawMessage, error)
}

// Refresher fetches a collection and stores it in a Cache. Concurrent
// refreshes of the same collection share one request.
type Refresher struct {
	fetcher Fetcher
	cache   Cache
	group   singleflight.Group
}

func NewRefresher(f Fetcher, c Cache) *Refresher {
	return &Refresher{fetcher: f, cache: c}
}

func (r *Refresher) Dispatch(ctx context.Context, c Collection) error {
	_, err := r.Run(ctx, c)
	return err
}

// Run refreshes c and reports the size of the cached payload.
func (r *Refresher) Run(ctx context.Context, c Collection) (int, error) {
	v, err, _ := r.group.Do(string(c), func() (any, error) {
		data, err := r.fetcher.Fetch(ctx, string(c))
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", c, err)
		}
		if err := r.cache.Put(ctx, c, data); err != nil {
			return nil, fmt.Errorf("cache %s: %w", c, err)
		}
		return len(data), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}
