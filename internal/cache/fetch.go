package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// fetcher collapses concurrent misses for the same key into one fetchFunc call
type fetcher[T any] struct {
	group singleflight.Group
}

func (f *fetcher[T]) getWithFetch(
	ctx context.Context,
	key string,
	ttl time.Duration,
	get func(ctx context.Context, key string) (T, error),
	set func(ctx context.Context, key string, value T, ttl time.Duration) error,
	fetchFunc func(ctx context.Context, key string) (T, error),
) (T, error) {
	if value, err := get(ctx, key); err == nil {
		return value, nil
	}

	v, err, _ := f.group.Do(key, func() (any, error) {
		value, err := fetchFunc(ctx, key)
		if err != nil {
			return nil, err
		}
		_ = set(ctx, key, value, ttl)
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
