package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/datallboy/nzbidx/internal/breaker"
)

// Redis backs the NZB cache with a shared redis instance so multiple API
// replicas share warm entries. All calls go through the redis breaker; when
// it is open the cache degrades to a miss instead of blocking requests.
type Redis struct {
	client *redis.Client
	br     *breaker.Breaker
	log    *slog.Logger
}

func NewRedis(ctx context.Context, url string, br *breaker.Breaker, log *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Redis{client: client, br: br, log: log.With("component", "cache")}, nil
}

func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) Get(ctx context.Context, dedupeKey string) ([]byte, bool, bool) {
	var val []byte
	miss := false
	err := r.br.Call(ctx, func() error {
		b, err := r.client.Get(ctx, keyPrefix+dedupeKey).Bytes()
		if errors.Is(err, redis.Nil) {
			// A miss is a valid answer, not a dependency failure.
			miss = true
			return nil
		}
		val = b
		return err
	})
	if err != nil {
		r.log.Warn("nzb_cache_get_failed", "key", dedupeKey, "error", err)
		return nil, false, false
	}
	if miss {
		return nil, false, false
	}
	if string(val) == failSentinel {
		return nil, true, true
	}
	return val, false, true
}

func (r *Redis) Put(ctx context.Context, dedupeKey string, xml []byte) {
	err := r.br.Call(ctx, func() error {
		return r.client.Set(ctx, keyPrefix+dedupeKey, xml, successTTL).Err()
	})
	if err != nil {
		r.log.Warn("nzb_cache_set_failed", "key", dedupeKey, "error", err)
	}
}

func (r *Redis) PutFailure(ctx context.Context, dedupeKey string) {
	err := r.br.Call(ctx, func() error {
		return r.client.Set(ctx, keyPrefix+dedupeKey, failSentinel, failureTTL).Err()
	})
	if err != nil {
		r.log.Warn("nzb_cache_set_failed", "key", dedupeKey, "error", err)
	}
}
