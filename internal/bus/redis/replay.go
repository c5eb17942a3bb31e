package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard claims signed-request keys with SET NX so that every replica
// sharing the Redis server rejects the same replay.
type ReplayGuard struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewReplayGuard(rdb *redis.Client, prefix string, ttl time.Duration) *ReplayGuard {
	return &ReplayGuard{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (g *ReplayGuard) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, g.prefix+key, 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim request: %w", err)
	}
	return ok, nil
}
