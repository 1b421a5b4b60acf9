package calls

import (
	"context"
	"time"

	"freightline/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisSlotGuard enforces one active call per user across API instances
// using an atomic redis counter with a TTL, so a crashed instance cannot
// leak a user's call slot forever.
type RedisSlotGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSlotGuard(rdb *redis.Client, ttl time.Duration) *RedisSlotGuard {
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &RedisSlotGuard{rdb: rdb, ttl: ttl}
}

func slotKey(userID string) string { return "callslot:" + userID }

func (g *RedisSlotGuard) Acquire(ctx context.Context, userID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, g.rdb, slotKey(userID), 1, g.ttl)
}

func (g *RedisSlotGuard) Release(ctx context.Context, userID string) error {
	return utils.ReleaseConcurrencyCap(ctx, g.rdb, slotKey(userID))
}
