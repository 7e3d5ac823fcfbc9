// Package cache holds the optional Redis read-cache for balance
// lookups. The cache is a convenience on the read path only: the
// Postgres projection stays authoritative and every ledger append
// drops the cached value.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = time.Minute

type BalanceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBalanceCache connects to Redis at addr.
// Returns nil cache when addr is empty; a nil *BalanceCache is a valid
// no-op cache, so callers don't have to branch on configuration.
func NewBalanceCache(addr string) *BalanceCache {
	if addr == "" {
		return nil
	}

	return &BalanceCache{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		ttl: defaultTTL,
	}
}

func key(userID int64) string {
	return fmt.Sprintf("creditd:balance:%d", userID)
}

// Get returns the cached balance and whether it was present
func (c *BalanceCache) Get(ctx context.Context, userID int64) (int64, bool) {
	if c == nil {
		return 0, false
	}

	val, err := c.rdb.Get(ctx, key(userID)).Result()
	if err != nil {
		return 0, false
	}

	current, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}

	return current, true
}

// Set stores the balance with the cache TTL. Errors are dropped: a
// write-through miss only costs a db read later.
func (c *BalanceCache) Set(ctx context.Context, userID int64, current int64) {
	if c == nil {
		return
	}

	_ = c.rdb.Set(ctx, key(userID), strconv.FormatInt(current, 10), c.ttl).Err()
}

// Invalidate drops the cached balance, called on every ledger append
func (c *BalanceCache) Invalidate(ctx context.Context, userID int64) error {
	if c == nil {
		return nil
	}

	err := c.rdb.Del(ctx, key(userID)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("cache error: %w", err)
	}

	return nil
}
