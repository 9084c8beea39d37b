// Package cache provides the optional Redis layer over derived stock
// balances. The cache is strictly an accelerator: every method is safe to
// call with no Redis configured, and any Redis error degrades to a ledger
// fold rather than surfacing to the caller.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"retail-ledger/internal/core"
)

// StockCache implements core.StockCache on a Redis client. A nil client is
// a valid always-miss cache.
type StockCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *logrus.Logger
}

// New connects to REDIS_ADDRESS. When the variable is unset or the ping
// fails the returned cache runs in pass-through mode.
func New(ctx context.Context, log *logrus.Logger) *StockCache {
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		log.Info("REDIS_ADDRESS not set, stock cache disabled")
		return &StockCache{ttl: cacheLifespan(), log: log}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis unreachable, stock cache disabled")
		return &StockCache{ttl: cacheLifespan(), log: log}
	}
	log.WithField("addr", addr).Info("stock cache connected")
	return &StockCache{rdb: rdb, ttl: cacheLifespan(), log: log}
}

func cacheLifespan() time.Duration {
	minutes, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN_MINUTES"))
	if err != nil || minutes <= 0 {
		minutes = 10
	}
	return time.Duration(minutes) * time.Minute
}

func balanceKey(key core.ItemBranch) string {
	return fmt.Sprintf("stock:%d:%d", key.ItemID, key.BranchID)
}

func (c *StockCache) GetBalance(ctx context.Context, key core.ItemBranch) (*core.StockBalance, bool) {
	if c.rdb == nil {
		return nil, false
	}
	val, err := c.rdb.Get(ctx, balanceKey(key)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.log.WithError(err).Warn("stock cache read failed")
		return nil, false
	}
	var balance core.StockBalance
	if err := json.Unmarshal([]byte(val), &balance); err != nil {
		return nil, false
	}
	return &balance, true
}

func (c *StockCache) SetBalance(ctx context.Context, balance *core.StockBalance) {
	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(balance)
	if err != nil {
		return
	}
	key := core.ItemBranch{ItemID: balance.ItemID, BranchID: balance.BranchID}
	if err := c.rdb.Set(ctx, balanceKey(key), data, c.ttl).Err(); err != nil {
		c.log.WithError(err).Warn("stock cache write failed")
	}
}

func (c *StockCache) Invalidate(ctx context.Context, keys []core.ItemBranch) {
	if c.rdb == nil || len(keys) == 0 {
		return
	}
	redisKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		redisKeys = append(redisKeys, balanceKey(key))
	}
	if err := c.rdb.Del(ctx, redisKeys...).Err(); err != nil {
		c.log.WithError(err).Warn("stock cache invalidation failed")
	}
}
