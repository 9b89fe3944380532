package repository

import (
	"context"
	"strconv"

	"github.com/courseloop/simulation-backend/internal/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// BudgetCache is a Redis read-through cache for a test's total time budget.
// The budget is computed once at start and immutable afterwards, so entries
// never need invalidation; a miss falls back to summing the suite's
// questions and self-heals the cache.
type BudgetCache struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewBudgetCache creates a new BudgetCache.
func NewBudgetCache(rdb *redis.Client, log zerolog.Logger) *BudgetCache {
	return &BudgetCache{
		rdb: rdb,
		log: log.With().Str("component", "budget_cache").Logger(),
	}
}

// Get returns the cached budget in ms and whether it was present.
func (c *BudgetCache) Get(ctx context.Context, testID uuid.UUID) (int64, bool) {
	val, err := c.rdb.Get(ctx, config.CacheKey.TestBudgetKey(testID.String())).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Budget cache read failed")
		}
		return 0, false
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		c.log.Warn().Str("value", val).Msg("Invalid budget format in cache")
		return 0, false
	}
	return ms, true
}

// Set caches the budget. Failures are logged, never propagated: the database
// stays the source of truth and the next Get simply misses.
func (c *BudgetCache) Set(ctx context.Context, testID uuid.UUID, budgetMs int64) {
	if err := c.rdb.Set(ctx, config.CacheKey.TestBudgetKey(testID.String()), budgetMs, 0).Err(); err != nil {
		c.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Budget cache write failed")
	}
}
