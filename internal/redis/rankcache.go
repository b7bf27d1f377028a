package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/config"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/domain"
)

// rankKey is the sorted set holding every profile's XP total. Postgres is
// the source of truth; this set is a realtime view kept in step by the
// award path and reconciled by the sync worker.
const rankKey = "xp:leaderboard"

// RankCache provides Redis-based realtime XP rank operations
type RankCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRankCache creates a new Redis rank cache
func NewRankCache(cfg *config.RedisConfig, logger *slog.Logger) (*RankCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RankCache{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (c *RankCache) Close() error {
	return c.client.Close()
}

// IncrementXP applies an XP delta to a profile's cached total and returns
// the new cached value.
func (c *RankCache) IncrementXP(ctx context.Context, profileID string, delta int64) (int64, error) {
	total, err := c.client.ZIncrBy(ctx, rankKey, float64(delta), profileID).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing cached xp: %w", err)
	}
	return int64(total), nil
}

// SetTotal overwrites a profile's cached XP total.
func (c *RankCache) SetTotal(ctx context.Context, profileID string, total int64) error {
	err := c.client.ZAdd(ctx, rankKey, redis.Z{
		Score:  float64(total),
		Member: profileID,
	}).Err()
	if err != nil {
		return fmt.Errorf("setting cached xp: %w", err)
	}
	return nil
}

// Rank returns a profile's 1-based rank by cached XP total.
func (c *RankCache) Rank(ctx context.Context, profileID string) (int64, error) {
	rank, err := c.client.ZRevRank(ctx, rankKey, profileID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, domain.ErrProfileNotFound
		}
		return 0, fmt.Errorf("getting cached rank: %w", err)
	}
	return rank + 1, nil
}

// Top returns the top n cached entries in descending XP order. Entries
// carry profile ID and total only; the projector owns the hydrated view.
func (c *RankCache) Top(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	results, err := c.client.ZRevRangeWithScores(ctx, rankKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting cached top: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, len(results))
	for i, result := range results {
		entries[i] = domain.LeaderboardEntry{
			Rank:      int64(i + 1),
			ProfileID: result.Member.(string),
			XPTotal:   int64(result.Score),
		}
	}
	return entries, nil
}

// Count returns the number of profiles in the cache.
func (c *RankCache) Count(ctx context.Context) (int64, error) {
	count, err := c.client.ZCard(ctx, rankKey).Result()
	if err != nil {
		return 0, fmt.Errorf("getting cached count: %w", err)
	}
	return count, nil
}

// BatchSetTotals overwrites many cached totals using pipelining. Profiles
// are never deleted from the ledger, so reconciliation only ever upserts.
func (c *RankCache) BatchSetTotals(ctx context.Context, totals map[string]int64) error {
	pipe := c.client.Pipeline()

	for profileID, total := range totals {
		pipe.ZAdd(ctx, rankKey, redis.Z{
			Score:  float64(total),
			Member: profileID,
		})
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("batch setting cached totals: %w", err)
	}
	return nil
}
