package cache

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// LeaderboardCache handles Redis ZSET operations for the focus-minutes
// leaderboard
type LeaderboardCache interface {
	AddMinutes(ctx context.Context, userID string, minutes int) error
	GetTop(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	GetRank(ctx context.Context, userID string) (int64, error)
}

// LeaderboardEntry represents a single leaderboard entry
type LeaderboardEntry struct {
	UserID  string `json:"userId"`
	Minutes int    `json:"minutes"`
	Rank    int    `json:"rank"`
}

type leaderboardCache struct {
	client *redis.Client
}

// NewLeaderboardCache creates a new leaderboard cache
func NewLeaderboardCache(client *redis.Client) LeaderboardCache {
	return &leaderboardCache{
		client: client,
	}
}

const leaderboardKey = "lb:focus_minutes"

func (c *leaderboardCache) AddMinutes(ctx context.Context, userID string, minutes int) error {
	return c.client.ZIncrBy(ctx, leaderboardKey, float64(minutes), userID).Err()
}

func (c *leaderboardCache) GetTop(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	results, err := c.client.ZRevRangeWithScores(ctx, leaderboardKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, len(results))
	for i, z := range results {
		entries[i] = LeaderboardEntry{
			UserID:  z.Member.(string),
			Minutes: int(z.Score),
			Rank:    i + 1,
		}
	}
	return entries, nil
}

func (c *leaderboardCache) GetRank(ctx context.Context, userID string) (int64, error) {
	rank, err := c.client.ZRevRank(ctx, leaderboardKey, userID).Result()
	if err == redis.Nil {
		return -1, nil
	}
	return rank + 1, err // 1-indexed
}
