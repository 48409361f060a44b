package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GoofyComponent/GoofyChain/internal/logging"
	"github.com/GoofyComponent/GoofyChain/internal/models"
)

// AnalysisCache is a short-TTL Redis cache in front of the analysis
// pipeline. A hit skips the explorer and price provider entirely; misses and
// Redis failures both fall through to the pipeline.
type AnalysisCache struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewAnalysisCache creates a new analysis cache
func NewAnalysisCache(redis *RedisCache, ttl time.Duration) *AnalysisCache {
	return &AnalysisCache{redis: redis, ttl: ttl}
}

func analysisKey(address, currency string) string {
	return fmt.Sprintf("analysis:%s:%s", address, currency)
}

// Get retrieves a cached analysis. Returns nil on miss.
func (c *AnalysisCache) Get(ctx context.Context, address, currency string) (*models.WalletAnalysis, error) {
	data, err := c.redis.Client().Get(ctx, analysisKey(address, currency)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached analysis: %w", err)
	}

	var analysis models.WalletAnalysis
	if err := json.Unmarshal(data, &analysis); err != nil {
		// Corrupt entry: drop it and treat as a miss
		logging.FromContext(ctx).WithError(err).Warn("Dropping corrupt cached analysis")
		c.redis.Client().Del(ctx, analysisKey(address, currency))
		return nil, nil
	}

	return &analysis, nil
}

// Set stores an analysis for the configured TTL.
func (c *AnalysisCache) Set(ctx context.Context, analysis *models.WalletAnalysis) error {
	data, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}

	key := analysisKey(analysis.WalletAddress, analysis.Currency)
	if err := c.redis.Client().Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache analysis: %w", err)
	}
	return nil
}

// Invalidate removes all cached entries for an address across currencies.
func (c *AnalysisCache) Invalidate(ctx context.Context, address string) error {
	pattern := fmt.Sprintf("analysis:%s:*", address)

	var cursor uint64
	for {
		keys, next, err := c.redis.Client().Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan cache keys: %w", err)
		}
		if len(keys) > 0 {
			if err := c.redis.Client().Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete cache keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
