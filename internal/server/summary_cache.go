package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/reviewhub/internal/reviews"
	"github.com/redis/go-redis/v9"
)

const (
	summaryKeyPrefix       = "reviewhub:summary:"
	defaultSummaryCacheTTL = time.Hour
)

var errMissingRedisClient = errors.New("redis client is required")

// SummaryCache stores rendered summaries in front of the summary service.
type SummaryCache interface {
	Get(ctx context.Context, gtin string) (*reviews.ReviewSummary, bool, error)
	Set(ctx context.Context, gtin string, summary *reviews.ReviewSummary) error
	Invalidate(ctx context.Context, gtin string) error
}

// RedisSummaryCache keeps JSON-encoded summaries in redis with a fixed TTL.
type RedisSummaryCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisSummaryCache constructs a RedisSummaryCache.
func NewRedisSummaryCache(client redis.Cmdable, ttl time.Duration) (*RedisSummaryCache, error) {
	if client == nil {
		return nil, errMissingRedisClient
	}
	if ttl <= 0 {
		ttl = defaultSummaryCacheTTL
	}
	return &RedisSummaryCache{client: client, ttl: ttl}, nil
}

func (c *RedisSummaryCache) Get(ctx context.Context, gtin string) (*reviews.ReviewSummary, bool, error) {
	raw, err := c.client.Get(ctx, summaryKey(gtin)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var summary reviews.ReviewSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, false, err
	}
	return &summary, true, nil
}

func (c *RedisSummaryCache) Set(ctx context.Context, gtin string, summary *reviews.ReviewSummary) error {
	encoded, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, summaryKey(gtin), encoded, c.ttl).Err()
}

func (c *RedisSummaryCache) Invalidate(ctx context.Context, gtin string) error {
	return c.client.Del(ctx, summaryKey(gtin)).Err()
}

func summaryKey(gtin string) string {
	return summaryKeyPrefix + gtin
}
