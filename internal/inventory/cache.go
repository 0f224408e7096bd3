package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	summaryVersionKey = "apotheca:stock:version"
	summaryKeyPrefix  = "apotheca:stock:summary"
)

// StockCache keeps the warehouse stock summary in Redis. Entries are keyed
// by a version that every committed warehouse movement increments, so stale
// summaries are never read.
type StockCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewStockCache builds the cache. A nil client disables caching.
func NewStockCache(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *StockCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StockCache{client: client, ttl: ttl, logger: logger}
}

// Version returns the current summary version; zero before the first bump.
func (c *StockCache) Version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, summaryVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return ver, err
}

// Summary returns the cached summary or loads and stores it. Concurrent
// misses share a single load.
func (c *StockCache) Summary(ctx context.Context, load func(context.Context) ([]StockSummaryRow, error)) ([]StockSummaryRow, error) {
	if c == nil || c.client == nil {
		return load(ctx)
	}
	ver, err := c.Version(ctx)
	if err != nil {
		c.logger.Warn("stock cache unavailable", slog.Any("error", err))
		return load(ctx)
	}
	key := fmt.Sprintf("%s:%d", summaryKeyPrefix, ver)

	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var rows []StockSummaryRow
		if err := json.Unmarshal(payload, &rows); err == nil {
			return rows, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("stock cache read failed", slog.String("key", key), slog.Any("error", err))
		return load(ctx)
	}

	// The shared load outlives any single waiter.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		rows, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(rows)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(loadCtx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("stock cache write failed", slog.String("key", key), slog.Any("error", err))
		}
		return rows, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]StockSummaryRow), nil
	}
}

// Invalidate moves the cache to a new version.
func (c *StockCache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, summaryVersionKey).Err()
}

// MovementPosted invalidates the summary after warehouse movements.
func (c *StockCache) MovementPosted(ctx context.Context, evt MovementEvent) error {
	if !evt.TouchesWarehouse() {
		return nil
	}
	return c.Invalidate(ctx)
}
