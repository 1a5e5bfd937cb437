// Package cache is a Redis read-through cache for availability and
// overview queries. Every cache entry expires on its own TTL; writes to
// the availability store also invalidate the affected keys so readers
// never see a stale answer longer than one round-trip.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"kennelbook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Cache wraps an optional Redis client. A nil client disables caching
// entirely; every method becomes a cheap no-op.
type Cache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *zerolog.Logger
}

func New(client *redis.Client, ttl time.Duration, logger *zerolog.Logger) *Cache {
	return &Cache{redis: client, ttl: ttl, logger: logger}
}

func availabilityKey(service models.Service, slot models.Slot, date string) string {
	return fmt.Sprintf("availability:%s:%s:%s", service, slot, date)
}

func overviewKey(date string) string {
	return fmt.Sprintf("overview:%s", date)
}

// GetAvailability returns the cached usage for a resource-day, or false.
func (c *Cache) GetAvailability(ctx context.Context, service models.Service, slot models.Slot, date string) (*models.ResourceUsage, bool) {
	var usage models.ResourceUsage
	if !c.read(ctx, availabilityKey(service, slot, date), &usage) {
		return nil, false
	}
	return &usage, true
}

// SetAvailability caches the usage for a resource-day.
func (c *Cache) SetAvailability(ctx context.Context, service models.Service, slot models.Slot, date string, usage *models.ResourceUsage) {
	c.write(ctx, availabilityKey(service, slot, date), usage)
}

// GetOverview returns the cached overview for a date, or false.
func (c *Cache) GetOverview(ctx context.Context, date string) (*models.Overview, bool) {
	var ov models.Overview
	if !c.read(ctx, overviewKey(date), &ov) {
		return nil, false
	}
	return &ov, true
}

// SetOverview caches the overview for a date.
func (c *Cache) SetOverview(ctx context.Context, date string, ov *models.Overview) {
	c.write(ctx, overviewKey(date), ov)
}

// InvalidateResourceDay drops the availability entry for one
// resource-day plus that day's overview. Called after any reserve,
// release, commit or override change touching the day.
func (c *Cache) InvalidateResourceDay(ctx context.Context, service models.Service, slot models.Slot, date string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, availabilityKey(service, slot, date), overviewKey(date)).Err(); err != nil {
		c.logger.Warn().Err(err).Str("date", date).Msg("cache invalidation failed")
	}
}

// InvalidateAll flushes every availability and overview entry. Used
// after override or default changes that span arbitrary date ranges.
func (c *Cache) InvalidateAll(ctx context.Context) {
	if c.redis == nil {
		return
	}
	for _, pattern := range []string{"availability:*", "overview:*"} {
		iter := c.redis.Scan(ctx, 0, pattern, 0).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			c.logger.Warn().Err(err).Str("pattern", pattern).Msg("cache scan failed")
			continue
		}
		if len(keys) > 0 {
			if err := c.redis.Del(ctx, keys...).Err(); err != nil {
				c.logger.Warn().Err(err).Msg("cache flush failed")
			}
		}
	}
}

func (c *Cache) read(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.ttl <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Cache) write(ctx context.Context, key string, val any) {
	if c.redis == nil || c.ttl <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}
