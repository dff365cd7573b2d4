// Package cache provides a Redis-backed snapshot cache for the active
// promotion set, keeping checkout pricing off the database on the hot path.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cartkit/promo-engine/internal/domain/checkout"
	"github.com/cartkit/promo-engine/internal/domain/promotion"
)

const snapshotKey = "promo:active"

var _ checkout.PromotionSource = (*PromotionCache)(nil)

// PromotionCache caches the active promotion snapshot in Redis with a short
// TTL. Redis failures degrade to direct source reads; they never fail a
// checkout.
type PromotionCache struct {
	source checkout.PromotionSource
	client *redis.Client
	ttl    time.Duration
}

// NewPromotionCache wraps source with a Redis snapshot cache.
func NewPromotionCache(source checkout.PromotionSource, client *redis.Client, ttl time.Duration) *PromotionCache {
	return &PromotionCache{source: source, client: client, ttl: ttl}
}

// ActivePromotions returns the cached snapshot when fresh, otherwise reloads
// from the source and stores the result.
//
// The snapshot is keyed without the timestamp: within one TTL every caller
// prices against the same promotion set, which keeps quotes consistent
// across replicas.
func (c *PromotionCache) ActivePromotions(ctx context.Context, now time.Time) ([]promotion.Promotion, error) {
	if cached, ok := c.load(ctx); ok {
		return cached, nil
	}

	promos, err := c.source.ActivePromotions(ctx, now)
	if err != nil {
		return nil, err
	}
	c.store(ctx, promos)
	return promos, nil
}

// Invalidate drops the snapshot. Called after every admin write so changes
// become visible before the TTL expires.
func (c *PromotionCache) Invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, snapshotKey).Err(); err != nil {
		zctx.From(ctx).Warn("promotion cache invalidate failed", zap.Error(err))
	}
}

func (c *PromotionCache) load(ctx context.Context) ([]promotion.Promotion, bool) {
	raw, err := c.client.Get(ctx, snapshotKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			zctx.From(ctx).Warn("promotion cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var promos []promotion.Promotion
	if err := json.Unmarshal(raw, &promos); err != nil {
		zctx.From(ctx).Warn("promotion cache snapshot corrupt", zap.Error(err))
		return nil, false
	}
	return promos, true
}

func (c *PromotionCache) store(ctx context.Context, promos []promotion.Promotion) {
	raw, err := json.Marshal(promos)
	if err != nil {
		zctx.From(ctx).Warn("promotion cache encode failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, snapshotKey, raw, c.ttl).Err(); err != nil {
		zctx.From(ctx).Warn("promotion cache write failed", zap.Error(err))
	}
}

// Ping verifies Redis connectivity, for readiness checks.
func (c *PromotionCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}
