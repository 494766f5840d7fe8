package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cachePrefix = "escrow-idempotency:"

// Cache keeps finalized responses in Redis. A nil *Cache is a valid, empty cache
// and Redis failures degrade to Postgres lookups.
type Cache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewCache returns nil when client is nil.
func NewCache(client redis.Cmdable, ttl time.Duration) *Cache {
	if client == nil {
		return nil
	}
	return &Cache{client: client, ttl: ttl}
}

type cachedRecord struct {
	Principal   string `json:"principal"`
	Hash        string `json:"hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
}

func (c *Cache) get(ctx context.Context, key string) (*Record, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, cachePrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("redis idempotency lookup failed", zap.Error(err))
		}
		return nil, false
	}
	var cached cachedRecord
	if err := json.Unmarshal(raw, &cached); err != nil {
		zap.L().Warn("discarding unreadable idempotency cache entry", zap.Error(err))
		return nil, false
	}
	return &Record{
		Key:         key,
		Principal:   cached.Principal,
		RequestHash: cached.Hash,
		Response:    Response{Status: cached.Status, Body: cached.Body, ContentType: cached.ContentType},
		ServedBy:    "redis",
	}, true
}

func (c *Cache) put(ctx context.Context, rec Record) {
	if c == nil {
		return
	}
	payload, err := json.Marshal(cachedRecord{
		Principal:   rec.Principal,
		Hash:        rec.RequestHash,
		Status:      rec.Status,
		Body:        rec.Body,
		ContentType: rec.ContentType,
	})
	if err != nil {
		zap.L().Warn("encode idempotency cache entry", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, cachePrefix+rec.Key, payload, c.ttl).Err(); err != nil {
		zap.L().Warn("redis idempotency cache set failed", zap.Error(err))
	}
}

func (c *Cache) drop(ctx context.Context, key string) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, cachePrefix+key).Err(); err != nil {
		zap.L().Warn("redis idempotency delete failed", zap.Error(err))
	}
}
