package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sentPrefix = "sms:sent:"

// RedisCache keeps recently sent records keyed by provider message id.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) StoreSent(ctx context.Context, rec SentRecord) error {
	if rec.ProviderMessageID == "" {
		return errors.New("provider message id is required")
	}
	rec.SentAt = rec.SentAt.UTC()

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode sent record: %w", err)
	}
	return c.rdb.Set(ctx, sentPrefix+rec.ProviderMessageID, b, c.ttl).Err()
}

func (c *RedisCache) LookupSent(ctx context.Context, providerMessageID string) (SentRecord, error) {
	raw, err := c.rdb.Get(ctx, sentPrefix+providerMessageID).Bytes()
	if errors.Is(err, redis.Nil) {
		return SentRecord{}, ErrMiss
	}
	if err != nil {
		return SentRecord{}, err
	}

	var rec SentRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return SentRecord{}, fmt.Errorf("decode sent record %q: %w", providerMessageID, err)
	}
	return rec, nil
}
