package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func key(recipient string) string {
	return fmt.Sprintf("last_sent:%s", recipient)
}

func (c *RedisCache) StoreSent(ctx context.Context, recipient, messageID string, sentAt time.Time) error {
	b, err := json.Marshal(Delivery{
		MessageID: messageID,
		SentAt:    sentAt.UTC(),
	})
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, key(recipient), b, c.ttl).Err()
}

func (c *RedisCache) LastSent(ctx context.Context, recipient string) (Delivery, bool, error) {
	var d Delivery

	raw, err := c.rdb.Get(ctx, key(recipient)).Bytes()
	if errors.Is(err, redis.Nil) {
		return d, false, nil
	}
	if err != nil {
		return d, false, err
	}

	if err := json.Unmarshal(raw, &d); err != nil {
		return d, false, fmt.Errorf("decode delivery for %s: %w", recipient, err)
	}
	return d, true, nil
}
