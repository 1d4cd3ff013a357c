package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a Redis client
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

const (
	topicKeyPrefix  = "topic:device:"
	deviceKeyPrefix = "device:topics:"
)

// TopicCache remembers which device a transport topic resolved to. Every
// cached topic is also indexed under its device so a device change can drop
// all of its entries at once.
type TopicCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTopicCache creates a cache whose entries expire after ttl
func NewTopicCache(client *redis.Client, ttl time.Duration) *TopicCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &TopicCache{client: client, ttl: ttl}
}

// Get returns the cached device id for topic
func (c *TopicCache) Get(ctx context.Context, topic string) (string, bool, error) {
	id, err := c.client.Get(ctx, topicKeyPrefix+topic).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("topic cache get: %w", err)
	}
	return id, true, nil
}

// Set caches topic -> deviceID
func (c *TopicCache) Set(ctx context.Context, topic, deviceID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, topicKeyPrefix+topic, deviceID, c.ttl)
		pipe.SAdd(ctx, deviceKeyPrefix+deviceID, topic)
		pipe.Expire(ctx, deviceKeyPrefix+deviceID, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("topic cache set: %w", err)
	}
	return nil
}

// InvalidateDevice drops every cached topic that resolved to deviceID
func (c *TopicCache) InvalidateDevice(ctx context.Context, deviceID string) error {
	indexKey := deviceKeyPrefix + deviceID
	topics, err := c.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("topic cache members: %w", err)
	}
	keys := make([]string, 0, len(topics)+1)
	for _, t := range topics {
		keys = append(keys, topicKeyPrefix+t)
	}
	keys = append(keys, indexKey)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("topic cache invalidate: %w", err)
	}
	return nil
}

// InvalidateTopic drops the cached resolution of one topic, whichever device
// it resolved to.
func (c *TopicCache) InvalidateTopic(ctx context.Context, topic string) error {
	key := topicKeyPrefix + topic
	owner, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("topic cache get: %w", err)
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, deviceKeyPrefix+owner, topic)
		return nil
	})
	if err != nil {
		return fmt.Errorf("topic cache invalidate: %w", err)
	}
	return nil
}
