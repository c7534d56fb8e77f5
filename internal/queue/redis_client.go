package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

type redisPusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisTrigger appends extraction jobs to a Redis list. Workers pop from the
// head with BLPOP, so jobs are consumed in submission order.
type RedisTrigger struct {
	client redisPusher
	key    string
}

// NewRedisTrigger connects to addr and verifies the connection.
func NewRedisTrigger(ctx context.Context, addr, password, key string) (*RedisTrigger, *redis.Client, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil, fmt.Errorf("REDIS_QUEUE_KEY is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisTrigger{client: rdb, key: key}, rdb, nil
}

// Invoke pushes a job onto the list.
func (r *RedisTrigger) Invoke(ctx context.Context, job Job) error {
	payload, err := EncodeJob(job)
	if err != nil {
		return fmt.Errorf("encode redis job: %w", err)
	}
	if err := r.client.RPush(ctx, r.key, payload).Err(); err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	return nil
}

var _ Trigger = (*RedisTrigger)(nil)
