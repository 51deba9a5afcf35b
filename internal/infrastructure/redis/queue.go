package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go-relay/internal/domain"

	"github.com/redis/go-redis/v9"
)

// RedisQueue carries invocations from the gateway to workers.
type RedisQueue struct {
	client    *redis.Client
	queueName string
}

func NewRedisQueue(client *redis.Client, queueName string) *RedisQueue {
	return &RedisQueue{
		client:    client,
		queueName: queueName,
	}
}

// Push adds an invocation to the end of the list
func (q *RedisQueue) Push(ctx context.Context, inv domain.Invocation) error {
	payload, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("encode invocation: %w", err)
	}
	return wrap("queue push", q.client.RPush(ctx, q.queueName, payload).Err())
}

// Pop waits up to timeout for an invocation and removes it from the front of
// the list. It returns (nil, nil) when the wait expires empty.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*domain.Invocation, error) {
	result, err := q.client.BLPop(ctx, timeout, q.queueName).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("queue pop", err)
	}

	// BLPop returns a slice: [QueueName, Element]
	var inv domain.Invocation
	if err := json.Unmarshal([]byte(result[1]), &inv); err != nil {
		return nil, fmt.Errorf("decode invocation: %w", err)
	}
	return &inv, nil
}
