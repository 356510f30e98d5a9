// Package queue implements a typed FIFO work queue on a Redis list.
// Producers RPUSH JSON-encoded items; consumers block on BLPOP.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrDecode indicates a queued payload could not be decoded into the item type.
var ErrDecode = errors.New("queue item decode failed")

// Queue is a FIFO of T shared across worker processes.
type Queue[T any] struct {
	client *redis.Client
	key    string
}

// New creates a queue bound to the given Redis list key.
func New[T any](client *redis.Client, key string) *Queue[T] {
	return &Queue[T]{client: client, key: key}
}

// Key returns the Redis list key backing the queue.
func (q *Queue[T]) Key() string {
	return q.key
}

// Push appends item to the tail of the queue.
func (q *Queue[T]) Push(ctx context.Context, item T) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode queue item: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("push %s: %w", q.key, err)
	}
	return nil
}

// Pop removes the head of the queue, blocking up to wait. The boolean is
// false when the wait elapsed with the queue empty.
func (q *Queue[T]) Pop(ctx context.Context, wait time.Duration) (T, bool, error) {
	var zero T

	res, err := q.client.BLPop(ctx, wait, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("pop %s: %w", q.key, err)
	}
	if len(res) != 2 {
		return zero, false, fmt.Errorf("pop %s: unexpected reply length %d", q.key, len(res))
	}

	var item T
	if err := json.Unmarshal([]byte(res[1]), &item); err != nil {
		return zero, false, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return item, true, nil
}

// Len reports the number of queued items.
func (q *Queue[T]) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
