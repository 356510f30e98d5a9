// Package lock provides a best-effort distributed mutex on Redis.
//
// Locks are advisory: holders must keep their writes idempotent because a
// lock can expire while its holder is still working.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Release when the lock expired or was taken over.
var ErrNotHeld = errors.New("lock not held")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker acquires keyed locks.
type Locker interface {
	// TryAcquire attempts to take key for ttl without waiting. The returned
	// Lease is nil when another holder owns the key.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error)
}

// Lease is a held lock.
type Lease struct {
	client *redis.Client
	key    string
	token  string
}

// Key returns the locked key.
func (l *Lease) Key() string {
	return l.key
}

// Release frees the lock if this lease still holds it.
func (l *Lease) Release(ctx context.Context) error {
	if l.client == nil {
		return nil
	}
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

type redisLocker struct {
	client *redis.Client
}

// NewRedis creates a Locker backed by SET NX PX.
func NewRedis(client *redis.Client) Locker {
	return &redisLocker{client: client}
}

func (r *redisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}

	return &Lease{client: r.client, key: key, token: token}, nil
}

type noop struct{}

// NewNoop returns a Locker that always grants the lock without coordination.
// It is used when locking is disabled.
func NewNoop() Locker {
	return noop{}
}

func (noop) TryAcquire(_ context.Context, key string, _ time.Duration) (*Lease, error) {
	return &Lease{key: key}, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
