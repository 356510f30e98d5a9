package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JaimeStill/marker/pkg/cache"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Store persists session state.
type Store interface {
	// Create writes s with a fresh TTL, replacing any previous state for
	// the same page.
	Create(ctx context.Context, s *State) error
	Get(ctx context.Context, id string) (*State, error)
	// Save overwrites an existing session without extending its TTL.
	Save(ctx context.Context, s *State) error
	Delete(ctx context.Context, id string) error
}

type redisStore struct {
	cache cache.System
	ttl   time.Duration
}

// NewRedisStore creates a Store that expires sessions ttl after creation.
func NewRedisStore(c cache.System, ttl time.Duration) Store {
	return &redisStore{cache: c, ttl: ttl}
}

func (r *redisStore) key(id string) string {
	return r.cache.Key("session", id)
}

func (r *redisStore) Create(ctx context.Context, s *State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := r.cache.Client().Set(ctx, r.key(s.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("create session %s: %w", s.ID, err)
	}
	return nil
}

func (r *redisStore) Get(ctx context.Context, id string) (*State, error) {
	data, err := r.cache.Client().Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

func (r *redisStore) Save(ctx context.Context, s *State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	err = r.cache.Client().SetArgs(ctx, r.key(s.ID), data, redis.SetArgs{
		Mode:    "XX",
		KeepTTL: true,
	}).Err()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

func (r *redisStore) Delete(ctx context.Context, id string) error {
	if err := r.cache.Client().Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}
