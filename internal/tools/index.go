package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// RedisIndex stores reference answers in a Redis hash keyed by normalized
// question text, fronted by an in-process LRU cache of hits.
type RedisIndex struct {
	client *redis.Client
	key    string
	cache  *lru.Cache[string, IndexEntry]
}

// NewRedisIndex creates an index stored under hash key with an LRU of
// cacheSize entries.
func NewRedisIndex(client *redis.Client, key string, cacheSize int) (*RedisIndex, error) {
	cache, err := lru.New[string, IndexEntry](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create index cache: %w", err)
	}
	return &RedisIndex{client: client, key: key, cache: cache}, nil
}

// NormalizeQuestion lowercases and collapses whitespace so equivalent
// question text shares an index entry.
func NormalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// Lookup returns the matching entry, or an empty list when the question is
// not indexed.
func (x *RedisIndex) Lookup(ctx context.Context, question string) ([]IndexEntry, error) {
	field := NormalizeQuestion(question)
	if e, ok := x.cache.Get(field); ok {
		return []IndexEntry{e}, nil
	}

	raw, err := x.client.HGet(ctx, x.key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return []IndexEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index lookup: %w", err)
	}

	var e IndexEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode index entry: %w", err)
	}

	x.cache.Add(field, e)
	return []IndexEntry{e}, nil
}

// Put adds or replaces an entry.
func (x *RedisIndex) Put(ctx context.Context, e IndexEntry) error {
	field := NormalizeQuestion(e.Question)
	if field == "" {
		return fmt.Errorf("%w: question required", ErrInvalidInput)
	}

	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := x.client.HSet(ctx, x.key, field, raw).Err(); err != nil {
		return fmt.Errorf("index put: %w", err)
	}

	x.cache.Remove(field)
	return nil
}
