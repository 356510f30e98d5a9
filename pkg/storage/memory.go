package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/JaimeStill/marker/pkg/lifecycle"
)

// Memory is an in-process System used for local runs and tests.
type Memory struct {
	mu     sync.RWMutex
	blobs  map[string][]byte
	logger *slog.Logger
}

// NewMemory creates an empty in-memory store.
func NewMemory(logger *slog.Logger) *Memory {
	return &Memory{
		blobs:  make(map[string][]byte),
		logger: logger.With("system", "storage", "provider", ProviderMemory),
	}
}

func (m *Memory) Start(_ *lifecycle.Coordinator) error {
	m.logger.Info("starting storage system")
	return nil
}

func (m *Memory) Upload(_ context.Context, key string, reader io.Reader, _ string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("upload blob %s: %w", key, err)
	}

	m.mu.Lock()
	m.blobs[key] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) Download(_ context.Context, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	m.mu.RLock()
	data, ok := m.blobs[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.blobs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[key]; !ok {
		return ErrNotFound
	}
	delete(m.blobs, key)
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	m.mu.RLock()
	_, ok := m.blobs[key]
	m.mu.RUnlock()
	return ok, nil
}
