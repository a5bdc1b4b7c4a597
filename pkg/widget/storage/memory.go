package storage

import (
	"context"
	"sync"

	"github.com/patrickmn/go-cache"
)

// MemoryBackend keeps values in a go-cache instance without expiry. It is what the
// widget falls back to when no durable storage is configured, and what tests use.
type MemoryBackend struct {
	mu       sync.Mutex
	cache    *cache.Cache
	maxBytes int
}

func NewMemoryBackend(maxBytes int) *MemoryBackend {
	return &MemoryBackend{
		cache:    cache.New(cache.NoExpiration, 0),
		maxBytes: maxBytes,
	}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	x, found := b.cache.Get(key)
	if !found {
		return nil, ErrNotFound
	}
	value := x.([]byte)
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	oldSize := 0
	if x, found := b.cache.Get(key); found {
		oldSize = len(x.([]byte))
	}
	if !fits(b.maxBytes, b.usageLocked(), oldSize, len(value)) {
		return ErrQuotaExceeded
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	b.cache.Set(key, stored, cache.NoExpiration)
	return nil
}

func (b *MemoryBackend) Remove(_ context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache.Delete(key)
	return nil
}

// Usage returns the number of bytes currently stored.
func (b *MemoryBackend) Usage() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.usageLocked()
}

// SetQuota changes the byte limit; values already stored are kept even if they exceed it.
func (b *MemoryBackend) SetQuota(maxBytes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxBytes = maxBytes
}

func (b *MemoryBackend) usageLocked() int {
	total := 0
	for _, item := range b.cache.Items() {
		total += len(item.Object.([]byte))
	}
	return total
}
