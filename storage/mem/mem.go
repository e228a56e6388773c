// Package mem provides an in-memory storage backend, used for tests and
// for environments where persistent storage is unavailable.
package mem

import (
	"sync"

	"github.com/zebra-devops/MarketEdge-Platform-sub014/storage"
)

// Backend is a storage.Backend backed by a map. It is safe for concurrent
// use and values are copied on the way in and out.
type Backend struct {
	mu    sync.Mutex
	data  map[string][]byte
	quota int
}

type Option func(b *Backend)

// WithQuota caps the total stored bytes. A Set that would exceed the cap
// fails with storage.ErrQuotaExceeded and leaves the prior value in place.
// If left unconfigured, no quota is enforced.
func WithQuota(bytes int) Option {
	return func(b *Backend) {
		b.quota = bytes
	}
}

func New(opts ...Option) *Backend {
	b := &Backend{data: make(map[string][]byte)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Get returns the value stored at key. ok is false if key is absent.
func (b *Backend) Get(key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

// Set stores value at key in one operation.
func (b *Backend) Set(key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.quota > 0 {
		total := len(value)
		for k, v := range b.data {
			if k != key {
				total += len(v)
			}
		}
		if total > b.quota {
			return storage.ErrQuotaExceeded
		}
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	b.data[key] = cp
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (b *Backend) Remove(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}
