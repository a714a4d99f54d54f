// Package store implements the local persistence layer of the sync core: a
// key-to-string medium (SQLite on disk, a map in tests) and typed JSON views
// over it. The local store is the source of truth while offline.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Sentinel errors for medium faults. Use errors.Is to check.
var (
	// ErrQuotaExceeded is returned when a value is larger than the medium allows.
	ErrQuotaExceeded = errors.New("store: quota exceeded")
	// ErrMalformed marks stored content that could not be decoded.
	ErrMalformed = errors.New("store: malformed data")
	// ErrClosed is returned by operations on a closed medium.
	ErrClosed = errors.New("store: medium closed")
)

// Medium is the synchronous key-to-string persistence surface. Each entity
// type owns its own keys, so collections never interfere with each other.
type Medium interface {
	// Get returns the value at key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// checkQuota rejects values larger than limit. A zero limit means unlimited.
func checkQuota(key, value string, limit int64) error {
	if limit > 0 && int64(len(value)) > limit {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrQuotaExceeded, key, len(value), limit)
	}

	return nil
}

// MemoryMedium keeps values in process memory. Used by tests and by
// commands run with --offline against a throwaway store.
type MemoryMedium struct {
	mu       sync.RWMutex
	values   map[string]string
	maxValue int64
	closed   bool
}

// NewMemoryMedium returns an empty in-memory medium. maxValue caps the size
// of a single value in bytes; zero means unlimited.
func NewMemoryMedium(maxValue int64) *MemoryMedium {
	return &MemoryMedium{
		values:   make(map[string]string),
		maxValue: maxValue,
	}
}

// Get implements Medium.
func (m *MemoryMedium) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", false, ErrClosed
	}

	v, ok := m.values[key]

	return v, ok, nil
}

// Set implements Medium.
func (m *MemoryMedium) Set(_ context.Context, key, value string) error {
	if err := checkQuota(key, value, m.maxValue); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.values[key] = value

	return nil
}

// Remove implements Medium.
func (m *MemoryMedium) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	delete(m.values, key)

	return nil
}

// Close implements Medium.
func (m *MemoryMedium) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	return nil
}
