package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tonimelisma/todosync/internal/entity"
)

// Key prefixes partitioning the medium by entity type.
const (
	collectionKeyPrefix = "collection:"
	queueKeyPrefix      = "queue:"
	conflictsKeyPrefix  = "conflicts:"
	healthKeyPrefix     = "health:"
	lastSyncKeyPrefix   = "last-sync:"
)

// CollectionKey returns the medium key holding the collection of kind.
func CollectionKey(kind string) string { return collectionKeyPrefix + kind }

// QueueKey returns the medium key holding the pending operations of kind.
func QueueKey(kind string) string { return queueKeyPrefix + kind }

// ConflictsKey returns the medium key holding the unresolved conflicts of kind.
func ConflictsKey(kind string) string { return conflictsKeyPrefix + kind }

// HealthKey returns the scratch key used to probe that the medium accepts
// writes for kind.
func HealthKey(kind string) string { return healthKeyPrefix + kind }

// LastSyncKey returns the key holding the time of the last successful sync
// of kind.
func LastSyncKey(kind string) string { return lastSyncKeyPrefix + kind }

// Collection is a typed view of one entity collection stored as a JSON array
// under a single key. Writes replace the whole array. Update serializes
// read-modify-write sequences within the process; other processes writing
// the same key are not coordinated.
type Collection[T entity.Entity[T]] struct {
	medium Medium
	key    string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewCollection returns the collection of kind stored in medium.
func NewCollection[T entity.Entity[T]](medium Medium, kind string, logger *slog.Logger) *Collection[T] {
	if logger == nil {
		logger = slog.Default()
	}

	return &Collection[T]{
		medium: medium,
		key:    CollectionKey(kind),
		logger: logger,
	}
}

// ReadAll returns every stored entity that passes validation. Corrupt
// content reads as an empty collection and invalid entries are dropped; both
// are logged, never returned as errors.
func (c *Collection[T]) ReadAll(ctx context.Context) ([]T, error) {
	raw, ok, err := c.medium.Get(ctx, c.key)
	if err != nil {
		return nil, err
	}

	if !ok || raw == "" {
		return []T{}, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elems); err != nil {
		c.logger.Warn("discarding malformed collection",
			slog.String("key", c.key),
			slog.String("error", fmt.Errorf("%w: %w", ErrMalformed, err).Error()),
		)

		return []T{}, nil
	}

	items := make([]T, 0, len(elems))

	for i, elem := range elems {
		var item T
		if err := json.Unmarshal(elem, &item); err != nil {
			c.logger.Debug("dropping undecodable entry",
				slog.String("key", c.key),
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)

			continue
		}

		if err := item.Validate(); err != nil {
			c.logger.Debug("dropping invalid entry",
				slog.String("key", c.key),
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)

			continue
		}

		items = append(items, item)
	}

	return items, nil
}

// WriteAll replaces the stored collection. Medium errors, including
// ErrQuotaExceeded, are returned unchanged.
func (c *Collection[T]) WriteAll(ctx context.Context, items []T) error {
	if items == nil {
		items = []T{}
	}

	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("store: encoding %s: %w", c.key, err)
	}

	return c.medium.Set(ctx, c.key, string(data))
}

// Update runs fn over the current collection and writes its result. Calls
// are serialized so concurrent updates never lose each other's changes. If
// fn returns an error nothing is written.
func (c *Collection[T]) Update(ctx context.Context, fn func([]T) ([]T, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	items, err := c.ReadAll(ctx)
	if err != nil {
		return err
	}

	next, err := fn(items)
	if err != nil {
		return err
	}

	return c.WriteAll(ctx, next)
}

// Get returns the entity with id.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var zero T

	items, err := c.ReadAll(ctx)
	if err != nil {
		return zero, false, err
	}

	if i := IndexOf(items, id); i >= 0 {
		return items[i], true, nil
	}

	return zero, false, nil
}

// Upsert replaces the entity with the same id or appends it.
func (c *Collection[T]) Upsert(ctx context.Context, item T) error {
	return c.Update(ctx, func(items []T) ([]T, error) {
		if i := IndexOf(items, item.SyncMeta().ID); i >= 0 {
			items[i] = item
			return items, nil
		}

		return append(items, item), nil
	})
}

// Remove deletes the entity with id. Removing a missing id is not an error.
func (c *Collection[T]) Remove(ctx context.Context, id string) error {
	return c.Update(ctx, func(items []T) ([]T, error) {
		if i := IndexOf(items, id); i >= 0 {
			return append(items[:i], items[i+1:]...), nil
		}

		return items, nil
	})
}

// IndexOf returns the position of the entity with id, or -1.
func IndexOf[T entity.Entity[T]](items []T, id string) int {
	for i := range items {
		if items[i].SyncMeta().ID == id {
			return i
		}
	}

	return -1
}
