// Package sync keeps a local collection of records and the remote authority
// in agreement. A Service owns one entity type: local writes land in the
// store immediately and are queued for the remote side, and Sync reconciles
// the two copies, resolving conflicts automatically where it can. The
// Orchestrator runs every Service on a cadence driven by network quality.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/tonimelisma/todosync/internal/conflict"
	"github.com/tonimelisma/todosync/internal/entity"
	"github.com/tonimelisma/todosync/internal/queue"
	"github.com/tonimelisma/todosync/internal/store"
)

// Sentinel errors. Use errors.Is to check.
var (
	// ErrSyncInProgress is reported when Sync is called while another Sync
	// of the same service is running.
	ErrSyncInProgress = errors.New("sync: sync already in progress")
	// ErrNotFound is returned when a record or conflict does not exist.
	ErrNotFound = errors.New("sync: not found")
	// ErrAlreadyExists is returned by Create for an id already stored.
	ErrAlreadyExists = errors.New("sync: already exists")
)

const defaultMaxRetries = 3

// Remote is the REST collection a Service syncs against. Implemented by
// *remote.Resource.
type Remote[T entity.Entity[T]] interface {
	List(ctx context.Context) ([]T, error)
	Create(ctx context.Context, v T) (T, error)
	Patch(ctx context.Context, id string, fields entity.Fields) (T, error)
	Delete(ctx context.Context, id string) error
}

// HealthChecker probes the remote side. Implemented by *remote.Transport.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Gate reports whether remote calls should be attempted. Implemented by
// *netmon.Monitor.
type Gate interface {
	Reachable() bool
}

// ServiceConfig holds the options for NewService.
type ServiceConfig[T entity.Entity[T]] struct {
	Kind       string // collection name, e.g. "tasks"
	Medium     store.Medium
	Remote     Remote[T]
	Health     HealthChecker // nil skips the remote health probe
	Gate       Gate          // nil means always reachable
	Options    conflict.Options
	BatchSize  int
	BatchDelay time.Duration
	MaxRetries int
	Logger     *slog.Logger
}

// Service is the local-first store for one entity type.
type Service[T entity.Entity[T]] struct {
	kind       string
	medium     store.Medium
	coll       *store.Collection[T]
	queue      *queue.Queue
	remote     Remote[T]
	health     HealthChecker
	gate       Gate
	detector   *conflict.Detector[T]
	resolver   *conflict.Resolver[T]
	maxRetries int
	logger     *slog.Logger
	nowFunc    func() time.Time

	// mu serializes local writes with the queue entries they produce, and
	// with reconciliation.
	mu gosync.Mutex

	optsMu gosync.RWMutex
	opts   conflict.Options

	syncing       atomic.Bool
	conflictCount atomic.Int64
	lastSync      atomic.Pointer[time.Time]

	baseCtx context.Context
	bg      gosync.WaitGroup
}

// NewService opens the queue persisted for cfg.Kind and returns the service.
func NewService[T entity.Entity[T]](ctx context.Context, cfg ServiceConfig[T]) (*Service[T], error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With(slog.String("kind", cfg.Kind))

	q, err := queue.Open(ctx, queue.Config{
		Medium:     cfg.Medium,
		Kind:       cfg.Kind,
		BatchSize:  cfg.BatchSize,
		BatchDelay: cfg.BatchDelay,
		Gate:       cfg.Gate,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("sync: opening %s queue: %w", cfg.Kind, err)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	s := &Service[T]{
		kind:       cfg.Kind,
		medium:     cfg.Medium,
		coll:       store.NewCollection[T](cfg.Medium, cfg.Kind, logger),
		queue:      q,
		remote:     cfg.Remote,
		health:     cfg.Health,
		gate:       cfg.Gate,
		detector:   conflict.NewDetector[T](),
		resolver:   conflict.NewResolver[T](),
		maxRetries: maxRetries,
		logger:     logger,
		nowFunc:    time.Now,
		opts:       cfg.Options,
		baseCtx:    context.WithoutCancel(ctx),
	}

	pending, err := s.loadConflicts(ctx)
	if err != nil {
		return nil, err
	}

	s.conflictCount.Store(int64(len(pending)))
	s.loadLastSync(ctx)

	return s, nil
}

func (s *Service[T]) loadLastSync(ctx context.Context) {
	raw, ok, err := s.medium.Get(ctx, store.LastSyncKey(s.kind))
	if err != nil || !ok {
		return
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		s.logger.Warn("ignoring unreadable last sync time", slog.String("value", raw))
		return
	}

	s.lastSync.Store(&t)
}

// recordSync remembers a successful round in memory and in the medium.
func (s *Service[T]) recordSync(ctx context.Context, done time.Time) {
	s.lastSync.Store(&done)

	if err := s.medium.Set(ctx, store.LastSyncKey(s.kind), done.UTC().Format(time.RFC3339Nano)); err != nil {
		s.logger.Warn("failed to persist last sync time", slog.String("error", err.Error()))
	}
}

// Kind returns the collection name.
func (s *Service[T]) Kind() string { return s.kind }

// SetOptions replaces the conflict resolution options used by later syncs.
func (s *Service[T]) SetOptions(opts conflict.Options) {
	s.optsMu.Lock()
	defer s.optsMu.Unlock()

	s.opts = opts
}

func (s *Service[T]) options() conflict.Options {
	s.optsMu.RLock()
	defer s.optsMu.RUnlock()

	return s.opts
}

func (s *Service[T]) reachable() bool {
	return s.gate == nil || s.gate.Reachable()
}

// GetAll returns every stored record.
func (s *Service[T]) GetAll(ctx context.Context) ([]T, error) {
	return s.coll.ReadAll(ctx)
}

// GetByID returns the record with id, or ErrNotFound.
func (s *Service[T]) GetByID(ctx context.Context, id string) (T, error) {
	v, ok, err := s.coll.Get(ctx, id)
	if err != nil {
		return v, err
	}

	if !ok {
		return v, fmt.Errorf("%w: %s %s", ErrNotFound, s.kind, id)
	}

	return v, nil
}

// Create stores v locally, unsynced, and queues it for the remote side. A
// missing id is minted and a missing creation time set to now. The remote
// outcome is not awaited.
func (s *Service[T]) Create(ctx context.Context, v T) (T, error) {
	var zero T

	now := s.nowFunc()

	meta := v.SyncMeta()
	if meta.ID == "" {
		meta.ID = entity.NewID()
	}

	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}

	meta = meta.Touch(now)
	meta.LastSyncTime = nil
	meta.SyncError = ""
	v = v.WithSyncMeta(meta)
	v = withCompletion(v, v.Fields(), now)

	if err := v.Validate(); err != nil {
		return zero, fmt.Errorf("sync: creating %s: %w", s.kind, err)
	}

	op, err := queue.NewOperation(queue.OpCreate, s.kind, meta.ID, v, s.maxRetries, now)
	if err != nil {
		return zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.coll.Update(ctx, func(items []T) ([]T, error) {
		if store.IndexOf(items, meta.ID) >= 0 {
			return nil, fmt.Errorf("%w: %s %s", ErrAlreadyExists, s.kind, meta.ID)
		}

		return append(items, v), nil
	})
	if err != nil {
		return zero, err
	}

	if err := s.queue.Enqueue(ctx, op); err != nil {
		return zero, fmt.Errorf("sync: queueing create of %s: %w", meta.ID, err)
	}

	s.logger.Debug("created locally", slog.String("id", meta.ID))
	s.kick()

	return v, nil
}

// Update applies patch to the record with id locally and queues the changed
// fields for the remote side.
func (s *Service[T]) Update(ctx context.Context, id string, patch entity.Fields) (T, error) {
	var (
		zero    T
		updated T
		sent    entity.Fields
	)

	now := s.nowFunc()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.coll.Update(ctx, func(items []T) ([]T, error) {
		i := store.IndexOf(items, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s %s", ErrNotFound, s.kind, id)
		}

		next := items[i].WithFields(patch)
		next = withCompletion(next, patch, now)
		next = next.WithSyncMeta(next.SyncMeta().Touch(now))

		if err := next.Validate(); err != nil {
			return nil, fmt.Errorf("sync: updating %s %s: %w", s.kind, id, err)
		}

		updated = next
		sent = changedFields(next.Fields(), patch)
		items[i] = next

		return items, nil
	})
	if err != nil {
		return zero, err
	}

	op, err := queue.NewOperation(queue.OpUpdate, s.kind, id, sent, s.maxRetries, now)
	if err != nil {
		return zero, err
	}

	if err := s.queue.Enqueue(ctx, op); err != nil {
		return zero, fmt.Errorf("sync: queueing update of %s: %w", id, err)
	}

	s.kick()

	return updated, nil
}

// Delete removes the record with id locally and queues the remote delete.
func (s *Service[T]) Delete(ctx context.Context, id string) error {
	now := s.nowFunc()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.coll.Update(ctx, func(items []T) ([]T, error) {
		i := store.IndexOf(items, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s %s", ErrNotFound, s.kind, id)
		}

		return append(items[:i], items[i+1:]...), nil
	})
	if err != nil {
		return err
	}

	op, err := queue.NewOperation(queue.OpDelete, s.kind, id, nil, s.maxRetries, now)
	if err != nil {
		return err
	}

	if err := s.queue.Enqueue(ctx, op); err != nil {
		return fmt.Errorf("sync: queueing delete of %s: %w", id, err)
	}

	s.kick()

	return nil
}

// PendingOperations returns the queued operations in drain order.
func (s *Service[T]) PendingOperations() []queue.Operation {
	return s.queue.Pending()
}

// Drain pushes queued operations to the remote side now. It reports
// netmon.ErrNetworkUnavailable when the remote is unreachable and
// queue.ErrDrainInProgress when a drain is already running.
func (s *Service[T]) Drain(ctx context.Context) (queue.DrainStats, error) {
	stats, err := s.queue.Drain(ctx, s.execute)
	if errors.Is(err, queue.ErrOffline) {
		return stats, errNetworkUnavailable(err)
	}

	if len(stats.Dropped) > 0 {
		s.logger.Warn("operations dropped after exhausting retries",
			slog.Int("count", len(stats.Dropped)),
		)
	}

	return stats, err
}

// kick starts a background drain when the remote is reachable. The caller
// never waits for it.
func (s *Service[T]) kick() {
	if !s.reachable() {
		return
	}

	s.bg.Add(1)

	go func() {
		defer s.bg.Done()

		if _, err := s.Drain(s.baseCtx); err != nil && !errors.Is(err, queue.ErrDrainInProgress) {
			s.logger.Debug("background drain stopped", slog.String("error", err.Error()))
		}
	}()
}

// Wait blocks until background drains started by local writes finish.
func (s *Service[T]) Wait() {
	s.bg.Wait()
}

// withCompletion stamps the completion time when fields mark a record
// completed without one. Records without a completion field are unchanged.
func withCompletion[T entity.Entity[T]](v T, fields entity.Fields, now time.Time) T {
	if !entity.BoolValue(fields[entity.FieldCompleted]) {
		return v
	}

	current := v.Fields()

	at, has := current[entity.FieldCompletedAt]
	if !has || at != nil {
		return v
	}

	return v.WithFields(entity.Fields{
		entity.FieldCompletedAt: now.UTC().Format(time.RFC3339Nano),
	})
}

// changedFields returns the normalized values of the fields named in patch,
// plus the derived completion time when completion changed.
func changedFields(current, patch entity.Fields) entity.Fields {
	out := make(entity.Fields, len(patch)+1)

	for k := range patch {
		if v, ok := current[k]; ok {
			out[k] = v
		}
	}

	if _, ok := patch[entity.FieldCompleted]; ok {
		if v, has := current[entity.FieldCompletedAt]; has {
			out[entity.FieldCompletedAt] = v
		}
	}

	return out
}
