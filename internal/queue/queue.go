package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tonimelisma/todosync/internal/store"
)

// Sentinel errors returned by Drain. Use errors.Is to check.
var (
	// ErrDrainInProgress is returned when another drain of the same queue is
	// already running.
	ErrDrainInProgress = errors.New("queue: drain already in progress")
	// ErrOffline is returned when the gate reports the remote unreachable.
	ErrOffline = errors.New("queue: remote unreachable")
	// ErrRetriesExhausted marks an operation dropped after its last retry.
	ErrRetriesExhausted = errors.New("queue: retries exhausted")
)

const defaultBatchSize = 10

// Gate reports whether remote calls should be attempted right now.
type Gate interface {
	Reachable() bool
}

// Executor performs one operation against the remote side.
type Executor func(ctx context.Context, op Operation) error

// Config holds the options for Open.
type Config struct {
	Medium     store.Medium
	Kind       string // entity type; selects the persistence key
	BatchSize  int
	BatchDelay time.Duration
	Gate       Gate // nil means always reachable
	Logger     *slog.Logger
}

// DrainStats summarizes one drain pass.
type DrainStats struct {
	Succeeded int
	Failed    int
	// Dropped lists the operations removed after exhausting their retries.
	Dropped []Operation
}

// Queue is the persisted FIFO of pending operations for one entity type.
// Every mutation is written back to the medium before the call returns.
type Queue struct {
	medium     store.Medium
	key        string
	batchSize  int
	batchDelay time.Duration
	gate       Gate
	logger     *slog.Logger

	mu  sync.Mutex
	ops []Operation

	draining atomic.Bool
}

// Open loads the queue persisted for cfg.Kind. Corrupt persisted content is
// logged and replaced by an empty queue.
func Open(ctx context.Context, cfg Config) (*Queue, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	q := &Queue{
		medium:     cfg.Medium,
		key:        store.QueueKey(cfg.Kind),
		batchSize:  batchSize,
		batchDelay: cfg.BatchDelay,
		gate:       cfg.Gate,
		logger:     logger,
	}

	var ops []Operation

	_, err := store.LoadJSON(ctx, q.medium, q.key, &ops)
	if errors.Is(err, store.ErrMalformed) {
		logger.Warn("discarding malformed queue",
			slog.String("key", q.key),
			slog.String("error", err.Error()),
		)

		ops = nil
	} else if err != nil {
		return nil, fmt.Errorf("queue: loading %s: %w", q.key, err)
	}

	q.ops = ops

	if len(ops) > 0 {
		logger.Debug("restored pending operations",
			slog.String("key", q.key),
			slog.Int("count", len(ops)),
		)
	}

	return q, nil
}

// Enqueue appends op and persists the queue. The in-memory queue is left
// unchanged when persisting fails.
func (q *Queue) Enqueue(ctx context.Context, op Operation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	next := append(slices.Clone(q.ops), op)
	if err := q.saveLocked(ctx, next); err != nil {
		return err
	}

	q.ops = next

	q.logger.Debug("operation enqueued",
		slog.String("op_id", op.ID),
		slog.String("type", op.Type.String()),
		slog.String("entity_id", op.EntityID),
	)

	return nil
}

// Len returns the number of pending operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.ops)
}

// Pending returns a copy of the pending operations in drain order.
func (q *Queue) Pending() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	return slices.Clone(q.ops)
}

// CountFor returns the number of pending operations targeting entityID.
func (q *Queue) CountFor(entityID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0

	for i := range q.ops {
		if q.ops[i].EntityID == entityID {
			n++
		}
	}

	return n
}

// Remove drops every pending operation targeting entityID and returns how
// many were removed.
func (q *Queue) Remove(ctx context.Context, entityID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	next := slices.DeleteFunc(slices.Clone(q.ops), func(op Operation) bool {
		return op.EntityID == entityID
	})

	removed := len(q.ops) - len(next)
	if removed == 0 {
		return 0, nil
	}

	if err := q.saveLocked(ctx, next); err != nil {
		return 0, err
	}

	q.ops = next

	return removed, nil
}

// Drain executes pending operations in order, batchSize at a time, pausing
// the configured batch delay between batches. The pass stops at the first
// failure: the failed operation stays at the front with RetryCount bumped
// and the rest keep their places. An operation whose retries are exhausted
// is dropped, logged, and the pass continues with the next one.
//
// Drain returns ErrDrainInProgress when another drain is running and
// ErrOffline when the gate reports the remote unreachable.
func (q *Queue) Drain(ctx context.Context, exec Executor) (DrainStats, error) {
	var stats DrainStats

	if !q.draining.CompareAndSwap(false, true) {
		return stats, ErrDrainInProgress
	}
	defer q.draining.Store(false)

	if !q.reachable() {
		return stats, ErrOffline
	}

	limit := rate.Inf
	if q.batchDelay > 0 {
		limit = rate.Every(q.batchDelay)
	}

	limiter := rate.NewLimiter(limit, 1)

	for {
		batch := q.nextBatch()
		if len(batch) == 0 {
			return stats, nil
		}

		if err := limiter.Wait(ctx); err != nil {
			return stats, fmt.Errorf("queue: waiting for next batch: %w", err)
		}

		stop, err := q.runBatch(ctx, batch, exec, &stats)
		if err != nil || stop {
			return stats, err
		}

		if !q.reachable() {
			return stats, nil
		}
	}
}

// runBatch executes batch in order. It reports stop=true when an operation
// failed and should be retried on a later pass.
func (q *Queue) runBatch(ctx context.Context, batch []Operation, exec Executor, stats *DrainStats) (bool, error) {
	for _, op := range batch {
		if err := ctx.Err(); err != nil {
			return true, err
		}

		execErr := exec(ctx, op)
		if execErr == nil {
			stats.Succeeded++

			if err := q.complete(ctx, op); err != nil {
				return true, err
			}

			continue
		}

		outcome, err := q.fail(ctx, op, execErr)
		if err != nil {
			stats.Failed++
			return true, err
		}

		switch outcome {
		case failGone:
			// Superseded while it ran; nothing left to retry or report.
			continue
		case failRetry:
			stats.Failed++
			return true, nil
		case failDropped:
			stats.Failed++
			stats.Dropped = append(stats.Dropped, op)
		}
	}

	return false, nil
}

func (q *Queue) reachable() bool {
	return q.gate == nil || q.gate.Reachable()
}

// nextBatch returns copies of up to batchSize operations from the front.
// Operations stay queued until their outcome is recorded.
func (q *Queue) nextBatch() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(q.batchSize, len(q.ops))

	return slices.Clone(q.ops[:n])
}

// complete removes a successfully executed operation.
func (q *Queue) complete(ctx context.Context, op Operation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(op.ID)
	if i < 0 {
		return nil
	}

	next := slices.Delete(slices.Clone(q.ops), i, i+1)
	if err := q.saveLocked(ctx, next); err != nil {
		return err
	}

	q.ops = next

	return nil
}

// failOutcome is what fail did with a failed operation.
type failOutcome int

const (
	failRetry   failOutcome = iota // kept at the front with its retry count bumped
	failDropped                    // removed after exhausting its retries
	failGone                       // already removed while it executed
)

// fail records a failed attempt.
func (q *Queue) fail(ctx context.Context, op Operation, execErr error) (failOutcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(op.ID)
	if i < 0 {
		return failGone, nil
	}

	next := slices.Clone(q.ops)
	next[i].RetryCount++
	next[i].LastError = execErr.Error()

	dropped := next[i].Exhausted()
	if dropped {
		failed := next[i]
		next = slices.Delete(next, i, i+1)

		q.logger.Error("dropping operation",
			slog.String("op_id", failed.ID),
			slog.String("type", failed.Type.String()),
			slog.String("entity_id", failed.EntityID),
			slog.Int("retries", failed.RetryCount),
			slog.String("error", fmt.Errorf("%w: %w", ErrRetriesExhausted, execErr).Error()),
		)
	} else {
		q.logger.Warn("operation failed, will retry",
			slog.String("op_id", op.ID),
			slog.String("entity_id", op.EntityID),
			slog.Int("retry", next[i].RetryCount),
			slog.Int("max_retries", next[i].MaxRetries),
			slog.String("error", execErr.Error()),
		)
	}

	if err := q.saveLocked(ctx, next); err != nil {
		return failRetry, err
	}

	q.ops = next

	if dropped {
		return failDropped, nil
	}

	return failRetry, nil
}

func (q *Queue) indexLocked(opID string) int {
	return slices.IndexFunc(q.ops, func(op Operation) bool { return op.ID == opID })
}

// saveLocked persists ops. Caller must hold q.mu.
func (q *Queue) saveLocked(ctx context.Context, ops []Operation) error {
	if ops == nil {
		ops = []Operation{}
	}

	if err := store.SaveJSON(ctx, q.medium, q.key, ops); err != nil {
		return fmt.Errorf("queue: persisting %s: %w", q.key, err)
	}

	return nil
}
