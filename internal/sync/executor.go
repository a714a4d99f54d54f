package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/todosync/internal/entity"
	"github.com/tonimelisma/todosync/internal/netmon"
	"github.com/tonimelisma/todosync/internal/queue"
	"github.com/tonimelisma/todosync/internal/remote"
	"github.com/tonimelisma/todosync/internal/store"
)

// execute performs one queued operation against the remote side and records
// the outcome on the local copy.
func (s *Service[T]) execute(ctx context.Context, op queue.Operation) error {
	var err error

	switch op.Type {
	case queue.OpCreate:
		err = s.pushCreate(ctx, op)
	case queue.OpUpdate:
		err = s.pushUpdate(ctx, op)
	case queue.OpDelete:
		err = s.pushDelete(ctx, op)
	default:
		return fmt.Errorf("sync: unknown operation type %d", op.Type)
	}

	if err != nil {
		if op.Type != queue.OpDelete {
			s.recordFailure(ctx, op.EntityID, err)
		}

		return err
	}

	return nil
}

func (s *Service[T]) pushCreate(ctx context.Context, op queue.Operation) error {
	var v T
	if err := json.Unmarshal(op.Data, &v); err != nil {
		return fmt.Errorf("sync: decoding create of %s: %w", op.EntityID, err)
	}

	created, err := s.remote.Create(ctx, v)

	switch {
	case errors.Is(err, remote.ErrConflict):
		// An earlier attempt reached the server before its response was lost.
		s.logger.Debug("create already applied remotely", slog.String("id", op.EntityID))
		return s.recordSuccess(ctx, op.EntityID)
	case err != nil:
		return err
	}

	if got := created.SyncMeta().ID; got != op.EntityID {
		s.logger.Info("server assigned a different id, pairing on next sync",
			slog.String("local_id", op.EntityID),
			slog.String("remote_id", got),
		)

		return nil
	}

	return s.recordSuccess(ctx, op.EntityID)
}

func (s *Service[T]) pushUpdate(ctx context.Context, op queue.Operation) error {
	var fields entity.Fields
	if err := json.Unmarshal(op.Data, &fields); err != nil {
		return fmt.Errorf("sync: decoding update of %s: %w", op.EntityID, err)
	}

	if _, err := s.remote.Patch(ctx, op.EntityID, fields); err != nil {
		return err
	}

	return s.recordSuccess(ctx, op.EntityID)
}

func (s *Service[T]) pushDelete(ctx context.Context, op queue.Operation) error {
	err := s.remote.Delete(ctx, op.EntityID)
	if errors.Is(err, remote.ErrNotFound) {
		return nil
	}

	return err
}

// recordSuccess marks the local copy synced unless further operations for it
// are still queued. The operation being executed is itself still queued.
func (s *Service[T]) recordSuccess(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue.CountFor(id) > 1 {
		return nil
	}

	now := s.nowFunc()

	return s.coll.Update(ctx, func(items []T) ([]T, error) {
		if i := store.IndexOf(items, id); i >= 0 {
			items[i] = items[i].WithSyncMeta(items[i].SyncMeta().MarkSynced(now))
		}

		return items, nil
	})
}

// recordFailure stores the remote error on the local copy. A failure to
// write it is logged; the queue already tracks the retry.
func (s *Service[T]) recordFailure(ctx context.Context, id string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.coll.Update(ctx, func(items []T) ([]T, error) {
		if i := store.IndexOf(items, id); i >= 0 {
			items[i] = items[i].WithSyncMeta(items[i].SyncMeta().MarkFailed(cause.Error()))
		}

		return items, nil
	})
	if err != nil {
		s.logger.Warn("recording sync error",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
	}
}

func errNetworkUnavailable(err error) error {
	return fmt.Errorf("%w: %w", netmon.ErrNetworkUnavailable, err)
}
