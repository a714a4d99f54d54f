package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/tonimelisma/todosync/internal/conflict"
	"github.com/tonimelisma/todosync/internal/entity"
	"github.com/tonimelisma/todosync/internal/store"
)

// Conflict is the type-independent view of a conflict waiting for a manual
// choice.
type Conflict struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	Type       conflict.Type     `json:"type"`
	Severity   conflict.Severity `json:"severity"`
	LocalID    string            `json:"localId"`
	RemoteID   string            `json:"remoteId"`
	Title      string            `json:"title"`
	Fields     []string          `json:"fields"`
	DetectedAt time.Time         `json:"detectedAt"`
}

// PendingConflicts returns the conflicts waiting for a manual choice.
func (s *Service[T]) PendingConflicts(ctx context.Context) ([]conflict.Info[T], error) {
	return s.loadConflicts(ctx)
}

// Conflicts returns summaries of the conflicts waiting for a manual choice.
func (s *Service[T]) Conflicts(ctx context.Context) ([]Conflict, error) {
	pending, err := s.loadConflicts(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Conflict, 0, len(pending))
	for i := range pending {
		out = append(out, s.summarize(&pending[i]))
	}

	return out, nil
}

func (s *Service[T]) summarize(c *conflict.Info[T]) Conflict {
	return Conflict{
		ID:         c.ID,
		Kind:       s.kind,
		Type:       c.Type,
		Severity:   c.Severity,
		LocalID:    c.Local.SyncMeta().ID,
		RemoteID:   c.Remote.SyncMeta().ID,
		Title:      entity.StringValue(c.Local.Fields()[entity.FieldTitle]),
		Fields:     c.Fields,
		DetectedAt: c.DetectedAt,
	}
}

// ResolveConflict settles the pending conflict id with choice, which must be
// use-local, use-remote, or merge. The local copy is compared as it is now,
// so edits made since the conflict was detected are not lost.
func (s *Service[T]) ResolveConflict(ctx context.Context, id string, choice conflict.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, err := s.loadConflicts(ctx)
	if err != nil {
		return err
	}

	i := slices.IndexFunc(pending, func(c conflict.Info[T]) bool { return c.ID == id })
	if i < 0 {
		return fmt.Errorf("%w: conflict %s", ErrNotFound, id)
	}

	info := pending[i]
	now := s.nowFunc()

	var p plan

	err = s.coll.Update(ctx, func(items []T) ([]T, error) {
		if j := store.IndexOf(items, info.Local.SyncMeta().ID); j >= 0 {
			info.Local = items[j]
		}

		resolution, err := s.resolver.Choose(&info, choice)
		if err != nil {
			return nil, err
		}

		resolved := s.apply(info.Local, info.Remote, resolution.Resolved, &p, now)

		return replaceItem(items, info.Local.SyncMeta().ID, resolved), nil
	})
	if err != nil {
		return fmt.Errorf("sync: resolving conflict %s: %w", id, err)
	}

	if err := s.saveConflicts(ctx, slices.Delete(pending, i, i+1)); err != nil {
		return err
	}

	if err := p.commit(ctx, s.queue); err != nil {
		return fmt.Errorf("sync: queueing resolution of %s: %w", id, err)
	}

	s.logger.Info("conflict resolved manually",
		slog.String("conflict_id", id),
		slog.String("strategy", choice.String()),
	)

	s.kick()

	return nil
}

// ResolveAll merges every pending conflict and returns how many were
// settled.
func (s *Service[T]) ResolveAll(ctx context.Context) (int, error) {
	pending, err := s.loadConflicts(ctx)
	if err != nil {
		return 0, err
	}

	var (
		n    int
		errs []error
	)

	for i := range pending {
		if err := s.ResolveConflict(ctx, pending[i].ID, conflict.StrategyMerge); err != nil {
			errs = append(errs, err)
			continue
		}

		n++
	}

	return n, errors.Join(errs...)
}

func (s *Service[T]) loadConflicts(ctx context.Context) ([]conflict.Info[T], error) {
	var out []conflict.Info[T]

	_, err := store.LoadJSON(ctx, s.medium, store.ConflictsKey(s.kind), &out)
	if errors.Is(err, store.ErrMalformed) {
		s.logger.Warn("discarding malformed conflict list", slog.String("error", err.Error()))
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("sync: loading %s conflicts: %w", s.kind, err)
	}

	return out, nil
}

func (s *Service[T]) saveConflicts(ctx context.Context, pending []conflict.Info[T]) error {
	if pending == nil {
		pending = []conflict.Info[T]{}
	}

	if err := store.SaveJSON(ctx, s.medium, store.ConflictsKey(s.kind), pending); err != nil {
		return fmt.Errorf("sync: saving %s conflicts: %w", s.kind, err)
	}

	s.conflictCount.Store(int64(len(pending)))

	return nil
}
