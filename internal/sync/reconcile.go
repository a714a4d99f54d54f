package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/todosync/internal/conflict"
	"github.com/tonimelisma/todosync/internal/entity"
	"github.com/tonimelisma/todosync/internal/netmon"
	"github.com/tonimelisma/todosync/internal/queue"
)

// Result summarizes one Sync of a service. Success is false when the pass
// could not complete; operations that failed and stay queued for a later
// pass do not make it false.
type Result struct {
	Kind      string        `json:"kind"`
	Success   bool          `json:"success"`
	Synced    int           `json:"synced"`
	Failed    int           `json:"failed"`
	Dropped   int           `json:"dropped"`
	Pulled    int           `json:"pulled"`
	Removed   int           `json:"removed"`
	Skipped   int           `json:"skipped"`
	Resolved  int           `json:"resolved"`
	Conflicts int           `json:"conflicts"`
	Duration  time.Duration `json:"duration"`
	Errors    []error       `json:"-"`
}

// Err joins the errors recorded during the pass.
func (r Result) Err() error {
	return errors.Join(r.Errors...)
}

// Sync pushes queued operations, fetches the remote collection, and
// reconciles it with the local one. Records paired by id or by title are
// compared; conflicts are resolved automatically where the options allow
// and kept for a manual choice otherwise. Resolutions that change the
// remote copy are queued and pushed before Sync returns.
func (s *Service[T]) Sync(ctx context.Context) Result {
	start := s.nowFunc()
	res := Result{Kind: s.kind}

	if !s.syncing.CompareAndSwap(false, true) {
		res.Errors = append(res.Errors, ErrSyncInProgress)
		return res
	}
	defer s.syncing.Store(false)

	if !s.reachable() {
		res.Errors = append(res.Errors, netmon.ErrNetworkUnavailable)
		return res
	}

	s.drainInto(ctx, &res)

	remoteItems, err := s.remote.List(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("sync: listing %s: %w", s.kind, err))
		return res
	}

	queued, err := s.reconcile(ctx, remoteItems, &res)
	if err != nil {
		res.Errors = append(res.Errors, err)
		return res
	}

	if queued {
		s.drainInto(ctx, &res)
	}

	res.Duration = s.nowFunc().Sub(start)
	res.Success = len(res.Errors) == 0

	if res.Success {
		s.recordSync(ctx, s.nowFunc())
	}

	s.logger.Info("sync complete",
		slog.Bool("success", res.Success),
		slog.Int("synced", res.Synced),
		slog.Int("failed", res.Failed),
		slog.Int("pulled", res.Pulled),
		slog.Int("resolved", res.Resolved),
		slog.Int("skipped", res.Skipped),
		slog.Int("conflicts", res.Conflicts),
		slog.Duration("duration", res.Duration),
	)

	return res
}

func (s *Service[T]) drainInto(ctx context.Context, res *Result) {
	stats, err := s.Drain(ctx)

	res.Synced += stats.Succeeded
	res.Failed += stats.Failed
	res.Dropped += len(stats.Dropped)

	if err != nil && !errors.Is(err, queue.ErrDrainInProgress) {
		res.Errors = append(res.Errors, err)
	}
}

// plan collects the queue changes a reconciliation implies. They are applied
// only after the reconciled collection has been written.
type plan struct {
	drop []string
	ops  []queue.Operation
	err  error
}

func (p *plan) add(opType queue.OpType, kind, id string, data any, maxRetries int, now time.Time) {
	if p.err != nil {
		return
	}

	op, err := queue.NewOperation(opType, kind, id, data, maxRetries, now)
	if err != nil {
		p.err = err
		return
	}

	p.ops = append(p.ops, op)
}

// commit applies the plan to q.
func (p *plan) commit(ctx context.Context, q *queue.Queue) error {
	if p.err != nil {
		return p.err
	}

	for _, id := range p.drop {
		if _, err := q.Remove(ctx, id); err != nil {
			return err
		}
	}

	for _, op := range p.ops {
		if err := q.Enqueue(ctx, op); err != nil {
			return err
		}
	}

	return nil
}

// reconciler holds the state of one reconciliation pass.
type reconciler[T entity.Entity[T]] struct {
	s       *Service[T]
	now     time.Time
	opts    conflict.Options
	prior   map[[2]string]string
	invalid map[string]bool
	pending []conflict.Info[T]
	plan    plan
	res     *Result
}

// reconcile merges remoteItems into the local collection. It reports whether
// new operations were queued.
func (s *Service[T]) reconcile(ctx context.Context, remoteItems []T, res *Result) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prior, err := s.loadConflicts(ctx)
	if err != nil {
		return false, err
	}

	rc := &reconciler[T]{
		s:       s,
		now:     s.nowFunc(),
		opts:    s.options(),
		prior:   make(map[[2]string]string, len(prior)),
		invalid: make(map[string]bool),
		res:     res,
	}

	for _, c := range prior {
		rc.prior[[2]string{c.Local.SyncMeta().ID, c.Remote.SyncMeta().ID}] = c.ID
	}

	err = s.coll.Update(ctx, func(local []T) ([]T, error) {
		return rc.run(local, remoteItems), nil
	})
	if err != nil {
		return false, fmt.Errorf("sync: writing reconciled %s: %w", s.kind, err)
	}

	if err := s.saveConflicts(ctx, rc.pending); err != nil {
		return false, err
	}

	res.Conflicts = len(rc.pending)

	if err := rc.plan.commit(ctx, s.queue); err != nil {
		return false, fmt.Errorf("sync: queueing reconciled %s: %w", s.kind, err)
	}

	return len(rc.plan.ops) > 0, nil
}

func (rc *reconciler[T]) run(local, remoteItems []T) []T {
	remotes := make([]T, 0, len(remoteItems))
	byID := make(map[string]int, len(remoteItems))

	for _, r := range remoteItems {
		if err := r.Validate(); err != nil {
			rc.s.logger.Warn("skipping invalid remote record", slog.String("error", err.Error()))

			if id := r.SyncMeta().ID; id != "" {
				rc.invalid[id] = true
			}

			rc.res.Skipped++

			continue
		}

		byID[r.SyncMeta().ID] = len(remotes)
		remotes = append(remotes, r.WithSyncMeta(r.SyncMeta().MarkSynced(rc.now)))
	}

	paired := make([]bool, len(remotes))
	out := make([]T, 0, len(local)+len(remotes))

	var unpaired []T

	for _, l := range local {
		i, ok := byID[l.SyncMeta().ID]

		// The server still has this record; its copy just can't be read.
		if !ok && rc.invalid[l.SyncMeta().ID] {
			out = append(out, l)
			continue
		}

		if !ok {
			unpaired = append(unpaired, l)
			continue
		}

		paired[i] = true
		out = append(out, rc.pair(l, remotes[i], false))
	}

	for _, l := range unpaired {
		if i := matchByTitle(l, remotes, paired); i >= 0 {
			paired[i] = true
			out = append(out, rc.pair(l, remotes[i], true))

			continue
		}

		if rc.keepLocalOnly(l) {
			out = append(out, l)
		}
	}

	for i, r := range remotes {
		if paired[i] {
			continue
		}

		// A delete of this record is still waiting to be pushed.
		if rc.s.queue.CountFor(r.SyncMeta().ID) > 0 {
			continue
		}

		out = append(out, r)
		rc.res.Pulled++
	}

	return out
}

// pair reconciles a local record with its remote counterpart and returns the
// record to store.
func (rc *reconciler[T]) pair(l, r T, duplicate bool) T {
	lm, rm := l.SyncMeta(), r.SyncMeta()

	if !duplicate {
		queued := rc.s.queue.CountFor(lm.ID) > 0
		remoteUnchanged := lm.LastSyncTime != nil && !rm.UpdatedAt.After(*lm.LastSyncTime)

		switch {
		case lm.Synced && !queued:
			if len(l.Fields().Diff(r.Fields())) > 0 {
				rc.res.Pulled++
			}

			return r
		case !lm.Synced && remoteUnchanged:
			if !queued {
				changed := l.Fields().Diff(r.Fields())
				if len(changed) > 0 {
					rc.plan.add(queue.OpUpdate, rc.s.kind, lm.ID, changedFields(l.Fields(), keysOf(changed)), rc.s.maxRetries, rc.now)
				}
			}

			return l
		}
	}

	var info *conflict.Info[T]
	if duplicate {
		info = rc.s.detector.DetectDuplicate(l, r)
	} else {
		info = rc.s.detector.Detect(l, r)
	}

	if info == nil {
		return r
	}

	if id, ok := rc.prior[[2]string{lm.ID, rm.ID}]; ok {
		info.ID = id
	}

	resolution := rc.s.resolver.Resolve(info, rc.opts)
	if resolution.Strategy == conflict.StrategyManual {
		rc.pending = append(rc.pending, *info)

		rc.s.logger.Info("conflict needs a manual choice",
			slog.String("conflict_id", info.ID),
			slog.String("type", info.Type.String()),
			slog.String("severity", info.Severity.String()),
			slog.String("id", lm.ID),
		)

		return l
	}

	rc.res.Resolved++

	rc.s.logger.Info("conflict resolved",
		slog.String("type", info.Type.String()),
		slog.String("strategy", resolution.Strategy.String()),
		slog.String("reason", resolution.Reason),
		slog.String("local_id", lm.ID),
		slog.String("remote_id", rm.ID),
	)

	return rc.s.apply(l, r, resolution.Resolved, &rc.plan, rc.now)
}

// keepLocalOnly decides the fate of a local record with no remote
// counterpart. Unsynced records are kept and queued if nothing is queued for
// them; synced ones were deleted remotely and are dropped.
func (rc *reconciler[T]) keepLocalOnly(l T) bool {
	m := l.SyncMeta()

	switch {
	case rc.s.queue.CountFor(m.ID) > 0:
		return true
	case !m.Synced:
		rc.s.logger.Info("requeueing unsynced record", slog.String("id", m.ID))
		rc.plan.add(queue.OpCreate, rc.s.kind, m.ID, l, rc.s.maxRetries, rc.now)

		return true
	default:
		rc.res.Removed++
		return false
	}
}

// apply turns a resolved record into the copy to store and the queue changes
// that bring the remote side in line. Operations queued for the local copy
// before the resolution are superseded.
func (s *Service[T]) apply(l, r, resolved T, p *plan, now time.Time) T {
	lid, rid := l.SyncMeta().ID, r.SyncMeta().ID
	meta := resolved.SyncMeta()

	p.drop = append(p.drop, lid)

	if meta.ID != rid {
		// The local id survives: recreate remotely and retire the remote id.
		meta.Synced = false
		resolved = resolved.WithSyncMeta(meta)

		p.add(queue.OpCreate, s.kind, meta.ID, resolved, s.maxRetries, now)
		p.add(queue.OpDelete, s.kind, rid, nil, s.maxRetries, now)

		return resolved
	}

	changed := resolved.Fields().Diff(r.Fields())
	if len(changed) == 0 {
		return resolved.WithSyncMeta(meta.MarkSynced(now))
	}

	meta.Synced = false
	resolved = resolved.WithSyncMeta(meta)

	p.add(queue.OpUpdate, s.kind, rid, changedFields(resolved.Fields(), keysOf(changed)), s.maxRetries, now)

	return resolved
}

// matchByTitle returns the index of the first unpaired remote record whose
// id format differs from l's and whose normalized title equals l's, or -1.
func matchByTitle[T entity.Entity[T]](l T, remotes []T, paired []bool) int {
	format := entity.ClassifyID(l.SyncMeta().ID)
	title := entity.NormalizeTitle(entity.StringValue(l.Fields()[entity.FieldTitle]))

	if title == "" {
		return -1
	}

	for i, r := range remotes {
		if paired[i] || entity.ClassifyID(r.SyncMeta().ID) == format {
			continue
		}

		if entity.NormalizeTitle(entity.StringValue(r.Fields()[entity.FieldTitle])) == title {
			return i
		}
	}

	return -1
}

func keysOf(names []string) entity.Fields {
	f := make(entity.Fields, len(names))
	for _, n := range names {
		f[n] = nil
	}

	return f
}

// replaceItem stores v in place of the record with oldID, removing any other
// copy carrying v's id. v is appended when neither id is present.
func replaceItem[T entity.Entity[T]](items []T, oldID string, v T) []T {
	newID := v.SyncMeta().ID
	out := make([]T, 0, len(items)+1)
	placed := false

	for _, it := range items {
		id := it.SyncMeta().ID
		if id != oldID && id != newID {
			out = append(out, it)
			continue
		}

		if !placed {
			out = append(out, v)
			placed = true
		}
	}

	if !placed {
		out = append(out, v)
	}

	return out
}
