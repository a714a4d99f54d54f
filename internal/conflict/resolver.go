package conflict

import (
	"fmt"
	"time"

	"github.com/tonimelisma/todosync/internal/entity"
)

// Confidence levels attached to resolutions.
const (
	ConfidenceCanonical = 0.9
	ConfidenceRecent    = 0.8
	ConfidenceMerge     = 0.75
	ConfidenceCreatedAt = 0.6
	ConfidenceManual    = 0.3
	ConfidenceUser      = 1.0
)

// Resolver turns detected conflicts into resolved records.
type Resolver[T entity.Entity[T]] struct {
	nowFunc func() time.Time
}

// NewResolver returns a resolver using the wall clock.
func NewResolver[T entity.Entity[T]]() *Resolver[T] {
	return &Resolver[T]{nowFunc: time.Now}
}

// Resolve picks a resolution for info according to opts. A StrategyManual
// result carries the local copy unchanged as a placeholder; the conflict
// stays pending until a choice is applied with Choose.
func (r *Resolver[T]) Resolve(info *Info[T], opts Options) Resolution[T] {
	switch info.Type {
	case TypeIDFormat:
		return r.resolveIDFormat(info, opts)
	case TypeConcurrentModification:
		if opts.PreferRecent {
			return r.pickRecent(info, opts)
		}

		return r.merge(info, "concurrent edits merged")
	case TypeDataInconsistency:
		if opts.AutoMerge && len(info.Fields) <= 2 && !atThreshold(info.Severity, opts.ConflictThreshold) {
			return r.merge(info, "small inconsistency merged automatically")
		}

		return Resolution[T]{
			Strategy:   StrategyManual,
			Resolved:   info.Local,
			Reason:     fmt.Sprintf("%d fields disagree, needs a manual choice", len(info.Fields)),
			Confidence: ConfidenceManual,
		}
	case TypeMergeConflict:
		return r.merge(info, "merge conflict merged")
	default:
		return Resolution[T]{
			Strategy:   StrategyManual,
			Resolved:   info.Local,
			Reason:     "unknown conflict type " + info.Type.String(),
			Confidence: ConfidenceManual,
		}
	}
}

// Choose applies a user's choice to info. Only use-local, use-remote and
// merge are accepted.
func (r *Resolver[T]) Choose(info *Info[T], choice Strategy) (Resolution[T], error) {
	var res Resolution[T]

	switch choice {
	case StrategyUseLocal:
		res = r.win(info.Local, StrategyUseLocal, "local copy chosen", ConfidenceUser)
	case StrategyUseRemote:
		res = r.win(info.Remote, StrategyUseRemote, "remote copy chosen", ConfidenceUser)
	case StrategyMerge:
		res = r.merge(info, "merge chosen")
		res.Confidence = ConfidenceUser
	case StrategyManual, StrategyCreateBoth:
		return res, fmt.Errorf("conflict: %s is not a manual choice", choice)
	default:
		return res, fmt.Errorf("conflict: unknown choice %s", choice)
	}

	return res, nil
}

func atThreshold(sev, threshold Severity) bool {
	return threshold != 0 && sev >= threshold
}

// resolveIDFormat keeps the canonical id. When exactly one side has a
// canonical id it wins, taking the other side's edits when those are newer.
// Otherwise the older record wins.
func (r *Resolver[T]) resolveIDFormat(info *Info[T], opts Options) Resolution[T] {
	lm, rm := info.Local.SyncMeta(), info.Remote.SyncMeta()
	localCanonical := entity.IsCanonicalID(lm.ID)
	remoteCanonical := entity.IsCanonicalID(rm.ID)

	if localCanonical != remoteCanonical {
		winner, other, strategy := info.Remote, info.Local, StrategyUseRemote
		if localCanonical {
			winner, other, strategy = info.Local, info.Remote, StrategyUseLocal
		}

		if other.SyncMeta().UpdatedAt.After(winner.SyncMeta().UpdatedAt) {
			now := r.nowFunc()
			merged := winner.WithFields(other.Fields())
			meta := winner.SyncMeta()
			meta.CreatedAt = earliest(lm.CreatedAt, rm.CreatedAt)
			meta.UpdatedAt = now

			return Resolution[T]{
				Strategy:   StrategyMerge,
				Resolved:   merged.WithSyncMeta(meta.MarkSynced(now)),
				Reason:     "canonical id kept with newer edits from " + other.SyncMeta().ID,
				Confidence: ConfidenceCanonical,
			}
		}

		return r.win(winner, strategy, "canonical id "+winner.SyncMeta().ID+" kept", ConfidenceCanonical)
	}

	localWins := lm.CreatedAt.Before(rm.CreatedAt) ||
		(lm.CreatedAt.Equal(rm.CreatedAt) && opts.PreferLocal)
	if localWins {
		return r.win(info.Local, StrategyUseLocal, "local copy created first", ConfidenceCreatedAt)
	}

	return r.win(info.Remote, StrategyUseRemote, "remote copy created first", ConfidenceCreatedAt)
}

// pickRecent lets the later edit win. Equal update times go to the remote
// copy unless PreferLocal is set.
func (r *Resolver[T]) pickRecent(info *Info[T], opts Options) Resolution[T] {
	lu, ru := info.Local.SyncMeta().UpdatedAt, info.Remote.SyncMeta().UpdatedAt

	if lu.After(ru) || (lu.Equal(ru) && opts.PreferLocal) {
		return r.win(info.Local, StrategyUseLocal, "local edit is more recent", ConfidenceRecent)
	}

	return r.win(info.Remote, StrategyUseRemote, "remote edit is more recent", ConfidenceRecent)
}

func (r *Resolver[T]) win(v T, strategy Strategy, reason string, confidence float64) Resolution[T] {
	return Resolution[T]{
		Strategy:   strategy,
		Resolved:   v.WithSyncMeta(v.SyncMeta().MarkSynced(r.nowFunc())),
		Reason:     reason,
		Confidence: confidence,
	}
}

// merge combines both copies field by field on top of the more recently
// updated one. Longer text wins, completion is sticky, and the higher
// priority is kept.
func (r *Resolver[T]) merge(info *Info[T], reason string) Resolution[T] {
	base, other := info.Local, info.Remote
	if other.SyncMeta().UpdatedAt.After(base.SyncMeta().UpdatedAt) {
		base, other = other, base
	}

	merged := mergeFields(base.Fields(), other.Fields())

	now := r.nowFunc()
	meta := base.SyncMeta()
	meta.CreatedAt = earliest(info.Local.SyncMeta().CreatedAt, info.Remote.SyncMeta().CreatedAt)
	meta.UpdatedAt = now

	return Resolution[T]{
		Strategy:   StrategyMerge,
		Resolved:   base.WithFields(merged).WithSyncMeta(meta.MarkSynced(now)),
		Reason:     reason,
		Confidence: ConfidenceMerge,
	}
}

func mergeFields(base, other entity.Fields) entity.Fields {
	out := base.Clone()

	for _, k := range []string{entity.FieldTitle, entity.FieldDescription} {
		if _, ok := out[k]; !ok {
			continue
		}

		ours, theirs := entity.StringValue(base[k]), entity.StringValue(other[k])
		if len(theirs) > len(ours) {
			out[k] = theirs
		}
	}

	if _, ok := out[entity.FieldCompleted]; ok {
		switch {
		case entity.BoolValue(base[entity.FieldCompleted]):
			out[entity.FieldCompletedAt] = base[entity.FieldCompletedAt]
		case entity.BoolValue(other[entity.FieldCompleted]):
			out[entity.FieldCompleted] = true
			out[entity.FieldCompletedAt] = other[entity.FieldCompletedAt]
		}
	}

	if _, ok := out[entity.FieldPriority]; ok {
		bp, bok := entity.IntValue(base[entity.FieldPriority])
		op, ook := entity.IntValue(other[entity.FieldPriority])

		switch {
		case bok && ook:
			out[entity.FieldPriority] = max(bp, op)
		case ook:
			out[entity.FieldPriority] = op
		}
	}

	return out
}

func earliest(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}

	return a
}
