package conflict

import (
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/todosync/internal/entity"
)

// ConcurrentWindow is the largest gap between the two copies' update times
// that still counts as a concurrent modification.
const ConcurrentWindow = 60 * time.Second

// Detector compares local and remote copies of records of type T.
type Detector[T entity.Entity[T]] struct {
	nowFunc func() time.Time
}

// NewDetector returns a detector using the wall clock.
func NewDetector[T entity.Entity[T]]() *Detector[T] {
	return &Detector[T]{nowFunc: time.Now}
}

// Detect classifies the disagreement between local and remote. It returns
// nil when no business field differs; a difference in update time alone is
// not a conflict.
func (d *Detector[T]) Detect(local, remote T) *Info[T] {
	fields := local.Fields().Diff(remote.Fields())
	if len(fields) == 0 {
		return nil
	}

	return d.build(classify(local, remote), local, remote, fields)
}

// DetectDuplicate classifies two records that were paired by title rather
// than id. The result is always an id-format conflict, even when every
// business field agrees, because the two ids still have to be reconciled.
func (d *Detector[T]) DetectDuplicate(local, remote T) *Info[T] {
	fields := local.Fields().Diff(remote.Fields())

	return d.build(TypeIDFormat, local, remote, fields)
}

func (d *Detector[T]) build(typ Type, local, remote T, fields []string) *Info[T] {
	if fields == nil {
		fields = []string{}
	}

	return &Info[T]{
		ID:         uuid.NewString(),
		Type:       typ,
		Severity:   severity(typ, len(fields)),
		Local:      local,
		Remote:     remote,
		Fields:     fields,
		DetectedAt: d.nowFunc(),
	}
}

func classify[T entity.Entity[T]](local, remote T) Type {
	lm, rm := local.SyncMeta(), remote.SyncMeta()

	if entity.ClassifyID(lm.ID) != entity.ClassifyID(rm.ID) && sameTitle(local, remote) {
		return TypeIDFormat
	}

	if absDuration(lm.UpdatedAt.Sub(rm.UpdatedAt)) < ConcurrentWindow {
		return TypeConcurrentModification
	}

	return TypeDataInconsistency
}

// severity starts from the type's base level and escalates with the number
// of differing fields. The higher level wins.
func severity(typ Type, fieldCount int) Severity {
	sev := SeverityLow

	switch typ {
	case TypeIDFormat:
		sev = SeverityHigh
	case TypeConcurrentModification:
		sev = SeverityMedium
	case TypeDataInconsistency, TypeMergeConflict:
	}

	switch {
	case fieldCount > 3:
		sev = SeverityCritical
	case fieldCount > 1:
		sev = max(sev, SeverityHigh)
	}

	return sev
}

func sameTitle[T entity.Entity[T]](a, b T) bool {
	at := entity.NormalizeTitle(entity.StringValue(a.Fields()[entity.FieldTitle]))
	bt := entity.NormalizeTitle(entity.StringValue(b.Fields()[entity.FieldTitle]))

	return at != "" && at == bt
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}

	return d
}
