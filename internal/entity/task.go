package entity

import (
	"fmt"
	"strings"
	"time"
)

// Priority bounds for tasks.
const (
	MinPriority = 1
	MaxPriority = 5
)

// Task is a single to-do item.
type Task struct {
	Meta

	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Completed        bool       `json:"completed"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	Priority         *int       `json:"priority,omitempty"`
	EstimatedMinutes *int       `json:"estimatedMinutes,omitempty"`
	DueDate          *time.Time `json:"dueDate,omitempty"`
	ProjectID        string     `json:"projectId,omitempty"`
}

// SyncMeta implements Entity.
func (t Task) SyncMeta() Meta { return t.Meta }

// WithSyncMeta implements Entity.
func (t Task) WithSyncMeta(m Meta) Task {
	t.Meta = m
	return t
}

// Fields implements Entity.
func (t Task) Fields() Fields {
	return Fields{
		FieldTitle:            t.Title,
		FieldDescription:      t.Description,
		FieldCompleted:        t.Completed,
		FieldCompletedAt:      formatTime(t.CompletedAt),
		FieldPriority:         formatInt(t.Priority),
		FieldEstimatedMinutes: formatInt(t.EstimatedMinutes),
		FieldDueDate:          formatTime(t.DueDate),
		FieldProjectID:        t.ProjectID,
	}
}

// WithFields implements Entity. Unknown keys are ignored. Marking a task
// incomplete clears its completion time.
func (t Task) WithFields(f Fields) Task {
	for k, v := range f {
		switch k {
		case FieldTitle:
			t.Title = StringValue(v)
		case FieldDescription:
			t.Description = StringValue(v)
		case FieldCompleted:
			t.Completed = BoolValue(v)
		case FieldCompletedAt:
			t.CompletedAt = parseTime(v)
		case FieldPriority:
			t.Priority = intPtr(v)
		case FieldEstimatedMinutes:
			t.EstimatedMinutes = intPtr(v)
		case FieldDueDate:
			t.DueDate = parseTime(v)
		case FieldProjectID:
			t.ProjectID = StringValue(v)
		}
	}

	if !t.Completed {
		t.CompletedAt = nil
	}

	return t
}

// Validate implements Entity.
func (t Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: task has no id", ErrInvalid)
	}

	if t.CreatedAt.IsZero() {
		return fmt.Errorf("%w: task %s has no creation time", ErrInvalid, t.ID)
	}

	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: task %s has an empty title", ErrInvalid, t.ID)
	}

	if t.Priority != nil && (*t.Priority < MinPriority || *t.Priority > MaxPriority) {
		return fmt.Errorf("%w: task %s priority %d outside %d-%d",
			ErrInvalid, t.ID, *t.Priority, MinPriority, MaxPriority)
	}

	if t.EstimatedMinutes != nil && *t.EstimatedMinutes < 0 {
		return fmt.Errorf("%w: task %s has a negative estimate", ErrInvalid, t.ID)
	}

	return nil
}
