package entity

import (
	"fmt"
	"strings"
)

// Project groups tasks.
type Project struct {
	Meta

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
	Archived    bool   `json:"archived"`
}

// SyncMeta implements Entity.
func (p Project) SyncMeta() Meta { return p.Meta }

// WithSyncMeta implements Entity.
func (p Project) WithSyncMeta(m Meta) Project {
	p.Meta = m
	return p
}

// Fields implements Entity.
func (p Project) Fields() Fields {
	return Fields{
		FieldTitle:       p.Title,
		FieldDescription: p.Description,
		FieldColor:       p.Color,
		FieldArchived:    p.Archived,
	}
}

// WithFields implements Entity.
func (p Project) WithFields(f Fields) Project {
	for k, v := range f {
		switch k {
		case FieldTitle:
			p.Title = StringValue(v)
		case FieldDescription:
			p.Description = StringValue(v)
		case FieldColor:
			p.Color = StringValue(v)
		case FieldArchived:
			p.Archived = BoolValue(v)
		}
	}

	return p
}

// Validate implements Entity.
func (p Project) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: project has no id", ErrInvalid)
	}

	if p.CreatedAt.IsZero() {
		return fmt.Errorf("%w: project %s has no creation time", ErrInvalid, p.ID)
	}

	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: project %s has an empty title", ErrInvalid, p.ID)
	}

	return nil
}
