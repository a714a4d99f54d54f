// Package entity defines the records managed by the sync core: the shared
// sync metadata every record carries, the concrete task and project types,
// and the identifier and title helpers used to pair local and remote copies.
package entity

import (
	"errors"
	"time"
)

// ErrInvalid is returned by Validate when a record fails the structural check.
var ErrInvalid = errors.New("entity: invalid record")

// Meta is the sync metadata shared by every entity. ID is immutable after
// creation. Synced is true only after the remote side acknowledged the
// current local state.
type Meta struct {
	ID           string     `json:"id"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	Synced       bool       `json:"synced"`
	LastSyncTime *time.Time `json:"lastSyncTime,omitempty"`
	SyncError    string     `json:"syncError,omitempty"`
}

// Touch records a local mutation: UpdatedAt moves to now and the record is
// no longer considered synced.
func (m Meta) Touch(now time.Time) Meta {
	m.UpdatedAt = now
	m.Synced = false

	return m
}

// MarkSynced records a successful remote acknowledgment.
func (m Meta) MarkSynced(now time.Time) Meta {
	m.Synced = true
	m.LastSyncTime = &now
	m.SyncError = ""

	return m
}

// MarkFailed records a failed remote attempt. The record stays unsynced.
func (m Meta) MarkFailed(msg string) Meta {
	m.Synced = false
	m.SyncError = msg

	return m
}

// Entity is implemented by every record type the sync core manages. T is the
// implementing type itself: all mutators return a fresh value so snapshots
// handed to callers are never changed underneath them.
type Entity[T any] interface {
	SyncMeta() Meta
	WithSyncMeta(m Meta) T
	// Fields returns the business fields keyed by their JSON names.
	Fields() Fields
	// WithFields applies the keys present in f and leaves the rest untouched.
	WithFields(f Fields) T
	Validate() error
}
