// Package queue holds the ordered list of pending remote mutations for one
// entity type. Operations are drained in FIFO order; a failed operation stays
// at the front with its retry count bumped, so mutation order per entity is
// preserved across retries.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OpType identifies the remote mutation an operation performs.
type OpType int

const (
	OpCreate OpType = iota + 1
	OpUpdate
	OpDelete
)

func (t OpType) String() string {
	switch t {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("OpType(%d)", int(t))
	}
}

// MarshalText implements encoding.TextMarshaler so operations persist with
// readable type names.
func (t OpType) MarshalText() ([]byte, error) {
	switch t {
	case OpCreate, OpUpdate, OpDelete:
		return []byte(t.String()), nil
	default:
		return nil, fmt.Errorf("queue: unknown operation type %d", int(t))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *OpType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "create":
		*t = OpCreate
	case "update":
		*t = OpUpdate
	case "delete":
		*t = OpDelete
	default:
		return fmt.Errorf("queue: unknown operation type %q", string(b))
	}

	return nil
}

// Operation is one pending remote mutation. Data holds the full entity for
// creates, the changed fields for updates, and nothing for deletes.
type Operation struct {
	ID         string          `json:"id"`
	Type       OpType          `json:"type"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	RetryCount int             `json:"retryCount"`
	MaxRetries int             `json:"maxRetries"`
	LastError  string          `json:"lastError,omitempty"`
}

// NewOperation builds an operation with a fresh id. data is encoded as JSON;
// pass nil for deletes.
func NewOperation(opType OpType, entityType, entityID string, data any, maxRetries int, now time.Time) (Operation, error) {
	op := Operation{
		ID:         uuid.NewString(),
		Type:       opType,
		EntityType: entityType,
		EntityID:   entityID,
		Timestamp:  now,
		MaxRetries: maxRetries,
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Operation{}, fmt.Errorf("queue: encoding %s data for %s: %w", opType, entityID, err)
		}

		op.Data = raw
	}

	return op, nil
}

// Exhausted reports whether the operation has used up its retries.
func (op Operation) Exhausted() bool {
	return op.RetryCount >= op.MaxRetries
}
