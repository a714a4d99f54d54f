package entity

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"time"
)

// Business field names shared across entity types.
const (
	FieldTitle            = "title"
	FieldDescription      = "description"
	FieldCompleted        = "completed"
	FieldCompletedAt      = "completedAt"
	FieldPriority         = "priority"
	FieldEstimatedMinutes = "estimatedMinutes"
	FieldDueDate          = "dueDate"
	FieldProjectID        = "projectId"
	FieldColor            = "color"
	FieldArchived         = "archived"
)

// derivedFields follow from other fields and are never compared on their own.
var derivedFields = map[string]bool{
	FieldCompletedAt: true,
}

// Fields is a snapshot of an entity's business fields. Values are string,
// bool, int or nil; timestamps are RFC 3339 strings in UTC.
type Fields map[string]any

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}

	return out
}

// Diff returns the sorted names of compared fields whose values differ
// between f and other. Derived fields are skipped.
func (f Fields) Diff(other Fields) []string {
	keys := make(map[string]bool, len(f)+len(other))
	for k := range f {
		keys[k] = true
	}

	for k := range other {
		keys[k] = true
	}

	var diff []string

	for k := range keys {
		if derivedFields[k] {
			continue
		}

		if !valuesEqual(f[k], other[k]) {
			diff = append(diff, k)
		}
	}

	sort.Strings(diff)

	return diff
}

// valuesEqual compares two field values after normalizing numeric types that
// arrive as float64 or json.Number from decoded JSON patches.
func valuesEqual(a, b any) bool {
	if ai, ok := IntValue(a); ok {
		bi, ok := IntValue(b)
		return ok && ai == bi
	}

	if isEmpty(a) && isEmpty(b) {
		return true
	}

	return a == b
}

// isEmpty treats nil and the empty string as the same absent value, so an
// omitted optional string does not count as a change.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}

	s, ok := v.(string)

	return ok && s == ""
}

// IntValue converts a field value to int. It accepts the numeric types that
// JSON decoding produces.
func IntValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}

		return int(n), true
	case json.Number:
		i, err := strconv.Atoi(n.String())
		if err != nil {
			return 0, false
		}

		return i, true
	default:
		return 0, false
	}
}

// StringValue returns v as a string, or "" when it is not one.
func StringValue(v any) string {
	s, _ := v.(string)
	return s
}

// BoolValue returns v as a bool, or false when it is not one.
func BoolValue(v any) bool {
	b, _ := v.(bool)
	return b
}

// formatTime renders an optional timestamp as a field value.
func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}

	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime reads an optional timestamp field value. Unparseable values
// clear the timestamp.
func parseTime(v any) *time.Time {
	s := StringValue(v)
	if s == "" {
		return nil
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}

	return &t
}

// intPtr reads an optional integer field value.
func intPtr(v any) *int {
	n, ok := IntValue(v)
	if !ok {
		return nil
	}

	return &n
}

// formatInt renders an optional integer as a field value.
func formatInt(p *int) any {
	if p == nil {
		return nil
	}

	return *p
}
