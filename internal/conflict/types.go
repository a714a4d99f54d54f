// Package conflict classifies disagreements between a local and a remote
// copy of the same record and turns each classified conflict into a single
// resolved record.
package conflict

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnresolved marks a conflict that needs a manual choice before the
// record can be synced.
var ErrUnresolved = errors.New("conflict: unresolved")

// Type classifies why two copies disagree.
type Type int

const (
	TypeIDFormat Type = iota + 1
	TypeConcurrentModification
	TypeDataInconsistency
	TypeMergeConflict
)

var typeNames = map[Type]string{
	TypeIDFormat:               "id-format",
	TypeConcurrentModification: "concurrent-modification",
	TypeDataInconsistency:      "data-inconsistency",
	TypeMergeConflict:          "merge-conflict",
}

func (t Type) String() string { return enumString(typeNames, t, "Type") }

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) { return enumMarshal(typeNames, t, "type") }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(b []byte) error { return enumUnmarshal(typeNames, t, b, "type") }

// Severity orders conflicts from least to most disruptive. The zero value
// means unset.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

func (s Severity) String() string { return enumString(severityNames, s, "Severity") }

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) { return enumMarshal(severityNames, s, "severity") }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	return enumUnmarshal(severityNames, s, b, "severity")
}

// ParseSeverity parses a severity name such as "high".
func ParseSeverity(name string) (Severity, error) {
	var s Severity
	err := s.UnmarshalText([]byte(name))

	return s, err
}

// Strategy is how a resolution was reached.
type Strategy int

const (
	StrategyUseLocal Strategy = iota + 1
	StrategyUseRemote
	StrategyMerge
	StrategyManual
	StrategyCreateBoth
)

var strategyNames = map[Strategy]string{
	StrategyUseLocal:   "use-local",
	StrategyUseRemote:  "use-remote",
	StrategyMerge:      "merge",
	StrategyManual:     "manual",
	StrategyCreateBoth: "create-both",
}

func (s Strategy) String() string { return enumString(strategyNames, s, "Strategy") }

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) { return enumMarshal(strategyNames, s, "strategy") }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(b []byte) error {
	return enumUnmarshal(strategyNames, s, b, "strategy")
}

// Info describes one detected conflict. Only the detector creates it;
// afterwards the only change is attaching a Resolution.
type Info[T any] struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	Severity   Severity       `json:"severity"`
	Local      T              `json:"local"`
	Remote     T              `json:"remote"`
	Fields     []string       `json:"fields"`
	DetectedAt time.Time      `json:"detectedAt"`
	Resolution *Resolution[T] `json:"resolution,omitempty"`
}

// Resolution is the outcome of resolving a conflict. Confidence is in [0,1].
type Resolution[T any] struct {
	Strategy   Strategy `json:"strategy"`
	Resolved   T        `json:"resolved"`
	Reason     string   `json:"reason"`
	Confidence float64  `json:"confidence"`
}

// Options steer automatic resolution.
type Options struct {
	// PreferLocal breaks ties in favor of the local copy.
	PreferLocal bool
	// PreferRecent lets the later edit win concurrent modifications outright
	// instead of merging.
	PreferRecent bool
	// AutoMerge allows merging data inconsistencies touching at most two
	// fields.
	AutoMerge bool
	// ConflictThreshold, when set, refuses auto-merge for conflicts at or
	// above this severity.
	ConflictThreshold Severity
}

func enumString[E ~int](names map[E]string, v E, typeName string) string {
	if n, ok := names[v]; ok {
		return n
	}

	return fmt.Sprintf("%s(%d)", typeName, int(v))
}

func enumMarshal[E ~int](names map[E]string, v E, what string) ([]byte, error) {
	n, ok := names[v]
	if !ok {
		return nil, fmt.Errorf("conflict: unknown %s %d", what, int(v))
	}

	return []byte(n), nil
}

func enumUnmarshal[E ~int](names map[E]string, v *E, b []byte, what string) error {
	for k, n := range names {
		if n == string(b) {
			*v = k
			return nil
		}
	}

	return fmt.Errorf("conflict: unknown %s %q", what, string(b))
}
