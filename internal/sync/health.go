package sync

import (
	"context"
	"time"

	"github.com/tonimelisma/todosync/internal/netmon"
	"github.com/tonimelisma/todosync/internal/store"
)

// Health reports whether a service can write locally and reach the remote.
type Health struct {
	Kind        string `json:"kind"`
	Local       bool   `json:"local"`
	Remote      bool   `json:"remote"`
	LocalError  string `json:"localError,omitempty"`
	RemoteError string `json:"remoteError,omitempty"`
}

// Healthy reports whether both sides are usable.
func (h Health) Healthy() bool { return h.Local && h.Remote }

// Stats is a point-in-time view of a service's sync state.
type Stats struct {
	Kind      string     `json:"kind"`
	Pending   int        `json:"pending"`
	Conflicts int        `json:"conflicts"`
	Syncing   bool       `json:"syncing"`
	LastSync  *time.Time `json:"lastSync,omitempty"`
}

// Health writes and removes a scratch key, then probes the remote side when
// the network is reachable.
func (s *Service[T]) Health(ctx context.Context) Health {
	h := Health{Kind: s.kind}

	key := store.HealthKey(s.kind)

	err := s.medium.Set(ctx, key, s.nowFunc().UTC().Format(time.RFC3339Nano))
	if err == nil {
		err = s.medium.Remove(ctx, key)
	}

	if err != nil {
		h.LocalError = err.Error()
	} else {
		h.Local = true
	}

	switch {
	case !s.reachable():
		h.RemoteError = netmon.ErrNetworkUnavailable.Error()
	case s.health == nil:
		h.Remote = true
	default:
		if err := s.health.Health(ctx); err != nil {
			h.RemoteError = err.Error()
		} else {
			h.Remote = true
		}
	}

	return h
}

// Stats returns the current sync state without touching the medium.
func (s *Service[T]) Stats() Stats {
	return Stats{
		Kind:      s.kind,
		Pending:   s.queue.Len(),
		Conflicts: int(s.conflictCount.Load()),
		Syncing:   s.syncing.Load(),
		LastSync:  s.lastSync.Load(),
	}
}
