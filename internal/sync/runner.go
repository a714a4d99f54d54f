package sync

import (
	"context"
	"fmt"
	"time"
)

// Backoff applied to the automatic sync timer after consecutive failed
// rounds. Threshold: 3 consecutive failures before any backoff is applied.
const (
	backoffThreshold = 3
	backoffMaxCap    = 30 * time.Minute
)

// backoffSteps maps consecutive failure counts (starting at the threshold)
// to their backoff durations: 3→1m, 4→5m, 5→15m, 6+→30m.
var backoffSteps = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	backoffMaxCap,
}

// runSync executes one service's Sync with panic recovery, so a panic in one
// service becomes an error in its Result and the others carry on.
func runSync(ctx context.Context, s Syncer) (result Result) {
	kind := s.Kind()

	defer func() {
		if r := recover(); r != nil {
			result = Result{
				Kind:   kind,
				Errors: []error{fmt.Errorf("sync: panic in %s: %v", kind, r)},
			}
		}
	}()

	return s.Sync(ctx)
}

// backoffDuration returns the extra delay for the given number of
// consecutive failed rounds. Returns 0 below backoffThreshold.
func backoffDuration(failures int) time.Duration {
	if failures < backoffThreshold {
		return 0
	}

	idx := failures - backoffThreshold
	if idx >= len(backoffSteps) {
		return backoffMaxCap
	}

	return backoffSteps[idx]
}
