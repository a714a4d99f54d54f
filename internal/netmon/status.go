// Package netmon tracks connectivity to the remote authority: whether the
// device is online, whether the server answers its health probe, how fast,
// and over what kind of link. From those it derives a 0-100 quality score
// and the sync cadence that score recommends.
package netmon

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNetworkUnavailable is returned by callers that skip remote work because
// the device is offline or the server did not answer its last probe.
var ErrNetworkUnavailable = errors.New("netmon: network unavailable")

// ConnectionType is the link type reported by the runtime.
type ConnectionType string

const (
	ConnUnknown  ConnectionType = "unknown"
	ConnEthernet ConnectionType = "ethernet"
	ConnWiFi     ConnectionType = "wifi"
	ConnSlow2G   ConnectionType = "slow-2g"
	Conn2G       ConnectionType = "2g"
	Conn3G       ConnectionType = "3g"
	Conn4G       ConnectionType = "4g"
	Conn5G       ConnectionType = "5g"
)

// connectionAdjustment is added to the quality score per link type.
var connectionAdjustment = map[ConnectionType]int{
	ConnSlow2G: -60,
	Conn2G:     -40,
	Conn3G:     -20,
	Conn4G:     -10,
	Conn5G:     10,
}

// ParseConnectionType maps a runtime-reported name onto a ConnectionType.
// Unrecognized names map to ConnUnknown.
func ParseConnectionType(s string) ConnectionType {
	switch ct := ConnectionType(s); ct {
	case ConnEthernet, ConnWiFi, ConnSlow2G, Conn2G, Conn3G, Conn4G, Conn5G:
		return ct
	default:
		return ConnUnknown
	}
}

// Strategy is the sync cadence recommended for the current quality.
type Strategy int

const (
	StrategyDisabled Strategy = iota
	StrategyBatch
	StrategyDelayed
	StrategyImmediate
)

func (s Strategy) String() string {
	switch s {
	case StrategyImmediate:
		return "immediate"
	case StrategyDelayed:
		return "delayed"
	case StrategyBatch:
		return "batch"
	case StrategyDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Quality thresholds for each strategy.
const (
	immediateThreshold = 80
	delayedThreshold   = 50
	batchThreshold     = 20
)

// StrategyFor returns the strategy recommended for quality q.
func StrategyFor(q int) Strategy {
	switch {
	case q >= immediateThreshold:
		return StrategyImmediate
	case q >= delayedThreshold:
		return StrategyDelayed
	case q >= batchThreshold:
		return StrategyBatch
	default:
		return StrategyDisabled
	}
}

// Status is an immutable snapshot of connectivity. Quality and Strategy are
// derived from the other fields.
type Status struct {
	Online              bool           `json:"online"`
	ServerReachable     bool           `json:"serverReachable"`
	ConnectionType      ConnectionType `json:"connectionType"`
	Latency             time.Duration  `json:"latency"`
	ConsecutiveFailures int            `json:"consecutiveFailures"`
	LastCheck           time.Time      `json:"lastCheck"`
	Quality             int            `json:"quality"`
	Strategy            Strategy       `json:"strategy"`
}

// Reachable reports whether remote calls should be attempted.
func (s Status) Reachable() bool {
	return s.Online && s.ServerReachable
}

const (
	maxFailurePenalty = 50
	failurePenalty    = 15
)

// Quality scores s from 0 to 100. An offline status scores 0.
func Quality(s Status) int {
	if !s.Online {
		return 0
	}

	q := 100 - latencyPenalty(s.Latency) + connectionAdjustment[s.ConnectionType]
	q -= min(s.ConsecutiveFailures*failurePenalty, maxFailurePenalty)

	return max(0, min(100, q))
}

func latencyPenalty(d time.Duration) int {
	switch ms := d.Milliseconds(); {
	case ms > 2000:
		return 50
	case ms > 1000:
		return 30
	case ms > 500:
		return 15
	case ms > 200:
		return 5
	default:
		return 0
	}
}

// State holds the current Status. It is created by the host process and
// injected into the monitor and anything else that needs a consistent view.
type State struct {
	mu     sync.RWMutex
	status Status
}

// NewState returns a state that assumes the device is online and the server
// has not been probed yet.
func NewState() *State {
	s := &State{}
	s.status = derive(Status{Online: true, ConnectionType: ConnUnknown})

	return s
}

// Snapshot returns the current status.
func (s *State) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.status
}

// update applies fn and recomputes the derived fields. It returns the
// previous and the new status.
func (s *State) update(fn func(*Status)) (Status, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.status
	next := prev
	fn(&next)
	s.status = derive(next)

	return prev, s.status
}

func derive(s Status) Status {
	s.Quality = Quality(s)
	s.Strategy = StrategyFor(s.Quality)

	return s
}
