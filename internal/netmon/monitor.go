package netmon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default probe settings.
const (
	DefaultInterval    = 30 * time.Second
	DefaultTimeout     = 5 * time.Second
	DefaultRetries     = 2
	DefaultBackoffStep = time.Second
)

// Config holds the options for New.
type Config struct {
	State       *State // nil creates a fresh state
	Prober      Prober
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	BackoffStep time.Duration
	Logger      *slog.Logger
}

// Monitor probes the server, folds runtime signals into the shared State and
// broadcasts every new snapshot to subscribers.
type Monitor struct {
	state       *State
	prober      Prober
	interval    time.Duration
	timeout     time.Duration
	retries     int
	backoffStep time.Duration
	logger      *slog.Logger

	// nowFunc and sleepFunc are overridden by tests.
	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error

	subsMu sync.Mutex
	subs   map[int]chan Status
	nextID int

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a monitor. Zero durations take the defaults. Zero retries
// means a single attempt; a negative count takes DefaultRetries.
func New(cfg Config) *Monitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	state := cfg.State
	if state == nil {
		state = NewState()
	}

	m := &Monitor{
		state:       state,
		prober:      cfg.Prober,
		interval:    orDefault(cfg.Interval, DefaultInterval),
		timeout:     orDefault(cfg.Timeout, DefaultTimeout),
		retries:     cfg.Retries,
		backoffStep: orDefault(cfg.BackoffStep, DefaultBackoffStep),
		logger:      logger,
		nowFunc:     time.Now,
		sleepFunc:   timeSleep,
		subs:        make(map[int]chan Status),
		kick:        make(chan struct{}, 1),
	}

	if m.retries < 0 {
		m.retries = DefaultRetries
	}

	return m
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}

	return d
}

// Status returns the current snapshot.
func (m *Monitor) Status() Status { return m.state.Snapshot() }

// Reachable reports whether remote calls should be attempted now.
func (m *Monitor) Reachable() bool { return m.state.Snapshot().Reachable() }

// Quality returns the current quality score.
func (m *Monitor) Quality() int { return m.state.Snapshot().Quality }

// Strategy returns the currently recommended sync strategy.
func (m *Monitor) Strategy() Strategy { return m.state.Snapshot().Strategy }

// CheckReachability probes the server, retrying up to retries more times
// with a linearly growing pause (attempt x backoff step) between attempts.
// Each attempt is bounded by timeout. The outcome is recorded once: success
// resets the failure count and records latency, failure bumps the count.
// When the runtime reports the device offline no probe is sent.
func (m *Monitor) CheckReachability(ctx context.Context, timeout time.Duration, retries int) bool {
	if !m.state.Snapshot().Online {
		return false
	}

	if m.prober == nil {
		m.publish(func(s *Status) {
			s.ServerReachable = true
			s.ConsecutiveFailures = 0
			s.LastCheck = m.nowFunc()
		})

		return true
	}

	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := m.sleepFunc(ctx, time.Duration(attempt)*m.backoffStep); err != nil {
				lastErr = err
				break
			}
		}

		latency, err := m.probeOnce(ctx, timeout)
		if err == nil {
			m.publish(func(s *Status) {
				s.Online = true
				s.ServerReachable = true
				s.Latency = latency
				s.ConsecutiveFailures = 0
				s.LastCheck = m.nowFunc()
			})

			return true
		}

		lastErr = err

		m.logger.Debug("reachability probe failed",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	next := m.publish(func(s *Status) {
		s.ServerReachable = false
		s.ConsecutiveFailures++
		s.LastCheck = m.nowFunc()
	})

	m.logger.Warn("server unreachable",
		slog.Int("consecutive_failures", next.ConsecutiveFailures),
		slog.String("error", errString(lastErr)),
	)

	return false
}

func (m *Monitor) probeOnce(ctx context.Context, timeout time.Duration) (time.Duration, error) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := m.nowFunc()
	err := m.prober.Probe(probeCtx)

	return m.nowFunc().Sub(start), err
}

// NotifyOnline records the runtime's online/offline signal. Going offline
// also marks the server unreachable; coming back online triggers a probe
// when the monitor is running.
func (m *Monitor) NotifyOnline(online bool) {
	m.publish(func(s *Status) {
		s.Online = online
		if !online {
			s.ServerReachable = false
		}
	})

	if online {
		select {
		case m.kick <- struct{}{}:
		default:
		}
	}
}

// NotifyConnectionType records a link type change reported by the runtime.
func (m *Monitor) NotifyConnectionType(ct ConnectionType) {
	m.publish(func(s *Status) {
		s.ConnectionType = ct
	})
}

// Subscribe returns a channel receiving every new snapshot and a function
// that unsubscribes and closes the channel. The channel holds one snapshot;
// a slow reader sees only the latest.
func (m *Monitor) Subscribe() (<-chan Status, func()) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	id := m.nextID
	m.nextID++

	ch := make(chan Status, 1)
	m.subs[id] = ch

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			m.subsMu.Lock()
			defer m.subsMu.Unlock()

			delete(m.subs, id)
			close(ch)
		})
	}
}

// publish updates the state and broadcasts the new snapshot.
func (m *Monitor) publish(fn func(*Status)) Status {
	prev, next := m.state.update(fn)

	if prev.Reachable() != next.Reachable() || prev.Strategy != next.Strategy {
		m.logger.Info("network status changed",
			slog.Bool("reachable", next.Reachable()),
			slog.Int("quality", next.Quality),
			slog.String("strategy", next.Strategy.String()),
		)
	}

	m.broadcast(next)

	return next
}

func (m *Monitor) broadcast(s Status) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	for _, ch := range m.subs {
		// Replace a stale unread snapshot with the latest one.
		select {
		case ch <- s:
			continue
		default:
		}

		select {
		case <-ch:
		default:
		}

		select {
		case ch <- s:
		default:
		}
	}
}

// Start probes immediately and then every interval until Stop or ctx is
// canceled. A NotifyOnline(true) triggers an extra probe.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		m.run(ctx)
	}()
}

func (m *Monitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.CheckReachability(ctx, m.timeout, m.retries)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.kick:
		}

		m.CheckReachability(ctx, m.timeout, m.retries)
	}
}

// Stop ends the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}

	m.wg.Wait()
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
