package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	gosync "sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/todosync/internal/conflict"
	"github.com/tonimelisma/todosync/internal/netmon"
	"github.com/tonimelisma/todosync/internal/queue"
)

// Syncer is the type-independent face of a Service that the Orchestrator
// drives. Implemented by *Service[T]; tests use fakes.
type Syncer interface {
	Kind() string
	Sync(ctx context.Context) Result
	Drain(ctx context.Context) (queue.DrainStats, error)
	Conflicts(ctx context.Context) ([]Conflict, error)
	ResolveConflict(ctx context.Context, id string, choice conflict.Strategy) error
	ResolveAll(ctx context.Context) (int, error)
	Health(ctx context.Context) Health
	Stats() Stats
	SetOptions(opts conflict.Options)
}

// NetworkMonitor publishes connectivity snapshots. Implemented by
// *netmon.Monitor.
type NetworkMonitor interface {
	Status() netmon.Status
	Subscribe() (<-chan netmon.Status, func())
}

// Intervals are the automatic sync periods for each recommended strategy.
type Intervals struct {
	Immediate time.Duration
	Delayed   time.Duration
	Batch     time.Duration
}

// DefaultIntervals are used for any zero field of OrchestratorConfig.Intervals.
var DefaultIntervals = Intervals{
	Immediate: 30 * time.Second,
	Delayed:   2 * time.Minute,
	Batch:     5 * time.Minute,
}

// For returns the period for strategy, or 0 when syncing is disabled.
func (iv Intervals) For(strategy netmon.Strategy) time.Duration {
	switch strategy {
	case netmon.StrategyImmediate:
		return iv.Immediate
	case netmon.StrategyDelayed:
		return iv.Delayed
	case netmon.StrategyBatch:
		return iv.Batch
	case netmon.StrategyDisabled:
		return 0
	default:
		return 0
	}
}

func (iv Intervals) withDefaults() Intervals {
	if iv.Immediate <= 0 {
		iv.Immediate = DefaultIntervals.Immediate
	}

	if iv.Delayed <= 0 {
		iv.Delayed = DefaultIntervals.Delayed
	}

	if iv.Batch <= 0 {
		iv.Batch = DefaultIntervals.Batch
	}

	return iv
}

// OrchestratorConfig holds the inputs for NewOrchestrator.
type OrchestratorConfig struct {
	Monitor   NetworkMonitor // required
	Services  []Syncer
	Intervals Intervals
	Logger    *slog.Logger
}

// Status is a snapshot of the whole sync core.
type Status struct {
	Syncing   bool          `json:"syncing"`
	LastSync  *time.Time    `json:"lastSync,omitempty"`
	Conflicts int           `json:"conflicts"`
	Pending   int           `json:"pending"`
	Network   netmon.Status `json:"network"`
	Services  []Stats       `json:"services"`
}

// Orchestrator runs every registered service: it drains queues when the
// remote becomes reachable again and syncs on a timer whose period follows
// the network's recommended strategy.
type Orchestrator struct {
	monitor NetworkMonitor
	logger  *slog.Logger
	nowFunc func() time.Time

	mu        gosync.RWMutex
	services  []Syncer
	intervals Intervals

	active   atomic.Int32
	lastSync atomic.Pointer[time.Time]

	// failures counts consecutive failed automatic rounds. Only the run
	// goroutine touches it.
	failures int

	resetCh chan struct{}
	cancel  context.CancelFunc
	wg      gosync.WaitGroup
}

// NewOrchestrator returns an orchestrator for cfg.Services. Call Start to
// begin automatic syncing.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		monitor:   cfg.Monitor,
		logger:    logger,
		nowFunc:   time.Now,
		services:  slices.Clone(cfg.Services),
		intervals: cfg.Intervals.withDefaults(),
		resetCh:   make(chan struct{}, 1),
	}
}

// Register adds a service.
func (o *Orchestrator) Register(s Syncer) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.services = append(o.services, s)
}

func (o *Orchestrator) snapshot() []Syncer {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return slices.Clone(o.services)
}

// UpdateIntervals replaces the automatic sync periods and reschedules the
// pending timer.
func (o *Orchestrator) UpdateIntervals(iv Intervals) {
	o.mu.Lock()
	o.intervals = iv.withDefaults()
	o.mu.Unlock()

	select {
	case o.resetCh <- struct{}{}:
	default:
	}
}

// SetOptions replaces the conflict options of every service.
func (o *Orchestrator) SetOptions(opts conflict.Options) {
	for _, s := range o.snapshot() {
		s.SetOptions(opts)
	}
}

// SyncAll syncs every service concurrently and returns one Result per
// service in registration order. A panicking service yields a failed Result.
func (o *Orchestrator) SyncAll(ctx context.Context) []Result {
	services := o.snapshot()
	if len(services) == 0 {
		return nil
	}

	o.active.Add(1)
	defer o.active.Add(-1)

	results := make([]Result, len(services))

	g, gctx := errgroup.WithContext(ctx)

	for i, s := range services {
		g.Go(func() error {
			results[i] = runSync(gctx, s)
			return nil
		})
	}

	_ = g.Wait()

	if !slices.ContainsFunc(results, func(r Result) bool { return !r.Success }) {
		now := o.nowFunc()
		o.lastSync.Store(&now)
	}

	return results
}

// DrainAll pushes every service's queue. Services skipped because the
// network is down or a drain is already running do not count as failures.
func (o *Orchestrator) DrainAll(ctx context.Context) error {
	var g errgroup.Group

	for _, s := range o.snapshot() {
		g.Go(func() error {
			stats, err := s.Drain(ctx)
			if err != nil && !errors.Is(err, queue.ErrDrainInProgress) && !errors.Is(err, netmon.ErrNetworkUnavailable) {
				return fmt.Errorf("sync: draining %s: %w", s.Kind(), err)
			}

			if stats.Succeeded > 0 || stats.Failed > 0 {
				o.logger.Info("drained queue",
					slog.String("kind", s.Kind()),
					slog.Int("succeeded", stats.Succeeded),
					slog.Int("failed", stats.Failed),
				)
			}

			return nil
		})
	}

	return g.Wait()
}

// Conflicts lists the pending conflicts of every service.
func (o *Orchestrator) Conflicts(ctx context.Context) ([]Conflict, error) {
	var (
		out  []Conflict
		errs []error
	)

	for _, s := range o.snapshot() {
		cs, err := s.Conflicts(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		out = append(out, cs...)
	}

	return out, errors.Join(errs...)
}

// ResolveManually settles the conflict with conflictID using choice, which
// must be use-local, use-remote, or merge.
func (o *Orchestrator) ResolveManually(ctx context.Context, conflictID string, choice conflict.Strategy) error {
	switch choice {
	case conflict.StrategyUseLocal, conflict.StrategyUseRemote, conflict.StrategyMerge:
	case conflict.StrategyManual, conflict.StrategyCreateBoth:
		return fmt.Errorf("sync: %s is not a manual choice", choice)
	default:
		return fmt.Errorf("sync: unknown choice %s", choice)
	}

	for _, s := range o.snapshot() {
		cs, err := s.Conflicts(ctx)
		if err != nil {
			return err
		}

		if slices.ContainsFunc(cs, func(c Conflict) bool { return c.ID == conflictID }) {
			return s.ResolveConflict(ctx, conflictID, choice)
		}
	}

	return fmt.Errorf("%w: conflict %s", ErrNotFound, conflictID)
}

// ResolveAll merges every pending conflict across services.
func (o *Orchestrator) ResolveAll(ctx context.Context) (int, error) {
	var (
		total int
		errs  []error
	)

	for _, s := range o.snapshot() {
		n, err := s.ResolveAll(ctx)
		total += n

		if err != nil {
			errs = append(errs, err)
		}
	}

	return total, errors.Join(errs...)
}

// Health checks every service concurrently.
func (o *Orchestrator) Health(ctx context.Context) []Health {
	services := o.snapshot()
	out := make([]Health, len(services))

	var g errgroup.Group

	for i, s := range services {
		g.Go(func() error {
			out[i] = s.Health(ctx)
			return nil
		})
	}

	_ = g.Wait()

	return out
}

// Status returns a snapshot of sync state and network conditions.
func (o *Orchestrator) Status() Status {
	st := Status{
		Syncing:  o.active.Load() > 0,
		LastSync: o.lastSync.Load(),
		Network:  o.monitor.Status(),
	}

	for _, s := range o.snapshot() {
		stats := s.Stats()
		st.Services = append(st.Services, stats)
		st.Conflicts += stats.Conflicts
		st.Pending += stats.Pending
		st.Syncing = st.Syncing || stats.Syncing

		// Service times are persisted; o.lastSync only covers this process.
		if stats.LastSync != nil && (st.LastSync == nil || stats.LastSync.After(*st.LastSync)) {
			st.LastSync = stats.LastSync
		}
	}

	return st
}

// StatusText summarizes Status in one line for display.
func (o *Orchestrator) StatusText() string {
	return StatusText(o.Status())
}

// StatusText renders st in one line. Connectivity problems take precedence
// over conflicts, which take precedence over pending changes.
func StatusText(st Status) string {
	switch {
	case !st.Network.Online:
		return "Offline"
	case !st.Network.ServerReachable:
		return "Server unreachable"
	case st.Syncing:
		return "Syncing"
	case st.Conflicts > 0:
		return fmt.Sprintf("%d %s", st.Conflicts, plural(st.Conflicts, "conflict needs attention", "conflicts need attention"))
	case st.Pending > 0:
		return fmt.Sprintf("%d %s waiting to sync", st.Pending, plural(st.Pending, "change", "changes"))
	default:
		return "Up to date"
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}

	return many
}

// Start subscribes to the monitor and runs the automatic sync loop until
// ctx is canceled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)

	updates, unsubscribe := o.monitor.Subscribe()
	last := o.monitor.Status()

	o.wg.Add(1)

	go func() {
		defer o.wg.Done()
		defer unsubscribe()

		o.run(ctx, last, updates)
	}()
}

// Stop ends the loop and waits for the current round to finish.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}

	o.wg.Wait()
}

func (o *Orchestrator) run(ctx context.Context, last netmon.Status, updates <-chan netmon.Status) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	o.schedule(timer, last.Strategy)

	o.logger.Info("orchestrator started",
		slog.Int("services", len(o.snapshot())),
		slog.String("strategy", last.Strategy.String()),
	)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("orchestrator stopped")
			return

		case st, ok := <-updates:
			if !ok {
				return
			}

			if st.Reachable() && !last.Reachable() {
				o.logger.Info("remote reachable again, draining queues")

				if err := o.DrainAll(ctx); err != nil {
					o.logger.Warn("drain after reconnect failed", slog.String("error", err.Error()))
				}
			}

			if st.Strategy != last.Strategy {
				o.schedule(timer, st.Strategy)
			}

			last = st

		case <-o.resetCh:
			o.schedule(timer, last.Strategy)

		case <-timer.C:
			if last.Strategy != netmon.StrategyDisabled && last.Reachable() {
				o.autoSync(ctx)
			}

			o.schedule(timer, last.Strategy)
		}
	}
}

func (o *Orchestrator) autoSync(ctx context.Context) {
	results := o.SyncAll(ctx)

	var errs []error

	for _, r := range results {
		if !r.Success {
			errs = append(errs, r.Err())
		}
	}

	if len(errs) == 0 {
		o.failures = 0
		return
	}

	o.failures++

	o.logger.Warn("automatic sync failed",
		slog.Int("consecutive_failures", o.failures),
		slog.String("error", errors.Join(errs...).Error()),
	)
}

// schedule arms timer for the period strategy recommends, plus any failure
// backoff. A disabled strategy leaves the timer stopped.
func (o *Orchestrator) schedule(timer *time.Timer, strategy netmon.Strategy) {
	timer.Stop()

	o.mu.RLock()
	d := o.intervals.For(strategy)
	o.mu.RUnlock()

	if d <= 0 {
		return
	}

	timer.Reset(d + backoffDuration(o.failures))
}
