package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/todosync/internal/conflict"
	"github.com/tonimelisma/todosync/internal/netmon"
)

func TestSyncAll_ResultsInOrderWithPanicRecovery(t *testing.T) {
	a := &fakeSyncer{kind: "tasks", result: Result{Success: true}}
	b := &fakeSyncer{kind: "projects", panics: true}

	o := NewOrchestrator(OrchestratorConfig{
		Monitor:  newFakeMonitor(reachableStatus(netmon.StrategyImmediate)),
		Services: []Syncer{a, b},
	})

	results := o.SyncAll(context.Background())
	require.Len(t, results, 2)

	assert.Equal(t, "tasks", results[0].Kind)
	assert.True(t, results[0].Success)

	assert.Equal(t, "projects", results[1].Kind)
	assert.False(t, results[1].Success)
	require.Error(t, results[1].Err())
	assert.Contains(t, results[1].Err().Error(), "panic in projects")

	assert.Nil(t, o.Status().LastSync, "a failed round does not count as a sync")

	b.panics = false
	b.result = Result{Success: true}

	o.SyncAll(context.Background())
	assert.NotNil(t, o.Status().LastSync)
}

func TestSyncAll_NoServices(t *testing.T) {
	o := NewOrchestrator(OrchestratorConfig{Monitor: newFakeMonitor(netmon.Status{})})
	assert.Nil(t, o.SyncAll(context.Background()))
}

func TestOrchestrator_DrainsOnReconnect(t *testing.T) {
	a := &fakeSyncer{kind: "tasks", result: Result{Success: true}}

	offline := reachableStatus(netmon.StrategyImmediate)
	offline.ServerReachable = false

	mon := newFakeMonitor(offline)

	o := NewOrchestrator(OrchestratorConfig{
		Monitor:   mon,
		Services:  []Syncer{a},
		Intervals: Intervals{Immediate: time.Hour},
	})

	o.Start(context.Background())
	defer o.Stop()

	mon.publish(reachableStatus(netmon.StrategyImmediate))

	assert.Eventually(t, func() bool { return a.drains.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Staying reachable does not drain again.
	mon.publish(reachableStatus(netmon.StrategyImmediate))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), a.drains.Load())
}

func TestOrchestrator_TimerFollowsStrategy(t *testing.T) {
	a := &fakeSyncer{kind: "tasks", result: Result{Success: true}}
	mon := newFakeMonitor(reachableStatus(netmon.StrategyImmediate))

	o := NewOrchestrator(OrchestratorConfig{
		Monitor:   mon,
		Services:  []Syncer{a},
		Intervals: Intervals{Immediate: 10 * time.Millisecond, Delayed: time.Hour, Batch: time.Hour},
	})

	o.Start(context.Background())
	defer o.Stop()

	assert.Eventually(t, func() bool { return a.syncs.Load() >= 2 }, time.Second, 5*time.Millisecond)

	mon.publish(reachableStatus(netmon.StrategyDisabled))
	time.Sleep(30 * time.Millisecond)

	before := a.syncs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, a.syncs.Load(), "a disabled strategy stops automatic syncing")
}

func TestOrchestrator_UpdateIntervalsReschedules(t *testing.T) {
	a := &fakeSyncer{kind: "tasks", result: Result{Success: true}}

	o := NewOrchestrator(OrchestratorConfig{
		Monitor:   newFakeMonitor(reachableStatus(netmon.StrategyDelayed)),
		Services:  []Syncer{a},
		Intervals: Intervals{Delayed: time.Hour},
	})

	o.Start(context.Background())
	defer o.Stop()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, a.syncs.Load())

	o.UpdateIntervals(Intervals{Delayed: 10 * time.Millisecond})

	assert.Eventually(t, func() bool { return a.syncs.Load() > 0 }, time.Second, 5*time.Millisecond)
}

func TestOrchestrator_StopEndsLoop(t *testing.T) {
	a := &fakeSyncer{kind: "tasks", result: Result{Success: true}}

	o := NewOrchestrator(OrchestratorConfig{
		Monitor:   newFakeMonitor(reachableStatus(netmon.StrategyImmediate)),
		Services:  []Syncer{a},
		Intervals: Intervals{Immediate: 5 * time.Millisecond},
	})

	o.Start(context.Background())
	assert.Eventually(t, func() bool { return a.syncs.Load() > 0 }, time.Second, 5*time.Millisecond)

	o.Stop()

	after := a.syncs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, a.syncs.Load())
}

func TestOrchestrator_ResolveManuallyRoutesToOwner(t *testing.T) {
	a := &fakeSyncer{kind: "tasks", conflicts: []Conflict{{ID: "c1", Kind: "tasks"}}}
	b := &fakeSyncer{kind: "projects", conflicts: []Conflict{{ID: "c2", Kind: "projects"}}}

	o := NewOrchestrator(OrchestratorConfig{
		Monitor:  newFakeMonitor(netmon.Status{}),
		Services: []Syncer{a, b},
	})

	ctx := context.Background()

	all, err := o.Conflicts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, o.ResolveManually(ctx, "c2", conflict.StrategyUseLocal))
	assert.Empty(t, a.resolved)
	assert.Equal(t, []string{"c2"}, b.resolved)

	assert.ErrorIs(t, o.ResolveManually(ctx, "nope", conflict.StrategyMerge), ErrNotFound)
	assert.Error(t, o.ResolveManually(ctx, "c1", conflict.StrategyManual))
	assert.Empty(t, a.resolved)

	n, err := o.ResolveAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOrchestrator_StatusAggregates(t *testing.T) {
	a := &fakeSyncer{kind: "tasks", stats: Stats{Pending: 2, Conflicts: 1}}
	b := &fakeSyncer{kind: "projects", stats: Stats{Pending: 3}}

	o := NewOrchestrator(OrchestratorConfig{
		Monitor:  newFakeMonitor(reachableStatus(netmon.StrategyImmediate)),
		Services: []Syncer{a},
	})
	o.Register(b)

	st := o.Status()
	assert.Equal(t, 5, st.Pending)
	assert.Equal(t, 1, st.Conflicts)
	assert.False(t, st.Syncing)
	require.Len(t, st.Services, 2)
	assert.Equal(t, "projects", st.Services[1].Kind)
	assert.Equal(t, "1 conflict needs attention", o.StatusText())

	health := o.Health(context.Background())
	require.Len(t, health, 2)
	assert.True(t, health[1].Healthy())
}

func TestOrchestrator_StatusLastSyncFromServices(t *testing.T) {
	older := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	o := NewOrchestrator(OrchestratorConfig{
		Monitor: newFakeMonitor(reachableStatus(netmon.StrategyImmediate)),
		Services: []Syncer{
			&fakeSyncer{kind: "tasks", stats: Stats{LastSync: &older}},
			&fakeSyncer{kind: "projects", stats: Stats{LastSync: &newer}},
		},
	})

	st := o.Status()
	require.NotNil(t, st.LastSync, "a fresh orchestrator reports the services' persisted times")
	assert.True(t, newer.Equal(*st.LastSync))

	empty := NewOrchestrator(OrchestratorConfig{
		Monitor:  newFakeMonitor(netmon.Status{}),
		Services: []Syncer{&fakeSyncer{kind: "tasks"}},
	})
	assert.Nil(t, empty.Status().LastSync)
}

func TestOrchestrator_SetOptionsReachesServices(t *testing.T) {
	a := &fakeSyncer{kind: "tasks"}

	o := NewOrchestrator(OrchestratorConfig{
		Monitor:  newFakeMonitor(netmon.Status{}),
		Services: []Syncer{a},
	})

	o.SetOptions(conflict.Options{AutoMerge: true})
	assert.True(t, a.opts.AutoMerge)
}

func TestStatusText(t *testing.T) {
	online := reachableStatus(netmon.StrategyImmediate)
	unreachable := online
	unreachable.ServerReachable = false

	tests := []struct {
		name string
		st   Status
		want string
	}{
		{"offline", Status{Network: netmon.Status{}}, "Offline"},
		{"unreachable", Status{Network: unreachable, Pending: 3}, "Server unreachable"},
		{"syncing", Status{Network: online, Syncing: true, Conflicts: 1}, "Syncing"},
		{"conflicts", Status{Network: online, Conflicts: 2, Pending: 1}, "2 conflicts need attention"},
		{"one pending", Status{Network: online, Pending: 1}, "1 change waiting to sync"},
		{"pending", Status{Network: online, Pending: 4}, "4 changes waiting to sync"},
		{"clean", Status{Network: online}, "Up to date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusText(tt.st))
		})
	}
}

func TestIntervals(t *testing.T) {
	iv := Intervals{Immediate: time.Second}.withDefaults()

	assert.Equal(t, time.Second, iv.For(netmon.StrategyImmediate))
	assert.Equal(t, DefaultIntervals.Delayed, iv.For(netmon.StrategyDelayed))
	assert.Equal(t, DefaultIntervals.Batch, iv.For(netmon.StrategyBatch))
	assert.Zero(t, iv.For(netmon.StrategyDisabled))
}

func TestBackoffDuration(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0},
		{2, 0},
		{3, time.Minute},
		{4, 5 * time.Minute},
		{5, 15 * time.Minute},
		{6, 30 * time.Minute},
		{20, 30 * time.Minute},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, backoffDuration(tt.failures), "failures=%d", tt.failures)
	}
}
