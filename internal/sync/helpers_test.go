package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"slices"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/todosync/internal/conflict"
	"github.com/tonimelisma/todosync/internal/devapi"
	"github.com/tonimelisma/todosync/internal/entity"
	"github.com/tonimelisma/todosync/internal/netmon"
	"github.com/tonimelisma/todosync/internal/queue"
	"github.com/tonimelisma/todosync/internal/remote"
	"github.com/tonimelisma/todosync/internal/store"
)

type testGate struct{ up atomic.Bool }

func newGate(up bool) *testGate {
	g := &testGate{}
	g.up.Store(up)

	return g
}

func (g *testGate) Reachable() bool { return g.up.Load() }

func newTask(id, title string, created time.Time) entity.Task {
	return entity.Task{
		Meta:  entity.Meta{ID: id, CreatedAt: created, UpdatedAt: created},
		Title: title,
	}
}

// harness wires a task service to a devapi server over httptest.
type harness struct {
	svc    *Service[entity.Task]
	api    *devapi.Server
	gate   *testGate
	medium *store.MemoryMedium
}

func newHarness(t *testing.T, apiCfg devapi.Config, opts conflict.Options) *harness {
	t.Helper()

	api := devapi.New(apiCfg)

	srv := httptest.NewServer(api.Routes())
	t.Cleanup(srv.Close)

	tr := remote.NewTransport(remote.Config{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		MaxRetries: -1,
	})

	h := &harness{
		api:    api,
		gate:   newGate(true),
		medium: store.NewMemoryMedium(0),
	}

	svc, err := NewService(context.Background(), ServiceConfig[entity.Task]{
		Kind:    "tasks",
		Medium:  h.medium,
		Remote:  remote.NewResource[entity.Task](tr, "tasks"),
		Health:  tr,
		Gate:    h.gate,
		Options: opts,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Wait)

	h.svc = svc

	return h
}

// seed replaces the local collection.
func (h *harness) seed(t *testing.T, items ...entity.Task) {
	t.Helper()
	require.NoError(t, h.svc.coll.WriteAll(context.Background(), items))
}

func (h *harness) remoteItem(t *testing.T, id string) map[string]any {
	t.Helper()

	for _, it := range h.api.Items("tasks") {
		if it["id"] == id {
			return it
		}
	}

	t.Fatalf("remote item %s not found", id)

	return nil
}

// fakeRemote is an in-memory Remote with failure injection.
type fakeRemote struct {
	mu       gosync.Mutex
	items    []entity.Task
	writeErr error
	listErr  error
	listHook func()
	writes   int
}

func (f *fakeRemote) List(context.Context) ([]entity.Task, error) {
	if f.listHook != nil {
		f.listHook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}

	return slices.Clone(f.items), nil
}

func (f *fakeRemote) Create(_ context.Context, v entity.Task) (entity.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writes++

	if f.writeErr != nil {
		return entity.Task{}, f.writeErr
	}

	f.items = append(f.items, v)

	return v, nil
}

func (f *fakeRemote) Patch(_ context.Context, id string, fields entity.Fields) (entity.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writes++

	if f.writeErr != nil {
		return entity.Task{}, f.writeErr
	}

	i := store.IndexOf(f.items, id)
	if i < 0 {
		return entity.Task{}, &remote.Error{StatusCode: 404, Err: remote.ErrNotFound}
	}

	f.items[i] = f.items[i].WithFields(fields)

	return f.items[i], nil
}

func (f *fakeRemote) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writes++

	if f.writeErr != nil {
		return f.writeErr
	}

	i := store.IndexOf(f.items, id)
	if i < 0 {
		return &remote.Error{StatusCode: 404, Err: remote.ErrNotFound}
	}

	f.items = slices.Delete(f.items, i, i+1)

	return nil
}

func (f *fakeRemote) setWriteErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writeErr = err
}

func newFakeService(t *testing.T, fr *fakeRemote, gate *testGate, maxRetries int) *Service[entity.Task] {
	t.Helper()

	svc, err := NewService(context.Background(), ServiceConfig[entity.Task]{
		Kind:       "tasks",
		Medium:     store.NewMemoryMedium(0),
		Remote:     fr,
		Gate:       gate,
		MaxRetries: maxRetries,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Wait)

	return svc
}

// fakeSyncer is a Syncer recording the orchestrator's calls.
type fakeSyncer struct {
	kind      string
	result    Result
	panics    bool
	conflicts []Conflict
	stats     Stats

	syncs  atomic.Int32
	drains atomic.Int32

	mu       gosync.Mutex
	resolved []string
	opts     conflict.Options
}

func (f *fakeSyncer) Kind() string { return f.kind }

func (f *fakeSyncer) Sync(context.Context) Result {
	f.syncs.Add(1)

	if f.panics {
		panic(fmt.Sprintf("%s exploded", f.kind))
	}

	r := f.result
	r.Kind = f.kind

	return r
}

func (f *fakeSyncer) Drain(context.Context) (queue.DrainStats, error) {
	f.drains.Add(1)
	return queue.DrainStats{}, nil
}

func (f *fakeSyncer) Conflicts(context.Context) ([]Conflict, error) {
	return f.conflicts, nil
}

func (f *fakeSyncer) ResolveConflict(_ context.Context, id string, _ conflict.Strategy) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resolved = append(f.resolved, id)

	return nil
}

func (f *fakeSyncer) ResolveAll(context.Context) (int, error) {
	return len(f.conflicts), nil
}

func (f *fakeSyncer) Health(context.Context) Health {
	return Health{Kind: f.kind, Local: true, Remote: true}
}

func (f *fakeSyncer) Stats() Stats {
	s := f.stats
	s.Kind = f.kind

	return s
}

func (f *fakeSyncer) SetOptions(opts conflict.Options) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opts = opts
}

// fakeMonitor hands out a single subscription channel.
type fakeMonitor struct {
	mu     gosync.Mutex
	status netmon.Status
	ch     chan netmon.Status
}

func newFakeMonitor(st netmon.Status) *fakeMonitor {
	return &fakeMonitor{status: st, ch: make(chan netmon.Status, 4)}
}

func (m *fakeMonitor) Status() netmon.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.status
}

func (m *fakeMonitor) Subscribe() (<-chan netmon.Status, func()) {
	return m.ch, func() {}
}

func (m *fakeMonitor) publish(st netmon.Status) {
	m.mu.Lock()
	m.status = st
	m.mu.Unlock()

	m.ch <- st
}

func reachableStatus(strategy netmon.Strategy) netmon.Status {
	return netmon.Status{Online: true, ServerReachable: true, Quality: 100, Strategy: strategy}
}

var errBoom = errors.New("boom")
