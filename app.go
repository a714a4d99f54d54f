package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/todosync/internal/config"
	"github.com/tonimelisma/todosync/internal/entity"
	"github.com/tonimelisma/todosync/internal/netmon"
	"github.com/tonimelisma/todosync/internal/remote"
	"github.com/tonimelisma/todosync/internal/store"
	"github.com/tonimelisma/todosync/internal/sync"
	"github.com/tonimelisma/todosync/internal/tokenfile"
)

// Collection names on the server, also used as service kinds.
const (
	kindTasks    = "tasks"
	kindProjects = "projects"
)

// quickProbeTimeout bounds the single probe made before local edits, so an
// offline edit never waits long.
const quickProbeTimeout = 2 * time.Second

// lockFileName guards the data directory against concurrent processes.
const lockFileName = "todosync.lock"

// app is the wired sync core for one CLI invocation.
type app struct {
	cc        *CLIContext
	medium    *store.SQLiteMedium
	transport *remote.Transport
	monitor   *netmon.Monitor
	tasks     *sync.Service[entity.Task]
	projects  *sync.Service[entity.Project]
	orch      *sync.Orchestrator
	unlock    func()
}

// openApp locks the data directory, opens the database, and builds the
// services and orchestrator from cc.Cfg.
func openApp(ctx context.Context, cc *CLIContext) (*app, error) {
	cfg := cc.Cfg
	logger := cc.Logger

	unlock, err := lockDataDir(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}

	medium, err := store.OpenSQLite(ctx, cfg.Storage.DBPath(), cfg.Storage.MaxValueBytes(), logger)
	if err != nil {
		unlock()
		return nil, err
	}

	a := &app{cc: cc, medium: medium, unlock: unlock}
	a.transport = newTransport(cfg, logger)

	a.monitor = netmon.New(netmon.Config{
		Prober:      a.transport.Prober(),
		Interval:    cfg.Network.Interval(),
		Timeout:     cfg.Network.Timeout(),
		Retries:     cfg.Network.ProbeRetries,
		BackoffStep: cfg.Network.Step(),
		Logger:      logger,
	})

	if cc.Flags.Offline {
		a.monitor.NotifyOnline(false)
	}

	a.tasks, err = sync.NewService(ctx, serviceConfig[entity.Task](a, kindTasks))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.projects, err = sync.NewService(ctx, serviceConfig[entity.Project](a, kindProjects))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.orch = sync.NewOrchestrator(sync.OrchestratorConfig{
		Monitor:   a.monitor,
		Services:  []sync.Syncer{a.tasks, a.projects},
		Intervals: intervalsFrom(cfg.Sync),
		Logger:    logger,
	})

	return a, nil
}

// newTransport builds the REST transport. A token from the config or
// environment wins over one saved by 'todosync login'.
func newTransport(cfg *config.Config, logger *slog.Logger) *remote.Transport {
	return remote.NewTransport(remote.Config{
		BaseURL:    cfg.Server.URL,
		HealthPath: cfg.Server.HealthPath,
		HTTPClient: &http.Client{Timeout: cfg.Server.Timeout()},
		Token:      tokenSource(cfg, logger),
		Logger:     logger,
	})
}

func tokenSource(cfg *config.Config, logger *slog.Logger) oauth2.TokenSource {
	if cfg.Server.Token != "" {
		return remote.StaticToken(cfg.Server.Token)
	}

	ts, err := tokenfile.TokenSource(tokenfile.Path(cfg.Storage.DataDir), cfg.Server.URL)
	if err != nil {
		logger.Warn("not using saved token", slog.String("error", err.Error()))
		return nil
	}

	return ts
}

func serviceConfig[T entity.Entity[T]](a *app, kind string) sync.ServiceConfig[T] {
	cfg := a.cc.Cfg

	return sync.ServiceConfig[T]{
		Kind:       kind,
		Medium:     a.medium,
		Remote:     remote.NewResource[T](a.transport, kind),
		Health:     a.transport,
		Gate:       a.monitor,
		Options:    cfg.Sync.ConflictOptions(),
		BatchSize:  cfg.Queue.BatchSize,
		BatchDelay: cfg.Queue.Delay(),
		MaxRetries: cfg.Queue.MaxRetries,
		Logger:     a.cc.Logger,
	}
}

func intervalsFrom(s config.SyncConfig) sync.Intervals {
	return sync.Intervals{
		Immediate: s.Immediate(),
		Delayed:   s.Delayed(),
		Batch:     s.Batch(),
	}
}

// probe checks reachability with the configured retries. Always false with
// --offline.
func (a *app) probe(ctx context.Context) bool {
	if a.cc.Flags.Offline {
		return false
	}

	return a.monitor.CheckReachability(ctx, a.cc.Cfg.Network.Timeout(), a.cc.Cfg.Network.ProbeRetries)
}

// quickProbe makes one short attempt so that local edits are pushed right
// away when the server answers.
func (a *app) quickProbe(ctx context.Context) bool {
	if a.cc.Flags.Offline {
		return false
	}

	return a.monitor.CheckReachability(ctx, min(quickProbeTimeout, a.cc.Cfg.Network.Timeout()), 0)
}

// Close waits for background pushes, then releases the database and lock.
func (a *app) Close() error {
	if a.tasks != nil {
		a.tasks.Wait()
	}

	if a.projects != nil {
		a.projects.Wait()
	}

	err := a.medium.Close()
	a.unlock()

	return err
}

// lockDataDir takes an exclusive lock on the data directory. Collections and
// queues are cached in memory and written back whole, so two processes must
// never share a database.
func lockDataDir(dataDir string) (func(), error) {
	path := filepath.Join(dataDir, lockFileName)

	f, err := lockFile(path)
	if err != nil {
		return nil, fmt.Errorf("data directory %s is in use by another todosync process (is 'todosync watch' running?): %w", dataDir, err)
	}

	return func() { f.Close() }, nil
}
