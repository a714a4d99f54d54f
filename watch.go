package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/todosync/internal/config"
	"github.com/tonimelisma/todosync/internal/sync"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Sync continuously in the foreground",
		Long: `Run the sync loop until interrupted.

The server is probed periodically and the sync cadence follows the measured
connection quality. Queued changes are pushed as soon as the server is
reachable again. The config file is re-read when it changes or when the
process receives SIGHUP ('todosync config reload'). Sync intervals and
conflict options apply immediately; other settings need a restart.

While watch runs, other todosync commands on the same data directory are
refused.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	if cc.Flags.Offline {
		return errors.New("watch cannot run with --offline")
	}

	cleanup, err := writePIDFile(config.PIDFilePath(cc.Cfg.Storage.DataDir))
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdownContext(cmd.Context(), logger)

	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.probe(ctx) {
		reportWatchRound(logger, a.orch.SyncAll(ctx))
	} else {
		logger.Warn("server unreachable, changes stay queued",
			slog.String("server", cc.Cfg.Server.URL),
			slog.Int("pending", a.orch.Status().Pending),
		)
	}

	a.orch.Start(ctx)
	defer a.orch.Stop()

	a.monitor.Start(ctx)
	defer a.monitor.Stop()

	holder := config.NewHolder(cc.Cfg, cc.CfgPath)

	fileChanges, err := config.Watch(ctx, cc.CfgPath, config.DefaultWatchDebounce, logger)
	if err != nil {
		logger.Warn("not watching config file, use SIGHUP to reload",
			slog.String("path", cc.CfgPath),
			slog.String("error", err.Error()),
		)
	}

	reloads := hangups(ctx)

	cc.Statusf("Watching %s (%s)\n", cc.Cfg.Server.URL, a.orch.StatusText())

	for {
		select {
		case <-ctx.Done():
			cc.Statusf("Stopped (%s)\n", a.orch.StatusText())
			return nil

		case <-reloads:
			logger.Info("SIGHUP received, reloading config")
			reloadConfig(cc, holder, a.orch)

		case _, ok := <-fileChanges:
			if !ok {
				fileChanges = nil
				continue
			}

			logger.Info("config file changed, reloading")
			reloadConfig(cc, holder, a.orch)
		}
	}
}

// reloadConfig re-reads the config file and applies the settings that can
// change at runtime. An invalid file keeps the current config.
func reloadConfig(cc *CLIContext, holder *config.Holder, orch *sync.Orchestrator) {
	logger := cc.Logger

	next, err := config.Reload(holder.Path(), cc.Env, cc.CLI)
	if err != nil {
		logger.Warn("config reload failed, keeping current settings", slog.String("error", err.Error()))
		return
	}

	prev := holder.Config()

	for _, setting := range restartRequired(prev, next) {
		logger.Warn("config change needs a restart to take effect", slog.String("setting", setting))
	}

	orch.UpdateIntervals(intervalsFrom(next.Sync))
	orch.SetOptions(next.Sync.ConflictOptions())

	holder.Update(next)

	logger.Info("config reloaded",
		slog.Duration("immediate_interval", next.Sync.Immediate()),
		slog.Duration("delayed_interval", next.Sync.Delayed()),
		slog.Duration("batch_interval", next.Sync.Batch()),
	)
}

// restartRequired names the changed sections that are only read at startup.
func restartRequired(prev, next *config.Config) []string {
	var changed []string

	if prev.Server != next.Server {
		changed = append(changed, "server")
	}

	if prev.Storage != next.Storage {
		changed = append(changed, "storage")
	}

	if prev.Queue != next.Queue {
		changed = append(changed, "queue")
	}

	if prev.Network != next.Network {
		changed = append(changed, "network")
	}

	if prev.Logging != next.Logging {
		changed = append(changed, "logging")
	}

	return changed
}

func reportWatchRound(logger *slog.Logger, results []sync.Result) {
	for _, r := range results {
		if !r.Success {
			logger.Warn("initial sync failed",
				slog.String("kind", r.Kind),
				slog.String("error", fmt.Sprint(r.Err())),
			)

			continue
		}

		logger.Info("initial sync done",
			slog.String("kind", r.Kind),
			slog.Int("pushed", r.Synced),
			slog.Int("pulled", r.Pulled),
			slog.Int("conflicts", r.Conflicts),
		)
	}
}
