package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/todosync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagServerURL  string
	flagDataDir    string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
	flagOffline    bool
)

// skipConfigAnnotation marks commands that must run without a valid config,
// such as "config init".
const skipConfigAnnotation = "skipConfig"

// CLIFlags is a snapshot of the persistent flags.
type CLIFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	Quiet      bool
	Offline    bool
}

// CLIContext carries what every command needs: the parsed flags, the
// effective config, and the logger built from both.
type CLIContext struct {
	Flags   CLIFlags
	Cfg     *config.Config
	CfgPath string
	Env     config.EnvOverrides
	CLI     config.CLIOverrides
	Logger  *slog.Logger

	// closeLog releases the log file, if any.
	closeLog func()
}

type cliContextKey struct{}

func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

// mustCLIContext returns the CLIContext installed by the root pre-run. A
// missing context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cc == nil {
		panic("todosync: CLIContext missing from command context")
	}

	return cc
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "todosync",
		Short:   "Offline-first todo sync client",
		Long:    "Manage tasks and projects locally and keep them in sync with a REST server.",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := buildCLIContext(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(withCLIContext(cmd.Context(), cc))

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext); ok && cc.closeLog != nil {
				cc.closeLog()
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flagConfigPath, "config", "", "config file path")
	pf.StringVar(&flagServerURL, "server", "", "server URL (overrides config)")
	pf.StringVar(&flagDataDir, "data-dir", "", "data directory (overrides config)")
	pf.BoolVar(&flagJSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	pf.BoolVar(&flagOffline, "offline", false, "work locally without contacting the server")

	cmd.AddCommand(newTasksCmd())
	cmd.AddCommand(newProjectsCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newResolveCmd())
	cmd.AddCommand(newHealthCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())

	return cmd
}

// buildCLIContext resolves the config and logger for cmd. Commands carrying
// skipConfigAnnotation fall back to defaults when the config is invalid.
func buildCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	cc := &CLIContext{
		Flags: CLIFlags{
			ConfigPath: flagConfigPath,
			JSON:       flagJSON,
			Verbose:    flagVerbose,
			Quiet:      flagQuiet,
			Offline:    flagOffline,
		},
		Env: config.ReadEnvOverrides(),
		CLI: config.CLIOverrides{
			ConfigPath: flagConfigPath,
			ServerURL:  flagServerURL,
			DataDir:    flagDataDir,
		},
	}

	cfg, path, err := config.Resolve(cc.Env, cc.CLI)
	if err != nil {
		if cmd.Annotations[skipConfigAnnotation] == "" {
			return nil, fmt.Errorf("loading config: %w", err)
		}

		cfg = config.DefaultConfig()
	}

	cc.Cfg = cfg
	cc.CfgPath = path

	logger, closeLog, err := buildLogger(cfg.Logging, cc.Flags, os.Stderr)
	if err != nil {
		return nil, err
	}

	cc.Logger = logger
	cc.closeLog = closeLog

	slog.SetDefault(logger)

	return cc, nil
}

// buildLogger creates the logger from the logging section. The config level
// is the baseline; --verbose and --quiet override it. log_format "auto"
// picks text on a terminal and JSON otherwise.
func buildLogger(lc config.LoggingConfig, flags CLIFlags, stderr *os.File) (*slog.Logger, func(), error) {
	level := parseLevel(lc.LogLevel)

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	var (
		out      io.Writer = stderr
		closeFn            = func() {}
		terminal           = isatty.IsTerminal(stderr.Fd()) || isatty.IsCygwinTerminal(stderr.Fd())
	)

	if lc.LogFile != "" {
		f, err := os.OpenFile(lc.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}

		out = f
		terminal = false
		closeFn = func() { f.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler

	switch {
	case lc.LogFormat == "json", lc.LogFormat == "auto" && !terminal:
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler), closeFn, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
