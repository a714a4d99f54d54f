// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for todosync. Values are layered:
// defaults -> config file -> environment -> CLI flags.
package config

import (
	"path/filepath"
	"time"

	"github.com/tonimelisma/todosync/internal/conflict"
)

// dbFileName is the SQLite database inside the data directory.
const dbFileName = "todosync.db"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Queue   QueueConfig   `toml:"queue"`
	Network NetworkConfig `toml:"network"`
	Sync    SyncConfig    `toml:"sync"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig locates the REST authority.
type ServerConfig struct {
	URL            string `toml:"url"`
	Token          string `toml:"token"`
	HealthPath     string `toml:"health_path"`
	RequestTimeout string `toml:"request_timeout"`
}

// StorageConfig controls the local database.
type StorageConfig struct {
	DataDir      string `toml:"data_dir"`
	MaxValueSize string `toml:"max_value_size"`
}

// QueueConfig controls how pending operations are pushed.
type QueueConfig struct {
	BatchSize  int    `toml:"batch_size"`
	BatchDelay string `toml:"batch_delay"`
	MaxRetries int    `toml:"max_retries"`
}

// NetworkConfig controls reachability probing.
type NetworkConfig struct {
	ProbeInterval string `toml:"probe_interval"`
	ProbeTimeout  string `toml:"probe_timeout"`
	ProbeRetries  int    `toml:"probe_retries"`
	BackoffStep   string `toml:"backoff_step"`
}

// SyncConfig holds the automatic sync periods per network strategy and the
// conflict resolution preferences.
type SyncConfig struct {
	ImmediateInterval string `toml:"immediate_interval"`
	DelayedInterval   string `toml:"delayed_interval"`
	BatchInterval     string `toml:"batch_interval"`
	PreferLocal       bool   `toml:"prefer_local"`
	PreferRecent      bool   `toml:"prefer_recent"`
	AutoMerge         bool   `toml:"auto_merge"`
	ConflictThreshold string `toml:"conflict_threshold"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags. Empty strings mean "not given".
type CLIOverrides struct {
	ConfigPath string // --config
	ServerURL  string // --server
	DataDir    string // --data-dir
}

// Timeout is the per-request HTTP timeout.
func (s ServerConfig) Timeout() time.Duration { return durationOrZero(s.RequestTimeout) }

// MaxValueBytes is the per-key size limit, 0 for unlimited.
func (s StorageConfig) MaxValueBytes() int64 {
	n, err := ParseSize(s.MaxValueSize)
	if err != nil {
		return 0
	}

	return n
}

// DBPath is the SQLite database file inside DataDir.
func (s StorageConfig) DBPath() string {
	return filepath.Join(s.DataDir, dbFileName)
}

// Delay is the pause between drain batches.
func (q QueueConfig) Delay() time.Duration { return durationOrZero(q.BatchDelay) }

// Interval is the time between background probes.
func (n NetworkConfig) Interval() time.Duration { return durationOrZero(n.ProbeInterval) }

// Timeout bounds a single probe.
func (n NetworkConfig) Timeout() time.Duration { return durationOrZero(n.ProbeTimeout) }

// Step is the linear backoff unit between probe retries.
func (n NetworkConfig) Step() time.Duration { return durationOrZero(n.BackoffStep) }

// Immediate, Delayed and Batch are the automatic sync periods.
func (s SyncConfig) Immediate() time.Duration { return durationOrZero(s.ImmediateInterval) }

func (s SyncConfig) Delayed() time.Duration { return durationOrZero(s.DelayedInterval) }

func (s SyncConfig) Batch() time.Duration { return durationOrZero(s.BatchInterval) }

// ConflictOptions converts the preferences for the conflict resolver. An
// empty or invalid threshold disables the threshold.
func (s SyncConfig) ConflictOptions() conflict.Options {
	opts := conflict.Options{
		PreferLocal:  s.PreferLocal,
		PreferRecent: s.PreferRecent,
		AutoMerge:    s.AutoMerge,
	}

	if s.ConflictThreshold != "" {
		if sev, err := conflict.ParseSeverity(s.ConflictThreshold); err == nil {
			opts.ConflictThreshold = sev
		}
	}

	return opts
}

// durationOrZero parses a validated duration string.
func durationOrZero(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}
