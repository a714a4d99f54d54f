package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/tonimelisma/todosync/internal/conflict"
)

// Validation bounds.
const (
	minRequestTimeout = time.Second
	minProbeInterval  = time.Second
	minProbeTimeout   = 100 * time.Millisecond
	minSyncInterval   = time.Second
	maxBatchSize      = 1000
	maxQueueRetries   = 100
	maxProbeRetries   = 10
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"auto", "text", "json"}
)

// Validate checks every value and returns all problems at once.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateQueue(&cfg.Queue)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	u, err := url.Parse(s.URL)

	switch {
	case s.URL == "":
		errs = append(errs, errors.New("server.url: must not be empty"))
	case err != nil:
		errs = append(errs, fmt.Errorf("server.url: %w", err))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("server.url: scheme must be http or https, got %q", u.Scheme))
	case u.Host == "":
		errs = append(errs, fmt.Errorf("server.url: missing host in %q", s.URL))
	}

	if s.HealthPath != "" && !strings.HasPrefix(s.HealthPath, "/") {
		errs = append(errs, fmt.Errorf("server.health_path: must start with /, got %q", s.HealthPath))
	}

	return append(errs, durationMin("server.request_timeout", s.RequestTimeout, minRequestTimeout)...)
}

func validateStorage(s *StorageConfig) []error {
	var errs []error

	if s.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir: must not be empty"))
	} else if !filepath.IsAbs(s.DataDir) {
		errs = append(errs, fmt.Errorf("storage.data_dir: must be absolute, got %q", s.DataDir))
	}

	if _, err := ParseSize(s.MaxValueSize); err != nil {
		errs = append(errs, fmt.Errorf("storage.max_value_size: %w", err))
	}

	return errs
}

func validateQueue(q *QueueConfig) []error {
	var errs []error

	if q.BatchSize < 1 || q.BatchSize > maxBatchSize {
		errs = append(errs, fmt.Errorf("queue.batch_size: must be between 1 and %d, got %d", maxBatchSize, q.BatchSize))
	}

	if q.MaxRetries < 1 || q.MaxRetries > maxQueueRetries {
		errs = append(errs, fmt.Errorf("queue.max_retries: must be between 1 and %d, got %d", maxQueueRetries, q.MaxRetries))
	}

	return append(errs, durationMin("queue.batch_delay", q.BatchDelay, 0)...)
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, durationMin("network.probe_interval", n.ProbeInterval, minProbeInterval)...)
	errs = append(errs, durationMin("network.probe_timeout", n.ProbeTimeout, minProbeTimeout)...)
	errs = append(errs, durationMin("network.backoff_step", n.BackoffStep, 0)...)

	if n.ProbeRetries < 0 || n.ProbeRetries > maxProbeRetries {
		errs = append(errs, fmt.Errorf("network.probe_retries: must be between 0 and %d, got %d", maxProbeRetries, n.ProbeRetries))
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	errs = append(errs, durationMin("sync.immediate_interval", s.ImmediateInterval, minSyncInterval)...)
	errs = append(errs, durationMin("sync.delayed_interval", s.DelayedInterval, minSyncInterval)...)
	errs = append(errs, durationMin("sync.batch_interval", s.BatchInterval, minSyncInterval)...)

	if s.ConflictThreshold != "" {
		if _, err := conflict.ParseSeverity(s.ConflictThreshold); err != nil {
			errs = append(errs, fmt.Errorf("sync.conflict_threshold: %w", err))
		}
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !slices.Contains(validLogLevels, l.LogLevel) {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of %s; got %q",
			strings.Join(validLogLevels, ", "), l.LogLevel))
	}

	if !slices.Contains(validLogFormats, l.LogFormat) {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of %s; got %q",
			strings.Join(validLogFormats, ", "), l.LogFormat))
	}

	return errs
}

// durationMin checks that value parses and is at least minimum.
func durationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}
