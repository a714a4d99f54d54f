package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the effective configuration as annotated TOML.
// The server token is masked.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	if path != "" {
		ew.printf("# Effective configuration (file: %s)\n\n", path)
	} else {
		ew.printf("# Effective configuration (defaults)\n\n")
	}

	ew.printf("[server]\n")
	ew.printf("url             = %q\n", cfg.Server.URL)
	ew.printf("token           = %q\n", maskToken(cfg.Server.Token))
	ew.printf("health_path     = %q\n", cfg.Server.HealthPath)
	ew.printf("request_timeout = %q\n\n", cfg.Server.RequestTimeout)

	ew.printf("[storage]\n")
	ew.printf("data_dir       = %q\n", cfg.Storage.DataDir)
	ew.printf("max_value_size = %q\n\n", cfg.Storage.MaxValueSize)

	ew.printf("[queue]\n")
	ew.printf("batch_size  = %d\n", cfg.Queue.BatchSize)
	ew.printf("batch_delay = %q\n", cfg.Queue.BatchDelay)
	ew.printf("max_retries = %d\n\n", cfg.Queue.MaxRetries)

	ew.printf("[network]\n")
	ew.printf("probe_interval = %q\n", cfg.Network.ProbeInterval)
	ew.printf("probe_timeout  = %q\n", cfg.Network.ProbeTimeout)
	ew.printf("probe_retries  = %d\n", cfg.Network.ProbeRetries)
	ew.printf("backoff_step   = %q\n\n", cfg.Network.BackoffStep)

	s := cfg.Sync
	ew.printf("[sync]\n")
	ew.printf("immediate_interval = %q\n", s.ImmediateInterval)
	ew.printf("delayed_interval   = %q\n", s.DelayedInterval)
	ew.printf("batch_interval     = %q\n", s.BatchInterval)
	ew.printf("prefer_local       = %t\n", s.PreferLocal)
	ew.printf("prefer_recent      = %t\n", s.PreferRecent)
	ew.printf("auto_merge         = %t\n", s.AutoMerge)
	ew.printf("conflict_threshold = %q\n\n", s.ConflictThreshold)

	ew.printf("[logging]\n")
	ew.printf("log_level  = %q\n", cfg.Logging.LogLevel)
	ew.printf("log_format = %q\n", cfg.Logging.LogFormat)

	if cfg.Logging.LogFile != "" {
		ew.printf("log_file   = %q\n", cfg.Logging.LogFile)
	}

	return ew.err
}

// errWriter keeps the first write error so rendering can chain printf calls.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func maskToken(tok string) string {
	const visible = 4

	switch {
	case tok == "":
		return ""
	case len(tok) <= visible:
		return "****"
	default:
		return "****" + tok[len(tok)-visible:]
	}
}

// Redacted returns a copy of cfg with the token masked, for display.
func Redacted(cfg *Config) *Config {
	c := *cfg
	c.Server.Token = maskToken(c.Server.Token)

	return &c
}
