package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// The config file may hold the server token.
const (
	configFilePermissions = 0o600
	configDirPermissions  = 0o700
)

// ErrConfigExists is returned by CreateTemplate when the file is present.
var ErrConfigExists = errors.New("config: file already exists")

// configTemplate lists every setting commented out at its default.
const configTemplate = `# todosync configuration
# Uncomment and modify to override defaults.

[server]
url = %q
# token = ""
# health_path = "/health"
# request_timeout = "30s"

[storage]
# data_dir = ""            # default: platform data directory
# max_value_size = "5MB"   # per-key limit, "0" for unlimited

[queue]
# batch_size = 10
# batch_delay = "100ms"
# max_retries = 3

[network]
# probe_interval = "30s"
# probe_timeout = "5s"
# probe_retries = 2
# backoff_step = "1s"

[sync]
# immediate_interval = "30s"
# delayed_interval = "2m"
# batch_interval = "5m"
# prefer_local = false
# prefer_recent = true
# auto_merge = false
# conflict_threshold = ""  # low, medium, high or critical

[logging]
# log_level = "info"
# log_format = "auto"      # auto, text or json
# log_file = ""
`

// CreateTemplate writes a commented config file pointing at serverURL.
// An existing file is never overwritten.
func CreateTemplate(path, serverURL string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	if serverURL == "" {
		serverURL = defaultServerURL
	}

	slog.Info("creating config file", slog.String("path", path), slog.String("server_url", serverURL))

	return atomicWriteFile(path, fmt.Appendf(nil, configTemplate, serverURL))
}

// atomicWriteFile writes data to a temp file beside path and renames it
// into place. Parent directories are created as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tmp, configFilePermissions); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}
