package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/todosync/internal/conflict"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

// isolateHome points the platform directories at a temp dir.
func isolateHome(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, "data"))

	return home
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeTestConfig(t, `
[server]
url = "https://todo.example.com/api"
token = "s3cret"
health_path = "/ping"
request_timeout = "10s"

[storage]
data_dir = "/var/lib/todosync"
max_value_size = "64KiB"

[queue]
batch_size = 5
batch_delay = "250ms"
max_retries = 7

[network]
probe_interval = "1m"
probe_timeout = "2s"
probe_retries = 4
backoff_step = "500ms"

[sync]
immediate_interval = "10s"
delayed_interval = "1m"
batch_interval = "10m"
prefer_local = true
prefer_recent = false
auto_merge = true
conflict_threshold = "high"

[logging]
log_level = "debug"
log_format = "json"
log_file = "/tmp/todosync.log"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://todo.example.com/api", cfg.Server.URL)
	assert.Equal(t, "s3cret", cfg.Server.Token)
	assert.Equal(t, 10*time.Second, cfg.Server.Timeout())
	assert.Equal(t, int64(64*1024), cfg.Storage.MaxValueBytes())
	assert.Equal(t, "/var/lib/todosync/todosync.db", cfg.Storage.DBPath())
	assert.Equal(t, 5, cfg.Queue.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.Delay())
	assert.Equal(t, 7, cfg.Queue.MaxRetries)
	assert.Equal(t, time.Minute, cfg.Network.Interval())
	assert.Equal(t, 2*time.Second, cfg.Network.Timeout())
	assert.Equal(t, 500*time.Millisecond, cfg.Network.Step())
	assert.Equal(t, 4, cfg.Network.ProbeRetries)
	assert.Equal(t, 10*time.Second, cfg.Sync.Immediate())
	assert.Equal(t, time.Minute, cfg.Sync.Delayed())
	assert.Equal(t, 10*time.Minute, cfg.Sync.Batch())

	assert.Equal(t, conflict.Options{
		PreferLocal:       true,
		AutoMerge:         true,
		ConflictThreshold: conflict.SeverityHigh,
	}, cfg.Sync.ConflictOptions())

	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, `
[storage]
data_dir = "/srv/todo"

[queue]
batch_size = 20
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Queue.BatchSize)
	assert.Equal(t, defaultMaxRetries, cfg.Queue.MaxRetries)
	assert.Equal(t, defaultServerURL, cfg.Server.URL)
	assert.True(t, cfg.Sync.PreferRecent)
}

func TestLoad_UnknownKeysSuggest(t *testing.T) {
	path := writeTestConfig(t, `
[server]
ulr = "http://localhost:1"

[sycn]
auto_merge = true
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "server.ulr", did you mean "server.url"?`)
	assert.Contains(t, err.Error(), `unknown config section "sycn", did you mean "sync"?`)
}

func TestLoad_ValidationAccumulates(t *testing.T) {
	path := writeTestConfig(t, `
[server]
url = "ftp://example.com"

[storage]
data_dir = "relative/dir"

[queue]
batch_size = 0

[sync]
conflict_threshold = "extreme"

[logging]
log_level = "loud"
`)

	_, err := Load(path)
	require.Error(t, err)

	for _, want := range []string{
		"server.url", "storage.data_dir", "queue.batch_size",
		"sync.conflict_threshold", "logging.log_level",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := writeTestConfig(t, "[server\nurl = ")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	isolateHome(t)

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolve_Precedence(t *testing.T) {
	home := isolateHome(t)

	path := writeTestConfig(t, `
[server]
url = "http://file.example.com"
token = "from-file"

[storage]
data_dir = "~/todo"
`)

	cfg, used, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, "http://file.example.com", cfg.Server.URL)
	assert.Equal(t, "from-file", cfg.Server.Token)
	assert.Equal(t, filepath.Join(home, "todo"), cfg.Storage.DataDir)

	cfg, _, err = Resolve(
		EnvOverrides{ConfigPath: path, ServerURL: "http://env.example.com", Token: "from-env", DataDir: "/env/data"},
		CLIOverrides{},
	)
	require.NoError(t, err)
	assert.Equal(t, "http://env.example.com", cfg.Server.URL)
	assert.Equal(t, "from-env", cfg.Server.Token)
	assert.Equal(t, "/env/data", cfg.Storage.DataDir)

	cfg, _, err = Resolve(
		EnvOverrides{ConfigPath: "/nonexistent/config.toml", ServerURL: "http://env.example.com"},
		CLIOverrides{ConfigPath: path, ServerURL: "http://cli.example.com", DataDir: "/cli/data"},
	)
	require.NoError(t, err)
	assert.Equal(t, "http://cli.example.com", cfg.Server.URL)
	assert.Equal(t, "/cli/data", cfg.Storage.DataDir)
}

func TestResolve_DefaultPathWithoutFile(t *testing.T) {
	home := isolateHome(t)

	cfg, used, err := Resolve(EnvOverrides{}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "config", "todosync", "config.toml"), used)
	assert.Equal(t, filepath.Join(home, "data", "todosync"), cfg.Storage.DataDir)
}

func TestReload_AppliesOverrides(t *testing.T) {
	path := writeTestConfig(t, `
[storage]
data_dir = "/srv/todo"

[sync]
auto_merge = false
`)

	cfg, err := Reload(path, EnvOverrides{Token: "tok"}, CLIOverrides{})
	require.NoError(t, err)
	assert.False(t, cfg.Sync.AutoMerge)
	assert.Equal(t, "tok", cfg.Server.Token)

	require.NoError(t, os.WriteFile(path, []byte("[storage]\ndata_dir = \"/srv/todo\"\n[sync]\nauto_merge = true\n"), 0o600))

	cfg, err = Reload(path, EnvOverrides{}, CLIOverrides{})
	require.NoError(t, err)
	assert.True(t, cfg.Sync.AutoMerge)
}

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "/etc/todosync.toml")
	t.Setenv(EnvServerURL, "http://env")
	t.Setenv(EnvToken, "t")
	t.Setenv(EnvDataDir, "/data")

	assert.Equal(t, EnvOverrides{
		ConfigPath: "/etc/todosync.toml",
		ServerURL:  "http://env",
		Token:      "t",
		DataDir:    "/data",
	}, ReadEnvOverrides())
}
