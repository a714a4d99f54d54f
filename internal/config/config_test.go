package config

import (
	"bytes"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"", 0},
		{"0", 0},
		{"1024", 1024},
		{"100B", 100},
		{"1KB", 1000},
		{"1KiB", 1024},
		{"5MB", 5_000_000},
		{"10MiB", 10_485_760},
		{"1.5 GB", 1_500_000_000},
		{"1TiB", 1 << 40},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"abc", "MB", "-1", "-2KB"} {
		_, err := ParseSize(bad)
		assert.Error(t, err, bad)
	}
}

func TestClosestMatch(t *testing.T) {
	keys := knownKeys["sync"]

	assert.Equal(t, "auto_merge", closestMatch("auto_merg", keys))
	assert.Equal(t, "prefer_local", closestMatch("prefer_locl", keys))
	assert.Empty(t, closestMatch("completely_different", keys))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
	assert.Equal(t, 4, levenshtein("", "sync"))
}

func TestDefaultConfig_Validates(t *testing.T) {
	isolateHome(t)
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestDefaultPaths_XDG(t *testing.T) {
	home := isolateHome(t)

	assert.Equal(t, filepath.Join(home, "config", "todosync"), DefaultConfigDir())
	assert.Equal(t, filepath.Join(home, "data", "todosync"), DefaultDataDir())
	assert.Equal(t, filepath.Join("/d", "todosync.pid"), PIDFilePath("/d"))
}

func TestConflictOptions_EmptyThreshold(t *testing.T) {
	opts := SyncConfig{PreferRecent: true}.ConflictOptions()
	assert.True(t, opts.PreferRecent)
	assert.Zero(t, opts.ConflictThreshold)
}

func TestHolder(t *testing.T) {
	first := DefaultConfig()
	h := NewHolder(first, "/etc/todosync/config.toml")

	assert.Same(t, first, h.Config())
	assert.Equal(t, "/etc/todosync/config.toml", h.Path())

	var wg sync.WaitGroup

	for range 10 {
		wg.Add(2)

		go func() {
			defer wg.Done()
			assert.NotNil(t, h.Config())
		}()

		go func() {
			defer wg.Done()
			h.Update(DefaultConfig())
		}()
	}

	wg.Wait()

	second := DefaultConfig()
	h.Update(second)
	assert.Same(t, second, h.Config())
}

func TestRenderEffective_MasksToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Token = "abcdef123456"
	cfg.Storage.DataDir = "/srv/todo"

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(cfg, "/etc/todosync.toml", &buf))

	out := buf.String()
	assert.Contains(t, out, "# Effective configuration (file: /etc/todosync.toml)")
	assert.Contains(t, out, `token           = "****3456"`)
	assert.NotContains(t, out, "abcdef")
	assert.Contains(t, out, `data_dir       = "/srv/todo"`)
	assert.Contains(t, out, "[logging]")
}

func TestRedacted_LeavesOriginal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Token = "secret-token"

	r := Redacted(cfg)

	assert.Equal(t, "****oken", r.Server.Token)
	assert.Equal(t, "secret-token", cfg.Server.Token)
	assert.Equal(t, cfg.Server.URL, r.Server.URL)
}

func TestCreateTemplate(t *testing.T) {
	isolateHome(t)

	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	require.NoError(t, CreateTemplate(path, "https://todo.example.com"))

	cfg, err := Load(path)
	require.NoError(t, err, "the generated template must load cleanly")
	assert.Equal(t, "https://todo.example.com", cfg.Server.URL)

	assert.ErrorIs(t, CreateTemplate(path, ""), ErrConfigExists)
}
