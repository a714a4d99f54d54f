package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads, parses and validates a TOML config file. Unknown keys are
// fatal and come with "did you mean" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	cfg.Storage.DataDir = expandTilde(cfg.Storage.DataDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the defaults when path does
// not exist, so todosync runs without any config file.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve applies the whole override chain and returns the effective config
// together with the config file path that was consulted.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, string, error) {
	path := firstNonEmpty(cli.ConfigPath, env.ConfigPath, DefaultConfigPath())

	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, path, err
	}

	applyOverrides(cfg, env, cli)

	if err := Validate(cfg); err != nil {
		return nil, path, fmt.Errorf("config validation: %w", err)
	}

	return cfg, path, nil
}

// Reload re-reads path and reapplies the environment and CLI layers. Used
// by the watch daemon on SIGHUP or a file change.
func Reload(path string, env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	applyOverrides(cfg, env, cli)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyOverrides(cfg *Config, env EnvOverrides, cli CLIOverrides) {
	cfg.Server.URL = firstNonEmpty(cli.ServerURL, env.ServerURL, cfg.Server.URL)
	cfg.Server.Token = firstNonEmpty(env.Token, cfg.Server.Token)
	cfg.Storage.DataDir = expandTilde(firstNonEmpty(cli.DataDir, env.DataDir, cfg.Storage.DataDir))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
