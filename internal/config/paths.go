package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	appName        = "todosync"
	configFileName = "config.toml"
)

// DefaultConfigDir returns the platform-specific directory for the config
// file. Linux honours XDG_CONFIG_HOME; macOS uses Application Support.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	return xdgDir("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
}

// DefaultDataDir returns the platform-specific directory for the database.
// Linux honours XDG_DATA_HOME; macOS keeps data next to the config.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	return xdgDir("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))
}

func xdgDir(env, fallback string) string {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, appName)
	}

	return filepath.Join(fallback, appName)
}

// DefaultConfigPath is used when neither TODOSYNC_CONFIG nor --config is set.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// PIDFilePath is where the watch daemon records its process id.
func PIDFilePath(dataDir string) string {
	return filepath.Join(dataDir, appName+".pid")
}
