// Package testutil provides environment helpers for the end-to-end tests,
// which drive the built binary rather than the packages.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Environment variables read by the end-to-end tests.
const (
	// EnvE2EServer points the tests at a running server instead of an
	// in-process one. Its collections are modified.
	EnvE2EServer = "TODOSYNC_E2E_SERVER"
	// EnvE2EToken is the bearer token for EnvE2EServer.
	EnvE2EToken = "TODOSYNC_E2E_TOKEN"
)

// LoadDotEnv reads KEY=VALUE pairs from a .env file at path. A missing file
// is not an error, and variables already set take precedence.
func LoadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// FindModuleRoot walks up from the working directory to the directory
// holding go.mod, or returns fallback.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// BuildBinary compiles the package pkg (relative to moduleRoot) into dir
// and returns the binary path. Build output goes to stderr.
func BuildBinary(moduleRoot, pkg, dir, name string) (string, error) {
	out := filepath.Join(dir, name)

	cmd := exec.Command("go", "build", "-o", out, pkg)
	cmd.Dir = moduleRoot
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("building %s: %w", pkg, err)
	}

	return out, nil
}

// ExternalServer returns the server URL and token configured for the
// tests, or empty strings to use an in-process server.
func ExternalServer() (url, token string) {
	return os.Getenv(EnvE2EServer), os.Getenv(EnvE2EToken)
}
