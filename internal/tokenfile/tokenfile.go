// Package tokenfile stores the server credential saved by 'todosync login'.
// The file records which server the token was issued for, so a token is
// never sent to a different server after the URL changes.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token's directory.
const DirPerms = 0o700

// FileName is the token file inside the data directory.
const FileName = "token.json"

// ErrServerMismatch means the saved token belongs to another server.
var ErrServerMismatch = errors.New("tokenfile: token was saved for a different server")

// File is the on-disk format.
type File struct {
	Server  string        `json:"server"`
	Token   *oauth2.Token `json:"token"`
	SavedAt time.Time     `json:"savedAt"`
}

// Path returns the token file location for dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// Load reads the token file at path. It returns (nil, nil) when the file
// does not exist.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not logged in"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if tf.Token == nil || tf.Token.AccessToken == "" {
		return nil, fmt.Errorf("tokenfile: %s has no token (run 'todosync login' again)", path)
	}

	return &tf, nil
}

// TokenSource returns a source for the token saved for server, or nil when
// nothing is saved. Server URLs are compared without a trailing slash.
func TokenSource(path, server string) (oauth2.TokenSource, error) {
	tf, err := Load(path)
	if err != nil || tf == nil {
		return nil, err
	}

	if normalize(tf.Server) != normalize(server) {
		return nil, fmt.Errorf("%w: saved for %s, configured %s", ErrServerMismatch, tf.Server, server)
	}

	return oauth2.ReuseTokenSource(tf.Token, oauth2.StaticTokenSource(tf.Token)), nil
}

func normalize(u string) string { return strings.TrimRight(u, "/") }

// Save writes a bearer token for server atomically (write-to-temp +
// rename) with 0600 permissions. Never logs token values.
func Save(path, server, accessToken string, now time.Time) error {
	if accessToken == "" {
		return errors.New("tokenfile: empty token")
	}

	tf := File{
		Server:  server,
		Token:   &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"},
		SavedAt: now.UTC(),
	}

	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}

// Remove deletes the token file. It reports whether a file was removed.
func Remove(path string) (bool, error) {
	err := os.Remove(path)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("tokenfile: removing %s: %w", path, err)
	}
}
