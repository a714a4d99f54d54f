package tokenfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FileNotFound(t *testing.T) {
	tf, err := Load(filepath.Join(t.TempDir(), "token.json"))
	assert.Nil(t, tf)
	assert.NoError(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	path := Path(filepath.Join(t.TempDir(), "nested"))
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, Save(path, "https://todo.example.com", "access-123", now))

	tf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://todo.example.com", tf.Server)
	assert.Equal(t, "access-123", tf.Token.AccessToken)
	assert.Equal(t, "Bearer", tf.Token.TokenType)
	assert.True(t, now.Equal(tf.SavedAt))
}

func TestSave_FilePermissions(t *testing.T) {
	path := Path(t.TempDir())
	require.NoError(t, Save(path, "http://localhost", "tok", time.Now()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".token-*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestSave_EmptyToken(t *testing.T) {
	require.Error(t, Save(Path(t.TempDir()), "http://localhost", "", time.Now()))
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := Path(t.TempDir())
	require.NoError(t, os.WriteFile(path, []byte("{nope"), FilePerms))

	_, err := Load(path)
	require.ErrorContains(t, err, "decoding")
}

func TestLoad_MissingToken(t *testing.T) {
	path := Path(t.TempDir())
	require.NoError(t, os.WriteFile(path, []byte(`{"server":"http://localhost"}`), FilePerms))

	_, err := Load(path)
	require.ErrorContains(t, err, "has no token")
}

func TestTokenSource(t *testing.T) {
	path := Path(t.TempDir())

	ts, err := TokenSource(path, "http://localhost:8085")
	require.NoError(t, err)
	assert.Nil(t, ts, "no file means no token source")

	require.NoError(t, Save(path, "http://localhost:8085/", "abc", time.Now()))

	ts, err = TokenSource(path, "http://localhost:8085")
	require.NoError(t, err)
	require.NotNil(t, ts)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)

	_, err = TokenSource(path, "https://elsewhere.example.com")
	require.ErrorIs(t, err, ErrServerMismatch)
}

func TestRemove(t *testing.T) {
	path := Path(t.TempDir())
	require.NoError(t, Save(path, "http://localhost", "tok", time.Now()))

	removed, err := Remove(path)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = Remove(path)
	require.NoError(t, err)
	assert.False(t, removed)
}
