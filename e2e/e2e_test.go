//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	gosync "sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/todosync/internal/devapi"
	"github.com/tonimelisma/todosync/testutil"
)

var binaryPath string

func TestMain(m *testing.M) {
	root := testutil.FindModuleRoot("..")
	testutil.LoadDotEnv(filepath.Join(root, ".env"))

	tmpDir, err := os.MkdirTemp("", "todosync-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath, err = testutil.BuildBinary(root, ".", tmpDir, "todosync")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.RemoveAll(tmpDir)
		os.Exit(1)
	}

	code := m.Run()

	os.RemoveAll(tmpDir)
	os.Exit(code)
}

// env is one isolated client: its own config file and data directory.
type env struct {
	t       *testing.T
	api     *devapi.Server // nil against an external server
	server  string
	token   string
	dir     string
	cfgPath string
}

func newEnv(t *testing.T, configBody string) *env {
	t.Helper()

	e := &env{t: t, dir: t.TempDir()}
	e.cfgPath = filepath.Join(e.dir, "config.toml")

	if url, token := testutil.ExternalServer(); url != "" {
		e.server, e.token = url, token
	} else {
		e.api = devapi.New(devapi.Config{})
		srv := httptest.NewServer(e.api.Routes())
		t.Cleanup(srv.Close)
		e.server = srv.URL
	}

	if configBody != "" {
		require.NoError(t, os.WriteFile(e.cfgPath, []byte(configBody), 0o600))
	}

	return e
}

func (e *env) command(args ...string) *exec.Cmd {
	full := append([]string{"--config", e.cfgPath, "--data-dir", filepath.Join(e.dir, "data"), "--server", e.server}, args...)

	cmd := exec.Command(binaryPath, full...)
	cmd.Env = append(os.Environ(), "TODOSYNC_TOKEN="+e.token, "TODOSYNC_CONFIG=", "TODOSYNC_DATA_DIR=", "TODOSYNC_SERVER_URL=")

	return cmd
}

// run executes the CLI and returns stdout, stderr and the exit code.
func (e *env) run(args ...string) (string, string, int) {
	e.t.Helper()

	cmd := e.command(args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.String(), stderr.String(), exitErr.ExitCode()
	}

	require.NoError(e.t, err)

	return stdout.String(), stderr.String(), 0
}

// mustRun fails the test on a non-zero exit.
func (e *env) mustRun(args ...string) string {
	e.t.Helper()

	stdout, stderr, code := e.run(args...)
	require.Zero(e.t, code, "todosync %v\nstdout: %s\nstderr: %s", args, stdout, stderr)

	return stdout
}

type taskJSON struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	Synced    bool   `json:"synced"`
	ProjectID string `json:"projectId"`
}

func (e *env) listTasks(extra ...string) []taskJSON {
	e.t.Helper()

	var tasks []taskJSON
	require.NoError(e.t, json.Unmarshal([]byte(e.mustRun(append([]string{"--json", "tasks", "list"}, extra...)...)), &tasks))

	return tasks
}

func TestE2E_TaskRoundTrip(t *testing.T) {
	e := newEnv(t, "")
	title := fmt.Sprintf("e2e task %d", time.Now().UnixNano())

	var created taskJSON
	require.NoError(t, json.Unmarshal([]byte(e.mustRun("--json", "tasks", "add", title, "--priority", "1")), &created))
	assert.Equal(t, title, created.Title)
	assert.True(t, created.Synced, "online create is pushed before the command exits")

	e.mustRun("tasks", "done", created.ID[:8])

	all := e.listTasks("--all")
	require.NotEmpty(t, all)
	assert.True(t, all[0].Completed)

	open := e.listTasks()
	for _, task := range open {
		assert.NotEqual(t, created.ID, task.ID)
	}

	e.mustRun("tasks", "rm", created.ID)

	for _, task := range e.listTasks("--all") {
		assert.NotEqual(t, created.ID, task.ID)
	}
}

func TestE2E_OfflineQueueThenSync(t *testing.T) {
	e := newEnv(t, "")

	var project struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(e.mustRun("--offline", "--json", "projects", "add", "Errands")), &project))

	e.mustRun("--offline", "tasks", "add", "Post letter", "--project", project.ID[:8], "--due", "2030-01-15")

	var status struct {
		Summary string `json:"summary"`
		Status  struct {
			Pending int `json:"pending"`
		} `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(e.mustRun("--offline", "--json", "status")), &status))
	assert.Equal(t, "Offline", status.Summary)
	assert.Equal(t, 2, status.Status.Pending)

	_, stderr, code := e.run("--offline", "sync")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "network unavailable")

	_, _, code = e.run("sync")
	require.Zero(t, code)

	tasks := e.listTasks()
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].Synced)
	assert.Equal(t, project.ID, tasks[0].ProjectID)

	if e.api != nil {
		require.Len(t, e.api.Items("tasks"), 1)
		require.Len(t, e.api.Items("projects"), 1)
	}
}

func TestE2E_HealthAndConflictsEmpty(t *testing.T) {
	e := newEnv(t, "")

	e.mustRun("health")

	stdout := e.mustRun("--json", "conflicts")
	assert.JSONEq(t, "[]", stdout)

	_, stderr, code := e.run("resolve", "--all")
	assert.Zero(t, code)
	assert.Contains(t, stderr, "No unresolved conflicts")
}

func TestE2E_ConfigShowMasksToken(t *testing.T) {
	e := newEnv(t, "[server]\ntoken = \"super-secret-1234\"\n")

	stdout := e.mustRun("config", "show")
	assert.Contains(t, stdout, "****1234")
	assert.NotContains(t, stdout, "super-secret")
}

func TestE2E_WatchDaemon(t *testing.T) {
	if e2eServerIsExternal() {
		t.Skip("watch test needs the in-process server")
	}

	e := newEnv(t, `[sync]
immediate_interval = "1s"

[network]
probe_interval = "1s"
`)

	watch := e.command("watch")

	watchErr := &lockedBuffer{}
	watch.Stderr = watchErr

	require.NoError(t, watch.Start())

	done := make(chan error, 1)
	go func() { done <- watch.Wait() }()

	t.Cleanup(func() { _ = watch.Process.Kill() })

	require.Eventually(t, func() bool {
		return strings.Contains(watchErr.String(), "Watching ")
	}, 10*time.Second, 50*time.Millisecond, "watch did not start: %s", watchErr)

	pidPath := filepath.Join(e.dir, "data", "todosync.pid")
	require.FileExists(t, pidPath)

	// Other commands are refused while watch owns the data directory.
	_, stderr, code := e.run("tasks", "list")
	assert.NotZero(t, code)
	assert.Contains(t, stderr, "in use by another todosync process")

	// A record created on the server shows up on the next automatic sync.
	now := time.Now().UTC()
	require.NoError(t, e.api.Put("tasks", map[string]any{
		"id": "11111111-2222-4333-8444-555555555555", "title": "From server",
		"createdAt": now, "updatedAt": now,
	}))

	e.mustRun("config", "reload")

	require.Eventually(t, func() bool {
		out := watchErr.String()
		return strings.Contains(out, "config reloaded") && strings.Contains(out, `"pulled":1`)
	}, 15*time.Second, 100*time.Millisecond, "watch did not reload and pull: %s", watchErr)

	require.NoError(t, watch.Process.Signal(syscall.SIGINT))

	select {
	case err := <-done:
		require.NoError(t, err, watchErr.String())
	case <-time.After(15 * time.Second):
		t.Fatal("watch did not stop after SIGINT")
	}

	_, err := os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err), "PID file removed on exit")

	tasks := e.listTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "From server", tasks[0].Title)
}

// lockedBuffer is a bytes.Buffer safe for the child's writer goroutine and
// the test to share.
type lockedBuffer struct {
	mu  gosync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func e2eServerIsExternal() bool {
	url, _ := testutil.ExternalServer()
	return strings.TrimSpace(url) != ""
}
