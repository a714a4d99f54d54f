package devapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()

	s := New(cfg)
	s.nowFunc = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)

	return s, srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}

	return resp, out
}

func TestHealth(t *testing.T) {
	s, srv := newTestServer(t, Config{})

	resp, _ := doJSON(t, srv, http.MethodHead, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	s.SetAvailable(false)

	resp, _ = doJSON(t, srv, http.MethodHead, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCRUD(t *testing.T) {
	_, srv := newTestServer(t, Config{})

	resp, created := doJSON(t, srv, http.MethodPost, "/tasks", map[string]any{
		"title":  "Buy milk",
		"synced": false,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.NotContains(t, created, "synced")
	assert.Equal(t, "2024-05-01T10:00:00Z", created["createdAt"])

	resp, patched := doJSON(t, srv, http.MethodPatch, "/tasks/"+id, map[string]any{
		"completed": true,
		"id":        "other",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, patched["completed"])
	assert.Equal(t, id, patched["id"], "id cannot be patched")

	resp, got := doJSON(t, srv, http.MethodGet, "/tasks/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Buy milk", got["title"])

	resp, _ = doJSON(t, srv, http.MethodDelete, "/tasks/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, srv, http.MethodDelete, "/tasks/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreate_KeepsClientIDAndRejectsDuplicates(t *testing.T) {
	s, srv := newTestServer(t, Config{})

	resp, _ := doJSON(t, srv, http.MethodPost, "/tasks", map[string]any{"id": "a1", "title": "x"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = doJSON(t, srv, http.MethodPost, "/tasks", map[string]any{"id": "a1", "title": "x"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	items := s.Items("tasks")
	require.Len(t, items, 1)
	assert.Equal(t, "a1", items[0]["id"])
}

func TestCreate_NumericIDs(t *testing.T) {
	_, srv := newTestServer(t, Config{NumericIDs: true})

	_, first := doJSON(t, srv, http.MethodPost, "/tasks", map[string]any{"id": "a1", "title": "x"})
	_, second := doJSON(t, srv, http.MethodPost, "/tasks", map[string]any{"id": "a2", "title": "y"})

	assert.Equal(t, "1000", first["id"])
	assert.Equal(t, "1001", second["id"])

	const canonical = "7d444840-9dc0-11d1-b245-5ffdce74fad2"

	_, kept := doJSON(t, srv, http.MethodPost, "/tasks", map[string]any{"id": canonical, "title": "z"})
	assert.Equal(t, canonical, kept["id"], "canonical ids are kept")
}

func TestPatch_NullClearsField(t *testing.T) {
	s, srv := newTestServer(t, Config{})
	require.NoError(t, s.Put("tasks", map[string]any{"id": "a1", "title": "x", "priority": 3}))

	resp, patched := doJSON(t, srv, http.MethodPatch, "/tasks/a1", map[string]any{"priority": nil})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, patched, "priority")
}

func TestList_InsertionOrder(t *testing.T) {
	s, srv := newTestServer(t, Config{})

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.Put("tasks", map[string]any{"id": id, "title": id}))
	}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/tasks", nil)
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var items []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	require.Len(t, items, 3)
	assert.Equal(t, "c", items[0]["id"])
	assert.Equal(t, "b", items[2]["id"])
}

func TestUnknownCollection(t *testing.T) {
	_, srv := newTestServer(t, Config{})

	resp, _ := doJSON(t, srv, http.MethodGet, "/widgets", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBearerToken(t *testing.T) {
	_, srv := newTestServer(t, Config{Token: "secret"})

	resp, _ := doJSON(t, srv, http.MethodGet, "/tasks", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, srv, http.MethodHead, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health is open")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/tasks", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")

	ok, err := srv.Client().Do(req)
	require.NoError(t, err)
	ok.Body.Close()
	assert.Equal(t, http.StatusOK, ok.StatusCode)
}

func TestPut_Validation(t *testing.T) {
	s := New(Config{})

	assert.Error(t, s.Put("tasks", map[string]any{"title": "no id"}))
	assert.Error(t, s.Put("widgets", map[string]any{"id": "a"}))
	assert.Error(t, s.Put("tasks", []int{1}))
	assert.False(t, s.Delete("tasks", "missing"))
}
