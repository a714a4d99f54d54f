// Package devapi is an in-memory implementation of the REST authority the
// sync core talks to. It backs integration tests and lets the CLI run
// against a local server during development.
package devapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/tonimelisma/todosync/internal/entity"
)

// DefaultCollections are served when Config.Collections is empty.
var DefaultCollections = []string{"tasks", "projects"}

// clientOnlyFields are sync bookkeeping the server never stores.
var clientOnlyFields = []string{"synced", "lastSyncTime", "syncError"}

// immutableFields cannot be changed by PATCH.
var immutableFields = map[string]bool{"id": true, "createdAt": true}

// Config holds the options for New.
type Config struct {
	Collections []string
	// Token, when set, is required as a bearer token on every route except
	// the health check.
	Token string
	// NumericIDs makes the server assign its own sequential numeric ids on
	// create unless the client sent a canonical UUID.
	NumericIDs bool
	Logger     *slog.Logger
}

type collection struct {
	items map[string]map[string]any
	order []string
}

// Server holds the collections. All methods are safe for concurrent use.
type Server struct {
	token      string
	numericIDs bool
	logger     *slog.Logger
	nowFunc    func() time.Time

	mu          sync.Mutex
	collections map[string]*collection
	nextID      int

	unavailable atomic.Bool
}

// New returns a server with empty collections.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	names := cfg.Collections
	if len(names) == 0 {
		names = DefaultCollections
	}

	s := &Server{
		token:       cfg.Token,
		numericIDs:  cfg.NumericIDs,
		logger:      logger,
		nowFunc:     time.Now,
		collections: make(map[string]*collection, len(names)),
		nextID:      1000,
	}

	for _, n := range names {
		s.collections[n] = &collection{items: make(map[string]map[string]any)}
	}

	return s
}

// SetAvailable toggles whether the server answers requests. An unavailable
// server responds 503 to everything, including the health check.
func (s *Server) SetAvailable(up bool) {
	s.unavailable.Store(!up)
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestIDHeader)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(s.availability)

	r.Head("/health", s.health)
	r.Get("/health", s.health)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/{collection}", func(r chi.Router) {
			r.Get("/", s.list)
			r.Post("/", s.create)
			r.Get("/{id}", s.get)
			r.Patch("/{id}", s.patch)
			r.Delete("/{id}", s.remove)
		})
	})

	return r
}

// --- middleware ---

func requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set("X-Request-Id", id)
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) availability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.unavailable.Load() {
			writeError(w, http.StatusServiceUnavailable, "server unavailable")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// --- handlers ---

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodGet {
		w.Write([]byte("ok"))
	}
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collection(w, r)
	if !ok {
		return
	}

	out := make([]map[string]any, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collection(w, r)
	if !ok {
		return
	}

	item, ok := c.items[chi.URLParam(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	writeJSON(w, http.StatusOK, item)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload == nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collection(w, r)
	if !ok {
		return
	}

	item := stripClientFields(payload)

	id, _ := item["id"].(string)

	switch {
	case s.numericIDs && !entity.IsCanonicalID(id):
		id = strconv.Itoa(s.nextID)
		s.nextID++
	case id == "":
		id = uuid.NewString()
	}

	if _, exists := c.items[id]; exists {
		writeError(w, http.StatusConflict, fmt.Sprintf("%s already exists", id))
		return
	}

	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	item["id"] = id

	if _, ok := item["createdAt"]; !ok {
		item["createdAt"] = now
	}

	if _, ok := item["updatedAt"]; !ok {
		item["updatedAt"] = now
	}

	c.items[id] = item
	c.order = append(c.order, id)

	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) patch(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collection(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")

	item, ok := c.items[id]
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	next := make(map[string]any, len(item)+len(payload))
	for k, v := range item {
		next[k] = v
	}

	for k, v := range stripClientFields(payload) {
		switch {
		case immutableFields[k]:
		case v == nil:
			delete(next, k)
		default:
			next[k] = v
		}
	}

	next["updatedAt"] = s.nowFunc().UTC().Format(time.RFC3339Nano)
	c.items[id] = next

	writeJSON(w, http.StatusOK, next)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collection(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if !c.delete(id) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// collection resolves the {collection} parameter, writing 404 when unknown.
// Caller must hold s.mu.
func (s *Server) collection(w http.ResponseWriter, r *http.Request) (*collection, bool) {
	c, ok := s.collections[chi.URLParam(r, "collection")]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown collection")
	}

	return c, ok
}

func (c *collection) delete(id string) bool {
	if _, ok := c.items[id]; !ok {
		return false
	}

	delete(c.items, id)

	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}

	return true
}

// --- test hooks ---

// Put stores v in name, replacing any item with the same id. v is encoded
// as JSON, so entity values can be passed directly.
func (s *Server) Put(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("devapi: encoding item: %w", err)
	}

	var item map[string]any
	if err := json.Unmarshal(data, &item); err != nil {
		return fmt.Errorf("devapi: item is not an object: %w", err)
	}

	item = stripClientFields(item)

	id, _ := item["id"].(string)
	if id == "" {
		return fmt.Errorf("devapi: item has no id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("devapi: unknown collection %q", name)
	}

	if _, exists := c.items[id]; !exists {
		c.order = append(c.order, id)
	}

	c.items[id] = item

	return nil
}

// Delete removes an item directly, as if another client deleted it.
func (s *Server) Delete(name, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]

	return ok && c.delete(id)
}

// Items returns a copy of the items in name in insertion order.
func (s *Server) Items(name string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return nil
	}

	out := make([]map[string]any, 0, len(c.order))

	for _, id := range c.order {
		cp := make(map[string]any, len(c.items[id]))
		for k, v := range c.items[id] {
			cp[k] = v
		}

		out = append(out, cp)
	}

	return out
}

// --- helpers ---

func stripClientFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))

	for k, v := range in {
		out[k] = v
	}

	for _, k := range clientOnlyFields {
		delete(out, k)
	}

	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode json response", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	w.Write([]byte(strings.TrimSpace(msg)))
}
