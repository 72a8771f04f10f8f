// Package progresstest provides an in-process backend that enforces the
// (userId, stageId) uniqueness constraint, for tests and local development.
package progresstest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/progress"
)

// uniqueViolation mimics the ORM error body the real backend returns on a duplicate create.
const uniqueViolation = `{"statusCode":400,"code":"P2002","message":"Unique constraint failed on the fields: (` + "`userId`,`stageId`" + `)"}`

// Hooks let tests interpose on requests. All hooks may be nil.
type Hooks struct {
	// BeforeGet runs before a filtered GET is answered.
	BeforeGet func(userID, stageID string)
	// BeforeCreate runs before a POST is checked for uniqueness.
	BeforeCreate func(userID, stageID string)
	// HideOnGet makes filtered GETs report nothing while it returns true.
	HideOnGet func(userID, stageID string) bool
}

// Server is the fake backend.
type Server struct {
	srv *httptest.Server

	mu      sync.Mutex
	records map[string]progress.StageProgress // by id
	byKey   map[string]string                 // userId|stageId -> id
	hooks   Hooks

	// Token, when non-empty, is required as bearer on progress routes and returned by login.
	token    string
	password string

	creates   atomic.Int32
	conflicts atomic.Int32
	offline   atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithHooks installs request hooks.
func WithHooks(h Hooks) Option { return func(s *Server) { s.hooks = h } }

// WithAuth requires bearer token on progress routes; login succeeds with password.
func WithAuth(token, password string) Option {
	return func(s *Server) {
		s.token = token
		s.password = password
	}
}

// New starts a fake backend on a loopback port.
func New(opts ...Option) *Server {
	s := &Server{
		records: make(map[string]progress.StageProgress),
		byKey:   make(map[string]string),
	}
	for _, o := range opts {
		o(s)
	}
	s.srv = httptest.NewServer(s.routes())
	return s
}

// URL is the backend base URL.
func (s *Server) URL() string { return s.srv.URL }

// Close stops the server.
func (s *Server) Close() { s.srv.Close() }

// SetOffline makes every route answer 503 while on.
func (s *Server) SetOffline(on bool) { s.offline.Store(on) }

// Creates is the number of successful creates.
func (s *Server) Creates() int { return int(s.creates.Load()) }

// Conflicts is the number of rejected duplicate creates.
func (s *Server) Conflicts() int { return int(s.conflicts.Load()) }

// Records returns all stored records ordered by user then stage.
func (s *Server) Records() []progress.StageProgress {
	s.mu.Lock()
	out := make([]progress.StageProgress, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].StageID < out[j].StageID
	})
	return out
}

// Seed stores rec directly, assigning an id when missing.
func (s *Server) Seed(rec progress.StageProgress) progress.StageProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.records[rec.ID] = rec
	s.byKey[key(rec.UserID, rec.StageID)] = rec.ID
	return rec
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.availability)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/auth/login", s.login)

	r.Group(func(r chi.Router) {
		r.Use(s.auth)
		r.Get(progress.ResourcePath, s.query)
		r.Post(progress.ResourcePath, s.create)
		r.Put(progress.ResourcePath+"/{id}", s.update)
	})
	return r
}

func (s *Server) availability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.offline.Load() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "offline"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "email is required"})
		return
	}
	if s.password != "" && body.Password != s.password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
		return
	}
	tok := s.token
	if tok == "" {
		tok = "dev-" + uuid.NewString()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": tok,
		"user":  map[string]string{"id": body.Email, "email": body.Email},
	})
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	stageID := r.URL.Query().Get("stageId")

	if stageID == "" {
		s.mu.Lock()
		list := make([]progress.StageProgress, 0)
		for _, rec := range s.records {
			if rec.UserID == userID {
				list = append(list, rec)
			}
		}
		s.mu.Unlock()
		sort.Slice(list, func(i, j int) bool { return list[i].StageID < list[j].StageID })
		writeJSON(w, http.StatusOK, list)
		return
	}

	if s.hooks.BeforeGet != nil {
		s.hooks.BeforeGet(userID, stageID)
	}
	if s.hooks.HideOnGet != nil && s.hooks.HideOnGet(userID, stageID) {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	s.mu.Lock()
	id, ok := s.byKey[key(userID, stageID)]
	rec := s.records[id]
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	var rec progress.StageProgress
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil || rec.UserID == "" || rec.StageID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "userId and stageId are required"})
		return
	}
	if s.hooks.BeforeCreate != nil {
		s.hooks.BeforeCreate(rec.UserID, rec.StageID)
	}

	s.mu.Lock()
	k := key(rec.UserID, rec.StageID)
	if _, dup := s.byKey[k]; dup {
		s.mu.Unlock()
		s.conflicts.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(uniqueViolation))
		return
	}
	rec.ID = uuid.NewString()
	s.records[rec.ID] = rec
	s.byKey[k] = rec.ID
	s.mu.Unlock()

	s.creates.Add(1)
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var patch map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}
	delete(patch, "id")
	delete(patch, "userId")
	delete(patch, "stageId")

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "record not found"})
		return
	}

	merged, err := merge(cur, patch)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	s.records[id] = merged
	writeJSON(w, http.StatusOK, merged)
}

// merge overlays the JSON fields of patch on cur; explicit nulls clear a field.
func merge(cur progress.StageProgress, patch map[string]json.RawMessage) (progress.StageProgress, error) {
	b, err := json.Marshal(cur)
	if err != nil {
		return cur, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return cur, err
	}
	for k, v := range patch {
		if strings.TrimSpace(string(v)) == "null" {
			delete(m, k)
			continue
		}
		m[k] = v
	}
	b, err = json.Marshal(m)
	if err != nil {
		return cur, err
	}
	var out progress.StageProgress
	if err := json.Unmarshal(b, &out); err != nil {
		return cur, err
	}
	return out, nil
}

func key(userID, stageID string) string { return userID + "|" + stageID }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
