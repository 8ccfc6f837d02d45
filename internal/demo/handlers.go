// Package demo is a small instrumented service that exercises the tracking middleware with
// fast, slow and failing endpoints.
package demo

import (
	"context"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// User is the payload served by the demo endpoints.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Service simulates work by sleeping for a random duration within each endpoint's range.
type Service struct {
	sleep func(ctx context.Context, d time.Duration)
	rand  func(lo, hi int64) int64
}

// New returns a Service that really sleeps.
func New() *Service {
	return &Service{sleep: sleepCtx, rand: between}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func between(lo, hi int64) int64 {
	return lo + rand.Int64N(hi-lo)
}

func (s *Service) pause(req *http.Request, loMS, hiMS int64) {
	s.sleep(req.Context(), time.Duration(s.rand(loMS, hiMS))*time.Millisecond)
}

// Routes registers the demo endpoints on mux.
func (s *Service) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/users", s.listUsers)
	mux.HandleFunc("GET /api/users/{id}", s.getUser)
	mux.HandleFunc("POST /api/users", s.createUser)
	mux.HandleFunc("GET /api/slow-endpoint", s.slow)
	mux.HandleFunc("GET /api/error-endpoint", s.fail)
	mux.HandleFunc("GET /api/reports", s.report)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func (s *Service) listUsers(w http.ResponseWriter, req *http.Request) {
	s.pause(req, 50, 300)
	writeJSON(w, http.StatusOK, []User{
		{ID: "1", Name: "John Doe", Email: "john@example.com"},
		{ID: "2", Name: "Jane Smith", Email: "jane@example.com"},
	})
}

func (s *Service) getUser(w http.ResponseWriter, req *http.Request) {
	s.pause(req, 50, 200)
	id := req.PathValue("id")
	writeJSON(w, http.StatusOK, User{ID: id, Name: "User " + id, Email: "user" + id + "@example.com"})
}

func (s *Service) createUser(w http.ResponseWriter, req *http.Request) {
	var user User
	if err := json.NewDecoder(req.Body).Decode(&user); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if strings.TrimSpace(user.Name) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	s.pause(req, 100, 400)
	user.ID = strconv.FormatInt(s.rand(100, 999), 10)
	writeJSON(w, http.StatusCreated, user)
}

func (s *Service) slow(w http.ResponseWriter, req *http.Request) {
	s.pause(req, 600, 1200)
	writeJSON(w, http.StatusOK, map[string]string{"message": "This endpoint is intentionally slow"})
}

func (s *Service) fail(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Simulated server error"})
}

func (s *Service) report(w http.ResponseWriter, req *http.Request) {
	s.pause(req, 100, 800)
	writeJSON(w, http.StatusOK, map[string]any{
		"reportId": s.rand(1000, 9999),
		"status":   "completed",
		"records":  s.rand(100, 1000),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
