package httpx

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/splax/apitrail/internal/domain"
	"github.com/splax/apitrail/internal/service/auth"
	"github.com/splax/apitrail/internal/service/incident"
	"github.com/splax/apitrail/internal/view"
)

func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Email    string `json:"email"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := r.auth.Register(req.Context(), payload.Username, payload.Email, payload.Password)
	switch {
	case errors.Is(err, auth.ErrUsernameTaken):
		writeError(w, http.StatusBadRequest, "Username already exists")
		return
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		r.logger.Error("register failed", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":     "User registered successfully",
		"accessToken": session.AccessToken,
		"tokenType":   "Bearer",
		"username":    session.User.Username,
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := r.auth.Login(req.Context(), payload.Username, payload.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
		r.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken": session.AccessToken,
		"tokenType":   "Bearer",
		"username":    session.User.Username,
		"expiresIn":   int64(session.ExpiresIn.Seconds()),
	})
}

func (r *Router) handleAlerts(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit, err := parseLimit(req.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	alerts, err := r.analytics.RecentAlerts(req.Context(), limit)
	if err != nil {
		r.logger.Error("list alerts failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	writeJSON(w, http.StatusOK, view.Alerts(alerts))
}

func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	stats, err := r.analytics.Stats(req.Context())
	if err != nil {
		r.logger.Error("stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, view.FromStats(stats))
}

func (r *Router) handleIncidents(status domain.IncidentStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		incidents, err := r.incidents.List(req.Context(), status)
		if err != nil {
			r.logger.Error("list incidents failed", "status", status, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list incidents")
			return
		}
		writeJSON(w, http.StatusOK, view.Incidents(incidents))
	}
}

func (r *Router) handleResolveIncident(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPut {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for incident resolve", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	id := strings.TrimSpace(req.PathValue("id"))
	resolved, err := r.incidents.Resolve(req.Context(), id, info.Username)
	if err != nil && !errors.Is(err, incident.ErrResolverRequired) {
		r.logger.Error("resolve incident failed", "incident_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resolve incident")
		return
	}
	if !resolved {
		writeError(w, http.StatusBadRequest, "Failed to resolve incident or already resolved")
		return
	}
	writeMessage(w, http.StatusOK, "Incident resolved successfully")
}

func (r *Router) handleAvgLatency(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	rows, err := r.analytics.AvgLatencyByEndpoint(req.Context())
	if err != nil {
		r.analyticsFailed(w, "avg-latency", err)
		return
	}
	writeJSON(w, http.StatusOK, view.EndpointLatencies(rows))
}

func (r *Router) handleTopSlow(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit, err := parseLimit(req.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := r.analytics.TopSlowEndpoints(req.Context(), limit)
	if err != nil {
		r.analyticsFailed(w, "top-slow-endpoints", err)
		return
	}
	writeJSON(w, http.StatusOK, view.SlowEndpoints(rows))
}

func (r *Router) handleErrorRate(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	rate, err := r.analytics.ErrorRate(req.Context())
	if err != nil {
		r.analyticsFailed(w, "error-rate", err)
		return
	}
	writeJSON(w, http.StatusOK, view.FromErrorRate(rate))
}

func (r *Router) handleTimeline(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	hours := 0
	if raw := strings.TrimSpace(req.URL.Query().Get("hours")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "hours must be a non-negative integer")
			return
		}
		hours = parsed
	}
	buckets, err := r.analytics.Timeline(req.Context(), hours)
	if err != nil {
		r.analyticsFailed(w, "timeline", err)
		return
	}
	writeJSON(w, http.StatusOK, view.Timeline(buckets))
}

func (r *Router) analyticsFailed(w http.ResponseWriter, query string, err error) {
	r.logger.Error("analytics query failed", "query", query, "error", err)
	writeError(w, http.StatusInternalServerError, "analytics query failed")
}
