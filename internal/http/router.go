package httpx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/apitrail/internal/domain"
	"github.com/splax/apitrail/internal/service/auth"
	"github.com/splax/apitrail/internal/ws"
	jwtpkg "github.com/splax/apitrail/pkg/jwt"
)

// Collector accepts captured API calls.
type Collector interface {
	CollectLog(ctx context.Context, event domain.LogEvent) (domain.LogEvent, error)
}

// Incidents lists and resolves incidents.
type Incidents interface {
	List(ctx context.Context, status domain.IncidentStatus) ([]domain.Incident, error)
	Resolve(ctx context.Context, id, resolvedBy string) (bool, error)
}

// Analytics answers the read-side queries.
type Analytics interface {
	AvgLatencyByEndpoint(ctx context.Context) ([]domain.EndpointLatency, error)
	TopSlowEndpoints(ctx context.Context, limit int) ([]domain.SlowEndpoint, error)
	ErrorRate(ctx context.Context) (domain.ErrorRate, error)
	Timeline(ctx context.Context, hours int) ([]domain.TimelineBucket, error)
	Stats(ctx context.Context) (domain.AlertStats, error)
	ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.LogEvent, error)
	RecentAlerts(ctx context.Context, limit int) ([]domain.Alert, error)
}

// Authenticator registers operators and validates their bearer tokens.
type Authenticator interface {
	Register(ctx context.Context, username, email, password string) (auth.Session, error)
	Login(ctx context.Context, username, password string) (auth.Session, error)
	Authorize(ctx context.Context, token string) (*jwtpkg.Claims, error)
}

// Deps are the services the router dispatches to.
type Deps struct {
	Logger    *slog.Logger
	Auth      Authenticator
	Collector Collector
	Incidents Incidents
	Analytics Analytics
	Hub       *ws.Hub
	Limiter   RateLimiter
	DBHealth  func(context.Context) error
}

// Options tune the HTTP surface.
type Options struct {
	IngestToken        string
	IngestMaxBodyBytes int64
	// IngestRateLimit caps ingestion requests per client IP per minute. Zero disables it.
	IngestRateLimit int
	Registerer      prometheus.Registerer
	Gatherer        prometheus.Gatherer
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	auth        Authenticator
	collector   Collector
	incidents   Incidents
	analytics   Analytics
	hub         *ws.Hub
	upgrader    websocket.Upgrader
	limiter     RateLimiter
	metrics     *httpMetrics
	gatherer    prometheus.Gatherer
	ingestToken string
	maxBody     int64
	ingestLimit int
	dbHealth    func(context.Context) error
}

const (
	rateWindowDefault    = time.Minute
	rateWindowRealtime   = 30 * time.Second
	rateLimitRegister    = 5
	rateLimitLogin       = 12
	rateLimitUserWrite   = 60
	rateLimitUserRead    = 240
	rateLimitRealtime    = 30
	defaultMaxBodyBytes  = 1 << 20
	healthCheckTimeout   = 2 * time.Second
	sseHeartbeatInterval = 15 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(deps Deps, opts Options) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.IngestMaxBodyBytes <= 0 {
		opts.IngestMaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.Registerer == nil {
		registry := prometheus.NewRegistry()
		opts.Registerer, opts.Gatherer = registry, registry
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger.With("component", "http"),
		auth:      deps.Auth,
		collector: deps.Collector,
		incidents: deps.Incidents,
		analytics: deps.Analytics,
		hub:       deps.Hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:     deps.Limiter,
		metrics:     newHTTPMetrics(opts.Registerer),
		gatherer:    opts.Gatherer,
		ingestToken: strings.TrimSpace(opts.IngestToken),
		maxBody:     opts.IngestMaxBodyBytes,
		ingestLimit: opts.IngestRateLimit,
		dbHealth:    deps.DBHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))

	r.mux.HandleFunc("/api/auth/register", r.audit("/api/auth/register", r.handlerIPRate("/api/auth/register", rateLimitRegister, rateWindowDefault, r.handleRegister)))
	r.mux.HandleFunc("/api/auth/login", r.audit("/api/auth/login", r.handlerIPRate("/api/auth/login", rateLimitLogin, rateWindowDefault, r.handleLogin)))

	r.mux.HandleFunc("/api/logs", r.audit("/api/logs", r.handleLogs))
	r.mux.HandleFunc("/api/alerts", r.audit("/api/alerts", r.handlerAuthRate("/api/alerts", rateLimitUserRead, rateWindowDefault, r.handleAlerts)))
	r.mux.HandleFunc("/api/stats", r.audit("/api/stats", r.handlerAuthRate("/api/stats", rateLimitUserRead, rateWindowDefault, r.handleStats)))

	r.mux.HandleFunc("/api/incidents", r.audit("/api/incidents", r.handlerAuthRate("/api/incidents", rateLimitUserRead, rateWindowDefault, r.handleIncidents(""))))
	r.mux.HandleFunc("/api/incidents/open", r.audit("/api/incidents/open", r.handlerAuthRate("/api/incidents/open", rateLimitUserRead, rateWindowDefault, r.handleIncidents(domain.IncidentOpen))))
	r.mux.HandleFunc("/api/incidents/resolved", r.audit("/api/incidents/resolved", r.handlerAuthRate("/api/incidents/resolved", rateLimitUserRead, rateWindowDefault, r.handleIncidents(domain.IncidentResolved))))
	r.mux.HandleFunc("/api/incidents/{id}/resolve", r.audit("/api/incidents/{id}/resolve", r.handlerAuthRate("/api/incidents/{id}/resolve", rateLimitUserWrite, rateWindowDefault, r.handleResolveIncident)))

	r.mux.HandleFunc("/api/analytics/avg-latency", r.audit("/api/analytics/avg-latency", r.handlerAuthRate("/api/analytics", rateLimitUserRead, rateWindowDefault, r.handleAvgLatency)))
	r.mux.HandleFunc("/api/analytics/top-slow-endpoints", r.audit("/api/analytics/top-slow-endpoints", r.handlerAuthRate("/api/analytics", rateLimitUserRead, rateWindowDefault, r.handleTopSlow)))
	r.mux.HandleFunc("/api/analytics/error-rate", r.audit("/api/analytics/error-rate", r.handlerAuthRate("/api/analytics", rateLimitUserRead, rateWindowDefault, r.handleErrorRate)))
	r.mux.HandleFunc("/api/analytics/timeline", r.audit("/api/analytics/timeline", r.handlerAuthRate("/api/analytics", rateLimitUserRead, rateWindowDefault, r.handleTimeline)))

	r.mux.HandleFunc("/ws/events", r.audit("/ws/events", r.handlerAuthRate("/ws/events", rateLimitRealtime, rateWindowRealtime, r.handleEventsWS)))
	r.mux.HandleFunc("/api/stream", r.audit("/api/stream", r.handlerAuthRate("/api/stream", rateLimitRealtime, rateWindowRealtime, r.handleEventsSSE)))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	if r.hub != nil {
		components["live"] = map[string]any{"subscribers": r.hub.Subscribers(liveTopic)}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID, "username", info.Username)
		} else if route == "/api/logs" && req.Method == http.MethodPost {
			actor = "tracker"
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		case actor == "tracker":
			// Ingestion is high volume; successful posts are only visible at debug level.
			r.logger.Debug("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the connection for write deadlines.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
