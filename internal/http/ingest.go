package httpx

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/splax/apitrail/internal/domain"
	"github.com/splax/apitrail/internal/repository"
	"github.com/splax/apitrail/internal/service/collector"
	"github.com/splax/apitrail/internal/view"
)

const ingestTokenHeader = "X-Ingest-Token"

// ingestPayload mirrors the event posted by tracking clients. The timestamp is parsed by hand so
// both zoned and zone-less ISO-8601 values are accepted.
type ingestPayload struct {
	ServiceName  string `json:"serviceName"`
	Endpoint     string `json:"endpoint"`
	Method       string `json:"method"`
	RequestSize  int64  `json:"requestSize"`
	ResponseSize int64  `json:"responseSize"`
	StatusCode   int    `json:"statusCode"`
	Timestamp    string `json:"timestamp"`
	LatencyMS    int64  `json:"latencyMs"`
	EventType    string `json:"eventType"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
}

func (p ingestPayload) toEvent() (domain.LogEvent, error) {
	ts, err := parseTimestamp(p.Timestamp)
	if err != nil {
		return domain.LogEvent{}, err
	}
	return domain.LogEvent{
		ServiceName:  p.ServiceName,
		Endpoint:     p.Endpoint,
		Method:       p.Method,
		RequestSize:  p.RequestSize,
		ResponseSize: p.ResponseSize,
		StatusCode:   p.StatusCode,
		Timestamp:    ts,
		LatencyMS:    p.LatencyMS,
		EventType:    domain.EventType(p.EventType),
	}, nil
}

func (r *Router) handleLogs(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		r.handlerIngestRate("/api/logs", r.ingestLimit, rateWindowDefault, r.handleIngest)(w, req)
	case http.MethodGet:
		r.handlerAuthRate("/api/logs", rateLimitUserRead, rateWindowDefault, r.handleListLogs)(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleIngest(w http.ResponseWriter, req *http.Request) {
	if !r.verifyIngestToken(w, req) {
		return
	}
	body, err := r.ingestBody(w, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	var payload ingestPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	event, err := payload.toEvent()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stored, err := r.collector.CollectLog(req.Context(), event)
	if err != nil {
		if errors.Is(err, collector.ErrInvalidEvent) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		r.logger.Error("event persistence failed", "service", event.ServiceName, "endpoint", event.Endpoint, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store event")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message": "Log collected successfully",
		"id":      stored.ID,
	})
}

// ingestBody bounds the request body and transparently inflates gzip payloads. The decompressed
// stream is bounded by the same limit as the raw one.
func (r *Router) ingestBody(w http.ResponseWriter, req *http.Request) (io.ReadCloser, error) {
	raw := http.MaxBytesReader(w, req.Body, r.maxBody)
	if !strings.EqualFold(strings.TrimSpace(req.Header.Get("Content-Encoding")), "gzip") {
		return raw, nil
	}
	zr, err := gzip.NewReader(raw)
	if err != nil {
		_ = raw.Close()
		return nil, errors.New("invalid gzip body")
	}
	return &gzipBody{Reader: http.MaxBytesReader(w, zr, r.maxBody), zr: zr, raw: raw}, nil
}

type gzipBody struct {
	io.Reader
	zr  *gzip.Reader
	raw io.Closer
}

func (b *gzipBody) Close() error {
	return errors.Join(b.zr.Close(), b.raw.Close())
}

// verifyIngestToken enforces the shared ingest token when one is configured.
func (r *Router) verifyIngestToken(w http.ResponseWriter, req *http.Request) bool {
	expected := r.ingestToken
	if expected == "" {
		return true
	}
	token := strings.TrimSpace(req.Header.Get(ingestTokenHeader))
	if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		r.logger.Warn("ingest token mismatch", "path", req.URL.Path, "ip", clientIP(req))
		writeError(w, http.StatusUnauthorized, "invalid ingest token")
		return false
	}
	return true
}

func (r *Router) handleListLogs(w http.ResponseWriter, req *http.Request) {
	filter, err := parseEventFilter(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := r.analytics.ListEvents(req.Context(), filter)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		r.logger.Error("list events failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, view.Events(events))
}

func parseEventFilter(req *http.Request) (domain.EventFilter, error) {
	q := req.URL.Query()
	filter := domain.EventFilter{
		ServiceName: strings.TrimSpace(q.Get("serviceName")),
		Endpoint:    strings.TrimSpace(q.Get("endpoint")),
	}
	for name, dst := range map[string]**time.Time{"startDate": &filter.StartDate, "endDate": &filter.EndDate} {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			continue
		}
		ts, err := parseTimestamp(raw)
		if err != nil {
			return filter, fmt.Errorf("%s: %w", name, err)
		}
		*dst = &ts
	}
	if raw := strings.TrimSpace(q.Get("statusCode")); raw != "" {
		code, err := strconv.Atoi(raw)
		if err != nil {
			return filter, fmt.Errorf("statusCode must be an integer")
		}
		filter.StatusCode = &code
	}
	for name, dst := range map[string]*bool{"slowApi": &filter.SlowAPI, "brokenApi": &filter.BrokenAPI, "rateLimitHit": &filter.RateLimitHit} {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			continue
		}
		flag, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, fmt.Errorf("%s must be a boolean", name)
		}
		*dst = flag
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		return filter, err
	}
	filter.Limit = limit
	return filter, nil
}

// parseLimit returns 0 for an absent value so the service default applies.
func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return limit, nil
}
