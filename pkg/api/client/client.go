// Package client is a typed HTTP client for the collector API, used by the apitrail CLI.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/splax/apitrail/internal/view"
)

// DefaultBaseURL is used when no API base URL is configured.
const DefaultBaseURL = "http://localhost:8080"

// Response shapes shared with the collector's HTTP layer.
type (
	Event           = view.Event
	Alert           = view.Alert
	Incident        = view.Incident
	EndpointLatency = view.EndpointLatency
	SlowEndpoint    = view.SlowEndpoint
	ErrorRate       = view.ErrorRate
	TimelineBucket  = view.TimelineBucket
	Stats           = view.Stats
)

// Client provides typed access to the collector API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// BaseURL reports the normalised API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

func withLimit(path string, name string, n int) string {
	if n <= 0 {
		return path
	}
	return path + "?" + name + "=" + strconv.Itoa(n)
}

// LoginResponse captures the token payload emitted by the API.
type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	Username    string `json:"username"`
	ExpiresIn   int64  `json:"expiresIn,omitempty"`
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResponse, error) {
	body := map[string]string{
		"username": username,
		"password": password,
	}
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, "", &resp); err != nil {
		return LoginResponse{}, err
	}
	return resp, nil
}

// Register creates an account and returns its first access token.
func (c *Client) Register(ctx context.Context, username, email, password string) (LoginResponse, error) {
	body := map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", body, "", &resp); err != nil {
		return LoginResponse{}, err
	}
	return resp, nil
}

// ListIncidents returns incidents, optionally narrowed to "open" or "resolved".
func (c *Client) ListIncidents(ctx context.Context, token, status string) ([]Incident, error) {
	path := "/api/incidents"
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "":
	case "open":
		path += "/open"
	case "resolved":
		path += "/resolved"
	default:
		return nil, fmt.Errorf("unknown incident status %q", status)
	}
	var incidents []Incident
	if err := c.do(ctx, http.MethodGet, path, nil, token, &incidents); err != nil {
		return nil, err
	}
	return incidents, nil
}

// ResolveIncident marks an open incident as resolved by the token's user.
func (c *Client) ResolveIncident(ctx context.Context, token, id string) error {
	path := fmt.Sprintf("/api/incidents/%s/resolve", url.PathEscape(id))
	return c.do(ctx, http.MethodPut, path, nil, token, nil)
}

// RecentAlerts returns the newest alerts first.
func (c *Client) RecentAlerts(ctx context.Context, token string, limit int) ([]Alert, error) {
	var alerts []Alert
	if err := c.do(ctx, http.MethodGet, withLimit("/api/alerts", "limit", limit), nil, token, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

// Stats returns the violation counters.
func (c *Client) Stats(ctx context.Context, token string) (Stats, error) {
	var stats Stats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, token, &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// AvgLatency returns the average latency per endpoint.
func (c *Client) AvgLatency(ctx context.Context, token string) ([]EndpointLatency, error) {
	var rows []EndpointLatency
	if err := c.do(ctx, http.MethodGet, "/api/analytics/avg-latency", nil, token, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// TopSlow returns the slowest endpoints.
func (c *Client) TopSlow(ctx context.Context, token string, limit int) ([]SlowEndpoint, error) {
	var rows []SlowEndpoint
	path := withLimit("/api/analytics/top-slow-endpoints", "limit", limit)
	if err := c.do(ctx, http.MethodGet, path, nil, token, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ErrorRate returns the share of calls that failed with a 5xx status.
func (c *Client) ErrorRate(ctx context.Context, token string) (ErrorRate, error) {
	var rate ErrorRate
	if err := c.do(ctx, http.MethodGet, "/api/analytics/error-rate", nil, token, &rate); err != nil {
		return ErrorRate{}, err
	}
	return rate, nil
}

// Timeline returns hourly traffic buckets covering the given number of hours.
func (c *Client) Timeline(ctx context.Context, token string, hours int) ([]TimelineBucket, error) {
	var buckets []TimelineBucket
	path := withLimit("/api/analytics/timeline", "hours", hours)
	if err := c.do(ctx, http.MethodGet, path, nil, token, &buckets); err != nil {
		return nil, err
	}
	return buckets, nil
}

// LogQuery narrows ListLogs. Zero values are omitted from the request.
type LogQuery struct {
	ServiceName  string
	Endpoint     string
	StatusCode   int
	SlowAPI      bool
	BrokenAPI    bool
	RateLimitHit bool
	Limit        int
}

func (q LogQuery) values() url.Values {
	v := url.Values{}
	if q.ServiceName != "" {
		v.Set("serviceName", q.ServiceName)
	}
	if q.Endpoint != "" {
		v.Set("endpoint", q.Endpoint)
	}
	if q.StatusCode > 0 {
		v.Set("statusCode", strconv.Itoa(q.StatusCode))
	}
	if q.SlowAPI {
		v.Set("slowApi", "true")
	}
	if q.BrokenAPI {
		v.Set("brokenApi", "true")
	}
	if q.RateLimitHit {
		v.Set("rateLimitHit", "true")
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

// ListLogs returns persisted events matching q, newest first.
func (c *Client) ListLogs(ctx context.Context, token string, q LogQuery) ([]Event, error) {
	path := "/api/logs"
	if encoded := q.values().Encode(); encoded != "" {
		path += "?" + encoded
	}
	var events []Event
	if err := c.do(ctx, http.MethodGet, path, nil, token, &events); err != nil {
		return nil, err
	}
	return events, nil
}
