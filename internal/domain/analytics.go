package domain

import "time"

// EndpointLatency is the average latency observed for an endpoint.
type EndpointLatency struct {
	Endpoint     string
	AvgLatencyMS float64
	Count        int64
}

// SlowEndpoint summarises slow calls for an endpoint of a service.
type SlowEndpoint struct {
	Endpoint     string
	ServiceName  string
	AvgLatencyMS float64
	MaxLatencyMS int64
	Count        int64
}

// ErrorRate reports the share of calls answered with a 5xx status.
type ErrorRate struct {
	Total     int64
	Errors    int64
	ErrorRate float64
}

// TimelineBucket aggregates calls in one UTC hour.
type TimelineBucket struct {
	Bucket       time.Time
	Requests     int64
	AvgLatencyMS float64
	Errors       int64
}

// AlertStats counts alerts by type over the full history.
type AlertStats struct {
	SlowAPICount        int64
	BrokenAPICount      int64
	RateLimitViolations int64
}
