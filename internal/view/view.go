// Package view defines the JSON shapes served over HTTP and pushed to live subscribers.
package view

import (
	"time"

	"github.com/splax/apitrail/internal/domain"
)

// TimelineLabelLayout formats hour buckets for dashboards.
const TimelineLabelLayout = "2006-01-02 15:00:00"

// Event is the JSON form of a persisted LogEvent.
type Event struct {
	ID           int64     `json:"id"`
	ServiceName  string    `json:"serviceName"`
	Endpoint     string    `json:"endpoint"`
	Method       string    `json:"method"`
	RequestSize  int64     `json:"requestSize"`
	ResponseSize int64     `json:"responseSize"`
	StatusCode   int       `json:"statusCode"`
	Timestamp    time.Time `json:"timestamp"`
	LatencyMS    int64     `json:"latencyMs"`
	EventType    string    `json:"eventType"`
	IngestedAt   time.Time `json:"ingestedAt"`
}

// Alert is the JSON form of an Alert.
type Alert struct {
	ID          string         `json:"id"`
	EventID     int64          `json:"eventId,omitempty"`
	ServiceName string         `json:"serviceName"`
	Endpoint    string         `json:"endpoint"`
	AlertType   string         `json:"alertType"`
	Message     string         `json:"message"`
	Severity    string         `json:"severity"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Incident is the JSON form of an Incident.
type Incident struct {
	ID           string     `json:"id"`
	ServiceName  string     `json:"serviceName"`
	Endpoint     string     `json:"endpoint"`
	IncidentType string     `json:"incidentType"`
	Status       string     `json:"status"`
	Description  string     `json:"description"`
	CreatedAt    time.Time  `json:"createdAt"`
	ResolvedAt   *time.Time `json:"resolvedAt"`
	ResolvedBy   *string    `json:"resolvedBy"`
	Version      int64      `json:"version"`
}

// EndpointLatency is one row of the average latency report.
type EndpointLatency struct {
	Endpoint   string  `json:"endpoint"`
	AvgLatency float64 `json:"avgLatency"`
	Count      int64   `json:"count"`
}

// SlowEndpoint is one row of the slow endpoint ranking.
type SlowEndpoint struct {
	Endpoint    string  `json:"endpoint"`
	ServiceName string  `json:"serviceName"`
	AvgLatency  float64 `json:"avgLatency"`
	MaxLatency  int64   `json:"maxLatency"`
	Count       int64   `json:"count"`
}

// ErrorRate is the error rate summary.
type ErrorRate struct {
	Total     int64   `json:"total"`
	Errors    int64   `json:"errors"`
	ErrorRate float64 `json:"errorRate"`
}

// TimelineBucket is one hour of traffic.
type TimelineBucket struct {
	Hour       string    `json:"hour"`
	Timestamp  time.Time `json:"timestamp"`
	Requests   int64     `json:"requests"`
	AvgLatency float64   `json:"avgLatency"`
	Errors     int64     `json:"errors"`
}

// Stats counts violations over the full history.
type Stats struct {
	SlowAPICount        int64 `json:"slowApiCount"`
	BrokenAPICount      int64 `json:"brokenApiCount"`
	RateLimitViolations int64 `json:"rateLimitViolations"`
}

// FromEvent converts a domain event.
func FromEvent(e domain.LogEvent) Event {
	return Event{
		ID:           e.ID,
		ServiceName:  e.ServiceName,
		Endpoint:     e.Endpoint,
		Method:       e.Method,
		RequestSize:  e.RequestSize,
		ResponseSize: e.ResponseSize,
		StatusCode:   e.StatusCode,
		Timestamp:    e.Timestamp.UTC(),
		LatencyMS:    e.LatencyMS,
		EventType:    string(e.EventType),
		IngestedAt:   e.IngestedAt.UTC(),
	}
}

// FromAlert converts a domain alert.
func FromAlert(a domain.Alert) Alert {
	return Alert{
		ID:          a.ID,
		EventID:     a.EventID,
		ServiceName: a.ServiceName,
		Endpoint:    a.Endpoint,
		AlertType:   string(a.AlertType),
		Message:     a.Message,
		Severity:    string(a.Severity),
		Timestamp:   a.Timestamp.UTC(),
		Metadata:    a.Metadata,
	}
}

// FromIncident converts a domain incident.
func FromIncident(i domain.Incident) Incident {
	return Incident{
		ID:           i.ID,
		ServiceName:  i.ServiceName,
		Endpoint:     i.Endpoint,
		IncidentType: i.IncidentType,
		Status:       string(i.Status),
		Description:  i.Description,
		CreatedAt:    i.CreatedAt.UTC(),
		ResolvedAt:   i.ResolvedAt,
		ResolvedBy:   i.ResolvedBy,
		Version:      i.Version,
	}
}

// Events converts a slice of events.
func Events(in []domain.LogEvent) []Event {
	out := make([]Event, 0, len(in))
	for _, e := range in {
		out = append(out, FromEvent(e))
	}
	return out
}

// Alerts converts a slice of alerts.
func Alerts(in []domain.Alert) []Alert {
	out := make([]Alert, 0, len(in))
	for _, a := range in {
		out = append(out, FromAlert(a))
	}
	return out
}

// Incidents converts a slice of incidents.
func Incidents(in []domain.Incident) []Incident {
	out := make([]Incident, 0, len(in))
	for _, i := range in {
		out = append(out, FromIncident(i))
	}
	return out
}

// EndpointLatencies converts the average latency report.
func EndpointLatencies(in []domain.EndpointLatency) []EndpointLatency {
	out := make([]EndpointLatency, 0, len(in))
	for _, r := range in {
		out = append(out, EndpointLatency{Endpoint: r.Endpoint, AvgLatency: r.AvgLatencyMS, Count: r.Count})
	}
	return out
}

// SlowEndpoints converts the slow endpoint ranking.
func SlowEndpoints(in []domain.SlowEndpoint) []SlowEndpoint {
	out := make([]SlowEndpoint, 0, len(in))
	for _, r := range in {
		out = append(out, SlowEndpoint{
			Endpoint:    r.Endpoint,
			ServiceName: r.ServiceName,
			AvgLatency:  r.AvgLatencyMS,
			MaxLatency:  r.MaxLatencyMS,
			Count:       r.Count,
		})
	}
	return out
}

// FromErrorRate converts the error rate summary.
func FromErrorRate(r domain.ErrorRate) ErrorRate {
	return ErrorRate{Total: r.Total, Errors: r.Errors, ErrorRate: r.ErrorRate}
}

// Timeline converts hour buckets.
func Timeline(in []domain.TimelineBucket) []TimelineBucket {
	out := make([]TimelineBucket, 0, len(in))
	for _, b := range in {
		out = append(out, TimelineBucket{
			Hour:       b.Bucket.UTC().Format(TimelineLabelLayout),
			Timestamp:  b.Bucket.UTC(),
			Requests:   b.Requests,
			AvgLatency: b.AvgLatencyMS,
			Errors:     b.Errors,
		})
	}
	return out
}

// FromStats converts violation counts.
func FromStats(s domain.AlertStats) Stats {
	return Stats{SlowAPICount: s.SlowAPICount, BrokenAPICount: s.BrokenAPICount, RateLimitViolations: s.RateLimitViolations}
}
