package repository

import (
	"context"
	"time"

	"github.com/splax/apitrail/internal/domain"
)

// EventRepository persists captured API calls.
type EventRepository interface {
	InsertEvent(ctx context.Context, event *domain.LogEvent) error
	ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.LogEvent, error)
}

// AlertRepository persists alerts. Alerts are append-only.
type AlertRepository interface {
	InsertAlert(ctx context.Context, alert *domain.Alert) error
	ListRecentAlerts(ctx context.Context, limit int) ([]domain.Alert, error)
}

// IncidentRepository persists incidents and enforces at most one OPEN incident per
// (service, endpoint, type) triple.
type IncidentRepository interface {
	FindOpenIncident(ctx context.Context, key domain.IncidentKey) (*domain.Incident, error)
	// OpenIncidentIfAbsent inserts incident unless an OPEN incident already exists for its
	// triple. It reports whether the row was inserted.
	OpenIncidentIfAbsent(ctx context.Context, incident *domain.Incident) (bool, error)
	// ResolveIncident moves an OPEN incident to RESOLVED and bumps its version. It reports
	// false when the incident does not exist or is not OPEN.
	ResolveIncident(ctx context.Context, id, resolvedBy string, resolvedAt time.Time) (bool, error)
	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	ListIncidents(ctx context.Context, status domain.IncidentStatus) ([]domain.Incident, error)
}

// AnalyticsRepository answers read-side rollups over persisted events.
type AnalyticsRepository interface {
	AvgLatencyByEndpoint(ctx context.Context, limit int) ([]domain.EndpointLatency, error)
	TopSlowEndpoints(ctx context.Context, thresholdMS int64, limit int) ([]domain.SlowEndpoint, error)
	ErrorCounts(ctx context.Context) (total int64, errors int64, err error)
	// ViolationCounts counts slow, broken and rate-limited events over the full history.
	ViolationCounts(ctx context.Context) (domain.AlertStats, error)
	// Timeline buckets events in [since, until) by UTC hour, oldest first.
	Timeline(ctx context.Context, since, until time.Time, limit int) ([]domain.TimelineBucket, error)
}

// UserRepository persists operator accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// Pinger reports storage reachability for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store bundles every repository the collector needs.
type Store interface {
	EventRepository
	AlertRepository
	IncidentRepository
	AnalyticsRepository
	UserRepository
	Pinger
}
