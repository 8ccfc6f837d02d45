package domain

import "time"

// IncidentStatus tracks the lifecycle of an incident.
type IncidentStatus string

const (
	IncidentOpen     IncidentStatus = "OPEN"
	IncidentResolved IncidentStatus = "RESOLVED"
)

// Valid reports whether s is a known status.
func (s IncidentStatus) Valid() bool {
	return s == IncidentOpen || s == IncidentResolved
}

// Incident groups repeated alerts for a (service, endpoint, type) triple.
// At most one OPEN incident exists per triple.
type Incident struct {
	ID           string
	ServiceName  string
	Endpoint     string
	IncidentType string
	Status       IncidentStatus
	Description  string
	CreatedAt    time.Time
	ResolvedAt   *time.Time
	ResolvedBy   *string
	Version      int64
}

// IncidentKey identifies the dedupe triple of an incident.
type IncidentKey struct {
	ServiceName  string
	Endpoint     string
	IncidentType string
}

// Key returns the dedupe triple for the incident.
func (i Incident) Key() IncidentKey {
	return IncidentKey{ServiceName: i.ServiceName, Endpoint: i.Endpoint, IncidentType: i.IncidentType}
}
