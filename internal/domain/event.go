package domain

import "time"

// EventType classifies a captured API call.
type EventType string

const (
	// EventTypeAPICall is emitted for every instrumented request.
	EventTypeAPICall EventType = "api-call"
	// EventTypeRateLimitHit is the duplicate emitted when the client-side limiter rejects admission.
	EventTypeRateLimitHit EventType = "rate-limit-hit"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return t == EventTypeAPICall || t == EventTypeRateLimitHit
}

// LogEvent is one captured API call as persisted by the collector.
type LogEvent struct {
	ID           int64
	ServiceName  string
	Endpoint     string
	Method       string
	RequestSize  int64
	ResponseSize int64
	StatusCode   int
	Timestamp    time.Time
	LatencyMS    int64
	EventType    EventType
	IngestedAt   time.Time
}

// EventFilter narrows event listings. Zero values mean "no constraint"; the boolean flags
// AND-compose with each other and with the field filters.
type EventFilter struct {
	ServiceName  string
	Endpoint     string
	StartDate    *time.Time
	EndDate      *time.Time
	StatusCode   *int
	SlowAPI      bool
	BrokenAPI    bool
	RateLimitHit bool
	Limit        int
}
