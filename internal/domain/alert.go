package domain

import "time"

// AlertType names the rule that produced an alert.
type AlertType string

const (
	AlertSlowAPI      AlertType = "SLOW_API"
	AlertBrokenAPI    AlertType = "BROKEN_API"
	AlertRateLimitHit AlertType = "RATE_LIMIT_HIT"
)

// Severity grades an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is an append-only record produced by evaluating one LogEvent against one rule.
type Alert struct {
	ID          string
	EventID     int64
	ServiceName string
	Endpoint    string
	AlertType   AlertType
	Message     string
	Severity    Severity
	Timestamp   time.Time
	Metadata    map[string]any
}
