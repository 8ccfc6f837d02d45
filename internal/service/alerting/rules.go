// Package alerting turns captured API calls into alerts. Evaluation is pure: it reads only the
// event and the supplied clock reading.
package alerting

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/splax/apitrail/internal/domain"
)

const (
	// SlowLatencyThresholdMS is the latency above which a call is considered slow.
	SlowLatencyThresholdMS int64 = 500
	// BrokenStatusThreshold is the lowest status code considered broken.
	BrokenStatusThreshold = 500
)

// Evaluate returns the rules the event triggers, ordered SLOW_API, BROKEN_API, RATE_LIMIT_HIT.
func Evaluate(event domain.LogEvent) []domain.AlertType {
	var types []domain.AlertType
	if event.LatencyMS > SlowLatencyThresholdMS {
		types = append(types, domain.AlertSlowAPI)
	}
	if event.StatusCode >= BrokenStatusThreshold {
		types = append(types, domain.AlertBrokenAPI)
	}
	if event.EventType == domain.EventTypeRateLimitHit {
		types = append(types, domain.AlertRateLimitHit)
	}
	return types
}

// Build materialises one alert per triggered rule, stamped with now.
func Build(event domain.LogEvent, now time.Time) []domain.Alert {
	types := Evaluate(event)
	if len(types) == 0 {
		return nil
	}
	alerts := make([]domain.Alert, 0, len(types))
	for _, t := range types {
		alert := domain.Alert{
			ID:          uuid.NewString(),
			EventID:     event.ID,
			ServiceName: event.ServiceName,
			Endpoint:    event.Endpoint,
			AlertType:   t,
			Timestamp:   now.UTC(),
		}
		switch t {
		case domain.AlertSlowAPI:
			alert.Severity = domain.SeverityWarning
			alert.Message = fmt.Sprintf("Slow API detected: %s took %dms", event.Endpoint, event.LatencyMS)
			alert.Metadata = map[string]any{"latencyMs": event.LatencyMS}
		case domain.AlertBrokenAPI:
			alert.Severity = domain.SeverityCritical
			alert.Message = fmt.Sprintf("Broken API detected: %s returned %d", event.Endpoint, event.StatusCode)
			alert.Metadata = map[string]any{"statusCode": event.StatusCode}
		case domain.AlertRateLimitHit:
			alert.Severity = domain.SeverityWarning
			alert.Message = fmt.Sprintf("Rate limit exceeded for %s", event.ServiceName)
			alert.Metadata = map[string]any{"endpoint": event.Endpoint}
		}
		alerts = append(alerts, alert)
	}
	return alerts
}

// IncidentFor maps an alert to the incident it should open. Rate-limit alerts never open incidents.
func IncidentFor(alert domain.Alert) (incidentType string, description string, ok bool) {
	switch alert.AlertType {
	case domain.AlertSlowAPI:
		return string(domain.AlertSlowAPI), fmt.Sprintf("Endpoint %s has latency over %dms", alert.Endpoint, SlowLatencyThresholdMS), true
	case domain.AlertBrokenAPI:
		return string(domain.AlertBrokenAPI), fmt.Sprintf("Endpoint %s returned 5xx status code", alert.Endpoint), true
	default:
		return "", "", false
	}
}
