package postgres

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/splax/apitrail/internal/domain"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500

	alertInsert = `INSERT INTO alerts (
		id,
		event_id,
		service_name,
		endpoint,
		alert_type,
		message,
		severity,
		created_at,
		metadata
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	alertSelectRecent = `SELECT id, event_id, service_name, endpoint, alert_type, message, severity, created_at, metadata
		FROM alerts
		ORDER BY created_at DESC, id DESC
		LIMIT $1`
)

// InsertAlert appends an alert record.
func (r *Repository) InsertAlert(ctx context.Context, alert *domain.Alert) error {
	if alert == nil {
		return fmt.Errorf("alert required")
	}
	var metadata []byte
	if len(alert.Metadata) > 0 {
		encoded, err := json.Marshal(alert.Metadata)
		if err != nil {
			return fmt.Errorf("encode alert metadata: %w", err)
		}
		metadata = encoded
	}
	var eventID any
	if alert.EventID > 0 {
		eventID = alert.EventID
	}
	_, err := r.pool.Exec(ctx, alertInsert,
		alert.ID,
		eventID,
		alert.ServiceName,
		alert.Endpoint,
		string(alert.AlertType),
		alert.Message,
		string(alert.Severity),
		alert.Timestamp.UTC(),
		metadata,
	)
	return mapError(err)
}

// ListRecentAlerts returns the newest alerts first.
func (r *Repository) ListRecentAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = defaultAlertLimit
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}
	rows, err := r.pool.Query(ctx, alertSelectRecent, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	alerts := make([]domain.Alert, 0)
	for rows.Next() {
		var (
			a         domain.Alert
			eventID   *int64
			alertType string
			severity  string
			metadata  []byte
		)
		if err := rows.Scan(&a.ID, &eventID, &a.ServiceName, &a.Endpoint, &alertType, &a.Message, &severity, &a.Timestamp, &metadata); err != nil {
			return nil, err
		}
		if eventID != nil {
			a.EventID = *eventID
		}
		a.AlertType = domain.AlertType(alertType)
		a.Severity = domain.Severity(severity)
		a.Timestamp = a.Timestamp.UTC()
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
				return nil, fmt.Errorf("decode alert metadata: %w", err)
			}
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
