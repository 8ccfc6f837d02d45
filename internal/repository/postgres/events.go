package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/splax/apitrail/internal/domain"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000

	eventInsert = `INSERT INTO api_events (
		service_name,
		endpoint,
		method,
		request_size,
		response_size,
		status_code,
		occurred_at,
		latency_ms,
		event_type,
		ingested_at
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,COALESCE($10, NOW())
	) RETURNING id, ingested_at`

	eventColumns = `id, service_name, endpoint, method, request_size, response_size, status_code, occurred_at, latency_ms, event_type, ingested_at`
)

// InsertEvent persists a captured API call and assigns its identifier.
func (r *Repository) InsertEvent(ctx context.Context, event *domain.LogEvent) error {
	if event == nil {
		return fmt.Errorf("log event required")
	}
	err := r.pool.QueryRow(ctx, eventInsert,
		event.ServiceName,
		event.Endpoint,
		event.Method,
		event.RequestSize,
		event.ResponseSize,
		event.StatusCode,
		event.Timestamp.UTC(),
		event.LatencyMS,
		string(event.EventType),
		nilTime(event.IngestedAt),
	).Scan(&event.ID, &event.IngestedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

// ListEvents returns events matching filter, newest first.
func (r *Repository) ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.LogEvent, error) {
	query, args := buildEventQuery(filter)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	events := make([]domain.LogEvent, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func buildEventQuery(filter domain.EventFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if v := strings.TrimSpace(filter.ServiceName); v != "" {
		add("service_name = $%d", v)
	}
	if v := strings.TrimSpace(filter.Endpoint); v != "" {
		add("endpoint = $%d", v)
	}
	if filter.StartDate != nil {
		add("occurred_at >= $%d", filter.StartDate.UTC())
	}
	if filter.EndDate != nil {
		add("occurred_at <= $%d", filter.EndDate.UTC())
	}
	if filter.StatusCode != nil {
		add("status_code = $%d", *filter.StatusCode)
	}
	if filter.SlowAPI {
		clauses = append(clauses, "latency_ms > 500")
	}
	if filter.BrokenAPI {
		clauses = append(clauses, "status_code >= 500")
	}
	if filter.RateLimitHit {
		add("event_type = $%d", string(domain.EventTypeRateLimitHit))
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(eventColumns)
	b.WriteString(" FROM api_events")
	if len(clauses) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(clauses, " AND "))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY occurred_at DESC, id DESC LIMIT $%d", len(args))
	return b.String(), args
}

func scanEvent(row pgx.Row) (domain.LogEvent, error) {
	var (
		e         domain.LogEvent
		eventType string
	)
	if err := row.Scan(
		&e.ID,
		&e.ServiceName,
		&e.Endpoint,
		&e.Method,
		&e.RequestSize,
		&e.ResponseSize,
		&e.StatusCode,
		&e.Timestamp,
		&e.LatencyMS,
		&eventType,
		&e.IngestedAt,
	); err != nil {
		return domain.LogEvent{}, err
	}
	e.EventType = domain.EventType(eventType)
	e.Timestamp = e.Timestamp.UTC()
	e.IngestedAt = e.IngestedAt.UTC()
	return e, nil
}
