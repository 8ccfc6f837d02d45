package postgres

import (
	"context"
	"time"

	"github.com/splax/apitrail/internal/domain"
)

const (
	analyticsAvgLatency = `SELECT endpoint, AVG(latency_ms)::float8, COUNT(*)
		FROM api_events
		GROUP BY endpoint
		ORDER BY 2 DESC, endpoint
		LIMIT $1`

	analyticsTopSlow = `SELECT endpoint, service_name, AVG(latency_ms)::float8, MAX(latency_ms), COUNT(*)
		FROM api_events
		WHERE latency_ms > $1
		GROUP BY endpoint, service_name
		ORDER BY 3 DESC, endpoint, service_name
		LIMIT $2`

	analyticsErrorCounts = `SELECT COUNT(*), COUNT(*) FILTER (WHERE status_code >= 500) FROM api_events`

	analyticsViolations = `SELECT
		COUNT(*) FILTER (WHERE latency_ms > 500),
		COUNT(*) FILTER (WHERE status_code >= 500),
		COUNT(*) FILTER (WHERE event_type = 'rate-limit-hit')
	FROM api_events`

	analyticsTimeline = `SELECT date_trunc('hour', occurred_at AT TIME ZONE 'UTC') AS bucket,
			COUNT(*),
			AVG(latency_ms)::float8,
			COUNT(*) FILTER (WHERE status_code >= 500)
		FROM api_events
		WHERE occurred_at >= $1 AND occurred_at < $2
		GROUP BY bucket
		ORDER BY bucket ASC
		LIMIT $3`
)

// AvgLatencyByEndpoint returns per-endpoint average latency, slowest first.
func (r *Repository) AvgLatencyByEndpoint(ctx context.Context, limit int) ([]domain.EndpointLatency, error) {
	rows, err := r.pool.Query(ctx, analyticsAvgLatency, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	out := make([]domain.EndpointLatency, 0)
	for rows.Next() {
		var item domain.EndpointLatency
		if err := rows.Scan(&item.Endpoint, &item.AvgLatencyMS, &item.Count); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// TopSlowEndpoints ranks (endpoint, service) pairs whose calls exceeded thresholdMS.
func (r *Repository) TopSlowEndpoints(ctx context.Context, thresholdMS int64, limit int) ([]domain.SlowEndpoint, error) {
	rows, err := r.pool.Query(ctx, analyticsTopSlow, thresholdMS, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	out := make([]domain.SlowEndpoint, 0)
	for rows.Next() {
		var item domain.SlowEndpoint
		if err := rows.Scan(&item.Endpoint, &item.ServiceName, &item.AvgLatencyMS, &item.MaxLatencyMS, &item.Count); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ErrorCounts returns the total number of events and how many were answered with 5xx.
func (r *Repository) ErrorCounts(ctx context.Context) (int64, int64, error) {
	var total, errCount int64
	if err := r.pool.QueryRow(ctx, analyticsErrorCounts).Scan(&total, &errCount); err != nil {
		return 0, 0, mapError(err)
	}
	return total, errCount, nil
}

// ViolationCounts counts slow, broken and rate-limited events.
func (r *Repository) ViolationCounts(ctx context.Context) (domain.AlertStats, error) {
	var stats domain.AlertStats
	err := r.pool.QueryRow(ctx, analyticsViolations).Scan(&stats.SlowAPICount, &stats.BrokenAPICount, &stats.RateLimitViolations)
	if err != nil {
		return domain.AlertStats{}, mapError(err)
	}
	return stats, nil
}

// Timeline groups events in [since, until) into UTC hour buckets, oldest first.
func (r *Repository) Timeline(ctx context.Context, since, until time.Time, limit int) ([]domain.TimelineBucket, error) {
	rows, err := r.pool.Query(ctx, analyticsTimeline, since.UTC(), until.UTC(), limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	out := make([]domain.TimelineBucket, 0)
	for rows.Next() {
		var (
			item   domain.TimelineBucket
			bucket time.Time
		)
		if err := rows.Scan(&bucket, &item.Requests, &item.AvgLatencyMS, &item.Errors); err != nil {
			return nil, err
		}
		item.Bucket = time.Date(bucket.Year(), bucket.Month(), bucket.Day(), bucket.Hour(), 0, 0, 0, time.UTC)
		out = append(out, item)
	}
	return out, rows.Err()
}
