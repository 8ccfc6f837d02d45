// Package analytics answers the read-side rollups over persisted API events.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/splax/apitrail/internal/domain"
	"github.com/splax/apitrail/internal/repository"
	"github.com/splax/apitrail/internal/service/alerting"
)

const (
	avgLatencyLimit     = 20
	defaultTopSlow      = 5
	maxTopSlow          = 100
	defaultTimelineHrs  = 24
	maxTimelineHrs      = 24 * 31
	defaultRecentAlerts = 50
)

// Reader is the storage surface the analytics service needs.
type Reader interface {
	repository.AnalyticsRepository
	repository.EventRepository
	repository.AlertRepository
}

// Service computes stateless projections; it never caches.
type Service struct {
	repo   Reader
	logger *slog.Logger
	now    func() time.Time
}

// New returns an analytics service backed by repo.
func New(repo Reader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger.With("component", "analytics"), now: time.Now}
}

// AvgLatencyByEndpoint returns the 20 endpoints with the highest average latency.
func (s *Service) AvgLatencyByEndpoint(ctx context.Context) ([]domain.EndpointLatency, error) {
	out, err := s.repo.AvgLatencyByEndpoint(ctx, avgLatencyLimit)
	if err != nil {
		return nil, fmt.Errorf("avg latency by endpoint: %w", err)
	}
	return out, nil
}

// TopSlowEndpoints ranks (endpoint, service) pairs by the average latency of their slow calls.
func (s *Service) TopSlowEndpoints(ctx context.Context, limit int) ([]domain.SlowEndpoint, error) {
	if limit <= 0 {
		limit = defaultTopSlow
	}
	if limit > maxTopSlow {
		limit = maxTopSlow
	}
	out, err := s.repo.TopSlowEndpoints(ctx, alerting.SlowLatencyThresholdMS, limit)
	if err != nil {
		return nil, fmt.Errorf("top slow endpoints: %w", err)
	}
	return out, nil
}

// ErrorRate reports the percentage of calls answered with a 5xx status.
func (s *Service) ErrorRate(ctx context.Context) (domain.ErrorRate, error) {
	total, errs, err := s.repo.ErrorCounts(ctx)
	if err != nil {
		return domain.ErrorRate{}, fmt.Errorf("error counts: %w", err)
	}
	rate := domain.ErrorRate{Total: total, Errors: errs}
	if total > 0 {
		rate.ErrorRate = float64(errs) / float64(total) * 100
	}
	return rate, nil
}

// Timeline buckets the last hours hours by UTC hour, oldest first. The current hour counts as
// one of them; events stamped after it are left out.
func (s *Service) Timeline(ctx context.Context, hours int) ([]domain.TimelineBucket, error) {
	if hours <= 0 {
		hours = defaultTimelineHrs
	}
	if hours > maxTimelineHrs {
		hours = maxTimelineHrs
	}
	current := s.now().UTC().Truncate(time.Hour)
	since := current.Add(-time.Duration(hours-1) * time.Hour)
	out, err := s.repo.Timeline(ctx, since, current.Add(time.Hour), hours)
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	return out, nil
}

// Stats counts slow, broken and rate-limited calls across the full history.
func (s *Service) Stats(ctx context.Context) (domain.AlertStats, error) {
	stats, err := s.repo.ViolationCounts(ctx)
	if err != nil {
		return domain.AlertStats{}, fmt.Errorf("violation counts: %w", err)
	}
	return stats, nil
}

// ListEvents returns events matching filter, newest first.
func (s *Service) ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.LogEvent, error) {
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, fmt.Errorf("%w: endDate before startDate", repository.ErrInvalidArgument)
	}
	return s.repo.ListEvents(ctx, filter)
}

// RecentAlerts returns the newest alerts. Non-positive limits use the default of 50.
func (s *Service) RecentAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = defaultRecentAlerts
	}
	return s.repo.ListRecentAlerts(ctx, limit)
}
