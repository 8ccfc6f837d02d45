// Package collector ingests captured API calls: every event is persisted synchronously and then
// evaluated for alerts and incidents on a background worker pool.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/apitrail/internal/dispatch"
	"github.com/splax/apitrail/internal/domain"
	"github.com/splax/apitrail/internal/notify"
	"github.com/splax/apitrail/internal/repository"
	"github.com/splax/apitrail/internal/service/alerting"
)

// ErrInvalidEvent wraps every validation failure returned by CollectLog.
var ErrInvalidEvent = errors.New("collector: invalid event")

const (
	defaultWorkers   = 4
	defaultQueueSize = 1024
	maxFieldLength   = 512
)

// Correlator opens incidents for alert triples.
type Correlator interface {
	Correlate(ctx context.Context, serviceName, endpoint, incidentType, description string) (bool, error)
}

// Options tunes the evaluation pool.
type Options struct {
	Workers    int
	QueueSize  int
	Registerer prometheus.Registerer
}

// Service persists events and schedules their evaluation.
type Service struct {
	events     repository.EventRepository
	alerts     repository.AlertRepository
	correlator Correlator
	notifier   notify.Notifier
	pool       *dispatch.Pool[domain.LogEvent]
	metrics    *pipelineMetrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewService wires the ingestion sink. Call Start before serving traffic and Shutdown on exit.
func NewService(events repository.EventRepository, alerts repository.AlertRepository, correlator Correlator, notifier notify.Notifier, logger *slog.Logger, opts Options) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	s := &Service{
		events:     events,
		alerts:     alerts,
		correlator: correlator,
		notifier:   notifier,
		logger:     logger.With("component", "collector"),
		now:        time.Now,
	}
	s.pool = dispatch.New("evaluation", opts.Workers, opts.QueueSize, s.Process, logger, dispatch.Hooks{
		OnDrop: func() { s.metrics.evaluationsDropped.Inc() },
		OnDone: func(elapsed time.Duration, err error) {
			s.metrics.evaluationDuration.Observe(elapsed.Seconds())
			if err != nil {
				s.metrics.evaluationFailures.Inc()
			}
		},
	})
	s.metrics = newPipelineMetrics(opts.Registerer, func() float64 { return float64(s.pool.Stats().Queued) })
	return s
}

// Start launches the evaluation workers.
func (s *Service) Start() {
	s.pool.Start()
}

// Shutdown stops accepting evaluations and drains the queue.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.pool.Shutdown(ctx)
}

// Stats exposes the evaluation pool counters.
func (s *Service) Stats() dispatch.Stats {
	return s.pool.Stats()
}

// CollectLog validates and persists one event, then schedules its evaluation without waiting
// for it. Persistence errors are returned; evaluation errors never reach the caller.
func (s *Service) CollectLog(ctx context.Context, event domain.LogEvent) (domain.LogEvent, error) {
	normalized, err := s.normalize(event)
	if err != nil {
		return domain.LogEvent{}, err
	}
	if err := s.events.InsertEvent(ctx, &normalized); err != nil {
		return domain.LogEvent{}, fmt.Errorf("persist event: %w", err)
	}
	s.metrics.eventsIngested.WithLabelValues(string(normalized.EventType)).Inc()

	if err := s.pool.Submit(normalized); err != nil {
		s.logger.Warn("evaluation skipped",
			"event_id", normalized.ID,
			"service", normalized.ServiceName,
			"endpoint", normalized.Endpoint,
			"error", err,
		)
	}
	return normalized, nil
}

// Process evaluates a persisted event: it stores each triggered alert, notifies subscribers and
// correlates incidents. A failing alert does not stop the remaining ones.
func (s *Service) Process(ctx context.Context, event domain.LogEvent) error {
	built := alerting.Build(event, s.now())
	if len(built) == 0 {
		return nil
	}
	var errs []error
	for i := range built {
		alert := built[i]
		if err := s.alerts.InsertAlert(ctx, &alert); err != nil {
			errs = append(errs, fmt.Errorf("persist %s alert: %w", alert.AlertType, err))
			continue
		}
		s.metrics.alertsRaised.WithLabelValues(string(alert.AlertType)).Inc()
		s.logger.Info("alert raised",
			"alert_id", alert.ID,
			"type", alert.AlertType,
			"severity", alert.Severity,
			"service", alert.ServiceName,
			"endpoint", alert.Endpoint,
		)
		s.notifier.AlertRaised(ctx, alert)

		incidentType, description, ok := alerting.IncidentFor(alert)
		if !ok || s.correlator == nil {
			continue
		}
		created, err := s.correlator.Correlate(ctx, alert.ServiceName, alert.Endpoint, incidentType, description)
		if err != nil {
			errs = append(errs, fmt.Errorf("correlate %s incident: %w", incidentType, err))
			continue
		}
		if created {
			s.metrics.incidentsOpened.WithLabelValues(incidentType).Inc()
		}
	}
	return errors.Join(errs...)
}

func (s *Service) normalize(event domain.LogEvent) (domain.LogEvent, error) {
	event.ID = 0
	event.IngestedAt = time.Time{}
	event.ServiceName = strings.TrimSpace(event.ServiceName)
	event.Endpoint = strings.TrimSpace(event.Endpoint)
	event.Method = strings.ToUpper(strings.TrimSpace(event.Method))
	event.EventType = domain.EventType(strings.TrimSpace(string(event.EventType)))
	if event.EventType == "" {
		event.EventType = domain.EventTypeAPICall
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	event.Timestamp = event.Timestamp.UTC()

	switch {
	case event.ServiceName == "":
		return event, fmt.Errorf("%w: serviceName required", ErrInvalidEvent)
	case event.Endpoint == "":
		return event, fmt.Errorf("%w: endpoint required", ErrInvalidEvent)
	case event.Method == "":
		return event, fmt.Errorf("%w: method required", ErrInvalidEvent)
	case len(event.ServiceName) > maxFieldLength || len(event.Endpoint) > maxFieldLength || len(event.Method) > maxFieldLength:
		return event, fmt.Errorf("%w: field exceeds %d characters", ErrInvalidEvent, maxFieldLength)
	case !event.EventType.Valid():
		return event, fmt.Errorf("%w: unknown eventType %q", ErrInvalidEvent, event.EventType)
	case event.StatusCode < 100 || event.StatusCode > 599:
		return event, fmt.Errorf("%w: statusCode %d out of range", ErrInvalidEvent, event.StatusCode)
	case event.LatencyMS < 0:
		return event, fmt.Errorf("%w: latencyMs must be non-negative", ErrInvalidEvent)
	case event.RequestSize < 0 || event.ResponseSize < 0:
		return event, fmt.Errorf("%w: sizes must be non-negative", ErrInvalidEvent)
	}
	return event, nil
}
