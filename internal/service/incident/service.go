// Package incident correlates alerts into incidents and drives the OPEN to RESOLVED lifecycle.
package incident

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/splax/apitrail/internal/domain"
	"github.com/splax/apitrail/internal/notify"
	"github.com/splax/apitrail/internal/repository"
)

var (
	// ErrResolverRequired is returned when Resolve is called without a resolver identity.
	ErrResolverRequired = errors.New("incident: resolvedBy required")
	// ErrInvalidIncident is returned when the correlation triple is incomplete.
	ErrInvalidIncident = errors.New("incident: service, endpoint and type required")
	// ErrInvalidStatus is returned when listing by an unknown status.
	ErrInvalidStatus = errors.New("incident: unknown status")
)

// Service keeps at most one OPEN incident per (service, endpoint, type).
type Service struct {
	repo     repository.IncidentRepository
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// NewService constructs the incident service. A nil notifier disables fan-out.
func NewService(repo repository.IncidentRepository, notifier notify.Notifier, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		logger:   logger.With("component", "incidents"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Correlate opens an incident for the triple unless one is already OPEN. It reports whether a
// new incident was created.
func (s *Service) Correlate(ctx context.Context, serviceName, endpoint, incidentType, description string) (bool, error) {
	key := domain.IncidentKey{
		ServiceName:  strings.TrimSpace(serviceName),
		Endpoint:     strings.TrimSpace(endpoint),
		IncidentType: strings.TrimSpace(incidentType),
	}
	if key.ServiceName == "" || key.Endpoint == "" || key.IncidentType == "" {
		return false, ErrInvalidIncident
	}

	existing, err := s.repo.FindOpenIncident(ctx, key)
	switch {
	case err == nil && existing != nil:
		return false, nil
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return false, fmt.Errorf("find open incident: %w", err)
	}

	incident := &domain.Incident{
		ID:           s.newID(),
		ServiceName:  key.ServiceName,
		Endpoint:     key.Endpoint,
		IncidentType: key.IncidentType,
		Status:       domain.IncidentOpen,
		Description:  strings.TrimSpace(description),
		CreatedAt:    s.now().UTC(),
	}
	created, err := s.repo.OpenIncidentIfAbsent(ctx, incident)
	if err != nil {
		return false, fmt.Errorf("open incident: %w", err)
	}
	if !created {
		// Another worker opened the same triple between the lookup and the insert.
		return false, nil
	}
	s.logger.Info("incident opened",
		"incident_id", incident.ID,
		"service", incident.ServiceName,
		"endpoint", incident.Endpoint,
		"type", incident.IncidentType,
	)
	s.notifier.IncidentOpened(ctx, *incident)
	return true, nil
}

// Resolve transitions an OPEN incident to RESOLVED. It returns false without mutating anything
// when the incident does not exist or was already resolved.
func (s *Service) Resolve(ctx context.Context, id, resolvedBy string) (bool, error) {
	id = strings.TrimSpace(id)
	resolvedBy = strings.TrimSpace(resolvedBy)
	if resolvedBy == "" {
		return false, ErrResolverRequired
	}
	if id == "" {
		return false, nil
	}
	applied, err := s.repo.ResolveIncident(ctx, id, resolvedBy, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("resolve incident: %w", err)
	}
	if !applied {
		s.logger.Debug("incident resolve not applied", "incident_id", id)
		return false, nil
	}
	s.logger.Info("incident resolved", "incident_id", id, "resolved_by", resolvedBy)
	if incident, err := s.repo.GetIncident(ctx, id); err == nil {
		s.notifier.IncidentResolved(ctx, *incident)
	} else {
		s.logger.Warn("resolved incident reload failed", "incident_id", id, "error", err)
	}
	return true, nil
}

// List returns incidents filtered by status. An empty status lists every incident.
func (s *Service) List(ctx context.Context, status domain.IncidentStatus) ([]domain.Incident, error) {
	if status != "" && !status.Valid() {
		return nil, ErrInvalidStatus
	}
	return s.repo.ListIncidents(ctx, status)
}

// Get returns a single incident.
func (s *Service) Get(ctx context.Context, id string) (*domain.Incident, error) {
	return s.repo.GetIncident(ctx, strings.TrimSpace(id))
}

// Replay loads the incidents that are still OPEN, typically at startup, and reports how many
// there are. Deduplication itself always goes through storage.
func (s *Service) Replay(ctx context.Context) (int, error) {
	open, err := s.repo.ListIncidents(ctx, domain.IncidentOpen)
	if err != nil {
		return 0, fmt.Errorf("replay open incidents: %w", err)
	}
	byType := make(map[string]int)
	for _, incident := range open {
		byType[incident.IncidentType]++
	}
	s.logger.Info("open incidents replayed", "count", len(open), "by_type", byType)
	return len(open), nil
}
