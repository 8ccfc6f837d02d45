// Package memory is an in-process implementation of the repository interfaces. It backs
// STORE_DRIVER=memory and the pipeline tests, and keeps the same atomicity guarantees as the
// PostgreSQL store.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/splax/apitrail/internal/domain"
	"github.com/splax/apitrail/internal/repository"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
	defaultAlertLimit = 50
	maxAlertLimit     = 500
	slowThresholdMS   = 500
)

// Store keeps every entity in memory guarded by a single mutex.
type Store struct {
	mu sync.RWMutex

	now       func() time.Time
	nextEvent int64
	events    []domain.LogEvent
	alerts    []domain.Alert
	incidents map[string]*domain.Incident
	open      map[domain.IncidentKey]string
	users     map[string]*domain.User
	usernames map[string]string
}

var _ repository.Store = (*Store)(nil)

// New constructs an empty Store.
func New() *Store {
	return &Store{
		now:       time.Now,
		incidents: make(map[string]*domain.Incident),
		open:      make(map[domain.IncidentKey]string),
		users:     make(map[string]*domain.User),
		usernames: make(map[string]string),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// InsertEvent appends the event and assigns a sequential identifier.
func (s *Store) InsertEvent(ctx context.Context, event *domain.LogEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event == nil {
		return repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEvent++
	event.ID = s.nextEvent
	if event.IngestedAt.IsZero() {
		event.IngestedAt = s.now().UTC()
	}
	s.events = append(s.events, *event)
	return nil
}

// ListEvents returns events matching filter, newest first.
func (s *Store) ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.LogEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	service := strings.TrimSpace(filter.ServiceName)
	endpoint := strings.TrimSpace(filter.Endpoint)

	s.mu.RLock()
	matched := make([]domain.LogEvent, 0)
	for _, e := range s.events {
		switch {
		case service != "" && e.ServiceName != service:
			continue
		case endpoint != "" && e.Endpoint != endpoint:
			continue
		case filter.StartDate != nil && e.Timestamp.Before(*filter.StartDate):
			continue
		case filter.EndDate != nil && e.Timestamp.After(*filter.EndDate):
			continue
		case filter.StatusCode != nil && e.StatusCode != *filter.StatusCode:
			continue
		case filter.SlowAPI && e.LatencyMS <= slowThresholdMS:
			continue
		case filter.BrokenAPI && e.StatusCode < 500:
			continue
		case filter.RateLimitHit && e.EventType != domain.EventTypeRateLimitHit:
			continue
		}
		matched = append(matched, e)
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// InsertAlert appends an alert.
func (s *Store) InsertAlert(ctx context.Context, alert *domain.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if alert == nil || strings.TrimSpace(alert.ID) == "" {
		return repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.alerts {
		if existing.ID == alert.ID {
			return repository.ErrConflict
		}
	}
	copied := *alert
	copied.Metadata = cloneMetadata(alert.Metadata)
	s.alerts = append(s.alerts, copied)
	return nil
}

// ListRecentAlerts returns the newest alerts first.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultAlertLimit
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}
	s.mu.RLock()
	out := make([]domain.Alert, 0, len(s.alerts))
	for i := len(s.alerts) - 1; i >= 0; i-- {
		a := s.alerts[i]
		a.Metadata = cloneMetadata(a.Metadata)
		out = append(out, a)
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FindOpenIncident returns the OPEN incident for key or ErrNotFound.
func (s *Store) FindOpenIncident(ctx context.Context, key domain.IncidentKey) (*domain.Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.open[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneIncident(s.incidents[id]), nil
}

// OpenIncidentIfAbsent inserts incident unless an OPEN incident already exists for its triple.
func (s *Store) OpenIncidentIfAbsent(ctx context.Context, incident *domain.Incident) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if incident == nil || strings.TrimSpace(incident.ID) == "" {
		return false, repository.ErrInvalidArgument
	}
	key := incident.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.open[key]; exists {
		return false, nil
	}
	if _, exists := s.incidents[incident.ID]; exists {
		return false, repository.ErrConflict
	}
	incident.Status = domain.IncidentOpen
	incident.Version = 0
	incident.ResolvedAt = nil
	incident.ResolvedBy = nil
	s.incidents[incident.ID] = cloneIncident(incident)
	s.open[key] = incident.ID
	return true, nil
}

// ResolveIncident applies the OPEN to RESOLVED transition when the incident is still OPEN.
func (s *Store) ResolveIncident(ctx context.Context, id, resolvedBy string, resolvedAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	incident, ok := s.incidents[id]
	if !ok || incident.Status != domain.IncidentOpen {
		return false, nil
	}
	at := resolvedAt.UTC()
	by := resolvedBy
	incident.Status = domain.IncidentResolved
	incident.ResolvedAt = &at
	incident.ResolvedBy = &by
	incident.Version++
	delete(s.open, incident.Key())
	return true, nil
}

// GetIncident fetches an incident by identifier.
func (s *Store) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	incident, ok := s.incidents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneIncident(incident), nil
}

// ListIncidents returns incidents newest first. An empty status lists every incident.
func (s *Store) ListIncidents(ctx context.Context, status domain.IncidentStatus) ([]domain.Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.Incident, 0, len(s.incidents))
	for _, incident := range s.incidents {
		if status != "" && incident.Status != status {
			continue
		}
		out = append(out, *cloneIncident(incident))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// CreateUser inserts a user. A duplicate username maps to ErrConflict.
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if user == nil || strings.TrimSpace(user.ID) == "" || strings.TrimSpace(user.Username) == "" {
		return repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usernames[user.Username]; exists {
		return repository.ErrConflict
	}
	if _, exists := s.users[user.ID]; exists {
		return repository.ErrConflict
	}
	copied := *user
	copied.Roles = append([]string(nil), user.Roles...)
	s.users[user.ID] = &copied
	s.usernames[user.Username] = user.ID
	return nil
}

// GetUserByUsername fetches a user by login name.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernames[username]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *s.users[id]
	return &copied, nil
}

// GetUserByID retrieves a user by identifier.
func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func cloneIncident(in *domain.Incident) *domain.Incident {
	if in == nil {
		return nil
	}
	out := *in
	if in.ResolvedAt != nil {
		at := *in.ResolvedAt
		out.ResolvedAt = &at
	}
	if in.ResolvedBy != nil {
		by := *in.ResolvedBy
		out.ResolvedBy = &by
	}
	return &out
}

func cloneMetadata(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
