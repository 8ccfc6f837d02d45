package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/splax/apitrail/internal/domain"
	"github.com/splax/apitrail/internal/repository"
)

const (
	incidentColumns = `id, service_name, endpoint, incident_type, status, description, created_at, resolved_at, resolved_by, version`

	incidentSelectOpen = `SELECT ` + incidentColumns + `
		FROM incidents
		WHERE service_name = $1 AND endpoint = $2 AND incident_type = $3 AND status = 'OPEN'
		LIMIT 1`

	// incidents_open_triple_idx is a partial unique index over OPEN rows, so a concurrent
	// opener for the same triple inserts nothing.
	incidentInsertIfAbsent = `INSERT INTO incidents (
		id,
		service_name,
		endpoint,
		incident_type,
		status,
		description,
		created_at,
		version
	) VALUES ($1,$2,$3,$4,'OPEN',$5,$6,0)
	ON CONFLICT (service_name, endpoint, incident_type) WHERE status = 'OPEN' DO NOTHING`

	incidentResolve = `UPDATE incidents
		SET status = 'RESOLVED', resolved_at = $2, resolved_by = $3, version = version + 1
		WHERE id = $1 AND status = 'OPEN'`

	incidentSelectByID = `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`

	incidentSelectAll = `SELECT ` + incidentColumns + `
		FROM incidents
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC`
)

// FindOpenIncident returns the OPEN incident for key or ErrNotFound.
func (r *Repository) FindOpenIncident(ctx context.Context, key domain.IncidentKey) (*domain.Incident, error) {
	row := r.pool.QueryRow(ctx, incidentSelectOpen, key.ServiceName, key.Endpoint, key.IncidentType)
	incident, err := scanIncident(row)
	if err != nil {
		return nil, mapError(err)
	}
	return &incident, nil
}

// OpenIncidentIfAbsent inserts incident as OPEN unless its triple already has an OPEN incident.
func (r *Repository) OpenIncidentIfAbsent(ctx context.Context, incident *domain.Incident) (bool, error) {
	if incident == nil {
		return false, fmt.Errorf("incident required")
	}
	if strings.TrimSpace(incident.ID) == "" {
		return false, repository.ErrInvalidArgument
	}
	tag, err := r.pool.Exec(ctx, incidentInsertIfAbsent,
		incident.ID,
		incident.ServiceName,
		incident.Endpoint,
		incident.IncidentType,
		incident.Description,
		incident.CreatedAt.UTC(),
	)
	if err != nil {
		return false, mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	incident.Status = domain.IncidentOpen
	incident.Version = 0
	incident.ResolvedAt = nil
	incident.ResolvedBy = nil
	return true, nil
}

// ResolveIncident applies the OPEN to RESOLVED transition when the row is still OPEN.
func (r *Repository) ResolveIncident(ctx context.Context, id, resolvedBy string, resolvedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, incidentResolve, id, resolvedAt.UTC(), resolvedBy)
	if err != nil {
		err = mapError(err)
		// A malformed id cannot match any row.
		if errors.Is(err, repository.ErrInvalidArgument) {
			return false, nil
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// GetIncident fetches an incident by identifier.
func (r *Repository) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	incident, err := scanIncident(r.pool.QueryRow(ctx, incidentSelectByID, id))
	if err != nil {
		return nil, mapError(err)
	}
	return &incident, nil
}

// ListIncidents returns incidents, newest first. An empty status lists every incident.
func (r *Repository) ListIncidents(ctx context.Context, status domain.IncidentStatus) ([]domain.Incident, error) {
	rows, err := r.pool.Query(ctx, incidentSelectAll, string(status))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	incidents := make([]domain.Incident, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, incident)
	}
	return incidents, rows.Err()
}

func scanIncident(row pgx.Row) (domain.Incident, error) {
	var (
		i          domain.Incident
		status     string
		resolvedAt *time.Time
		resolvedBy *string
	)
	if err := row.Scan(
		&i.ID,
		&i.ServiceName,
		&i.Endpoint,
		&i.IncidentType,
		&status,
		&i.Description,
		&i.CreatedAt,
		&resolvedAt,
		&resolvedBy,
		&i.Version,
	); err != nil {
		return domain.Incident{}, err
	}
	i.Status = domain.IncidentStatus(status)
	i.CreatedAt = i.CreatedAt.UTC()
	if resolvedAt != nil {
		value := resolvedAt.UTC()
		i.ResolvedAt = &value
	}
	i.ResolvedBy = resolvedBy
	return i, nil
}
