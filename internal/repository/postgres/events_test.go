package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/splax/apitrail/internal/domain"
)

func TestBuildEventQueryWithoutFilters(t *testing.T) {
	query, args := buildEventQuery(domain.EventFilter{})
	if strings.Contains(query, "WHERE") {
		t.Fatalf("expected no WHERE clause, got %q", query)
	}
	if len(args) != 1 || args[0] != defaultEventLimit {
		t.Fatalf("expected default limit arg, got %v", args)
	}
	if !strings.HasSuffix(query, "ORDER BY occurred_at DESC, id DESC LIMIT $1") {
		t.Fatalf("unexpected ordering clause %q", query)
	}
}

func TestBuildEventQueryComposesFilters(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	status := 503
	query, args := buildEventQuery(domain.EventFilter{
		ServiceName:  " payments ",
		StartDate:    &start,
		StatusCode:   &status,
		SlowAPI:      true,
		BrokenAPI:    true,
		RateLimitHit: true,
		Limit:        5000,
	})

	for _, fragment := range []string{
		"service_name = $1",
		"occurred_at >= $2",
		"status_code = $3",
		"latency_ms > 500",
		"status_code >= 500",
		"event_type = $4",
		"LIMIT $5",
	} {
		if !strings.Contains(query, fragment) {
			t.Fatalf("expected %q in %q", fragment, query)
		}
	}
	if strings.Count(query, " AND ") != 5 {
		t.Fatalf("expected six AND-composed clauses, got %q", query)
	}
	if args[0] != "payments" || args[3] != string(domain.EventTypeRateLimitHit) || args[4] != maxEventLimit {
		t.Fatalf("unexpected args %v", args)
	}
}
