package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/splax/apitrail/internal/domain"
	"github.com/splax/apitrail/internal/repository"
)

var base = time.Date(2024, 3, 10, 9, 15, 0, 0, time.UTC)

func insertEvent(t *testing.T, s *Store, e domain.LogEvent) domain.LogEvent {
	t.Helper()
	if e.EventType == "" {
		e.EventType = domain.EventTypeAPICall
	}
	if err := s.InsertEvent(context.Background(), &e); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	return e
}

func TestInsertEventAssignsSequentialIDs(t *testing.T) {
	s := New()
	first := insertEvent(t, s, domain.LogEvent{ServiceName: "svc", Endpoint: "/a", Timestamp: base})
	second := insertEvent(t, s, domain.LogEvent{ServiceName: "svc", Endpoint: "/b", Timestamp: base})
	if first.ID != 1 || second.ID != 2 {
		t.Fatalf("expected ids 1,2 got %d,%d", first.ID, second.ID)
	}
	if first.IngestedAt.IsZero() {
		t.Fatal("expected ingested_at to be set")
	}
}

func TestListEventsFiltersAndOrders(t *testing.T) {
	s := New()
	insertEvent(t, s, domain.LogEvent{ServiceName: "svc", Endpoint: "/fast", StatusCode: 200, LatencyMS: 20, Timestamp: base})
	insertEvent(t, s, domain.LogEvent{ServiceName: "svc", Endpoint: "/slow", StatusCode: 200, LatencyMS: 900, Timestamp: base.Add(time.Minute)})
	insertEvent(t, s, domain.LogEvent{ServiceName: "svc", Endpoint: "/slow", StatusCode: 503, LatencyMS: 800, Timestamp: base.Add(2 * time.Minute)})
	insertEvent(t, s, domain.LogEvent{ServiceName: "other", Endpoint: "/slow", StatusCode: 200, LatencyMS: 10, Timestamp: base.Add(3 * time.Minute), EventType: domain.EventTypeRateLimitHit})

	all, err := s.ListEvents(context.Background(), domain.EventFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 4 || all[0].ServiceName != "other" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	slowBroken, err := s.ListEvents(context.Background(), domain.EventFilter{SlowAPI: true, BrokenAPI: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(slowBroken) != 1 || slowBroken[0].StatusCode != 503 {
		t.Fatalf("expected AND-composed flags, got %+v", slowBroken)
	}

	start := base.Add(90 * time.Second)
	windowed, _ := s.ListEvents(context.Background(), domain.EventFilter{ServiceName: "svc", StartDate: &start})
	if len(windowed) != 1 || windowed[0].StatusCode != 503 {
		t.Fatalf("expected start date filter, got %+v", windowed)
	}

	limited, _ := s.ListEvents(context.Background(), domain.EventFilter{RateLimitHit: true, Limit: 10})
	if len(limited) != 1 || limited[0].EventType != domain.EventTypeRateLimitHit {
		t.Fatalf("expected rate limit filter, got %+v", limited)
	}
}

func TestOpenIncidentIfAbsentDedupesTriple(t *testing.T) {
	s := New()
	ctx := context.Background()
	first := &domain.Incident{ID: "inc-1", ServiceName: "svc", Endpoint: "/slow", IncidentType: "SLOW_API", CreatedAt: base}
	created, err := s.OpenIncidentIfAbsent(ctx, first)
	if err != nil || !created {
		t.Fatalf("expected first insert, got %v %v", created, err)
	}
	dup := &domain.Incident{ID: "inc-2", ServiceName: "svc", Endpoint: "/slow", IncidentType: "SLOW_API", CreatedAt: base}
	created, err = s.OpenIncidentIfAbsent(ctx, dup)
	if err != nil || created {
		t.Fatalf("expected duplicate to be a no-op, got %v %v", created, err)
	}
	other := &domain.Incident{ID: "inc-3", ServiceName: "svc", Endpoint: "/slow", IncidentType: "BROKEN_API", CreatedAt: base}
	if created, _ := s.OpenIncidentIfAbsent(ctx, other); !created {
		t.Fatal("expected a different type to open its own incident")
	}
	open, _ := s.ListIncidents(ctx, domain.IncidentOpen)
	if len(open) != 2 {
		t.Fatalf("expected 2 open incidents, got %d", len(open))
	}
}

func TestOpenIncidentIfAbsentConcurrent(t *testing.T) {
	s := New()
	var created atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.OpenIncidentIfAbsent(context.Background(), &domain.Incident{
				ID: fmt.Sprintf("inc-%d", i), ServiceName: "svc", Endpoint: "/x", IncidentType: "BROKEN_API", CreatedAt: base,
			})
			if err != nil {
				t.Errorf("open: %v", err)
			}
			if ok {
				created.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if created.Load() != 1 {
		t.Fatalf("expected exactly one incident opened, got %d", created.Load())
	}
}

func TestResolveIncidentTransitionsOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	inc := &domain.Incident{ID: "inc-1", ServiceName: "svc", Endpoint: "/x", IncidentType: "SLOW_API", CreatedAt: base}
	if _, err := s.OpenIncidentIfAbsent(ctx, inc); err != nil {
		t.Fatalf("open: %v", err)
	}

	ok, err := s.ResolveIncident(ctx, "inc-1", "alice", base.Add(time.Hour))
	if err != nil || !ok {
		t.Fatalf("expected resolve to apply, got %v %v", ok, err)
	}
	got, _ := s.GetIncident(ctx, "inc-1")
	if got.Status != domain.IncidentResolved || got.Version != 1 || got.ResolvedBy == nil || *got.ResolvedBy != "alice" {
		t.Fatalf("unexpected resolved incident %+v", got)
	}

	ok, err = s.ResolveIncident(ctx, "inc-1", "bob", base.Add(2*time.Hour))
	if err != nil || ok {
		t.Fatalf("expected second resolve to be rejected, got %v %v", ok, err)
	}
	got, _ = s.GetIncident(ctx, "inc-1")
	if got.Version != 1 || *got.ResolvedBy != "alice" {
		t.Fatalf("second resolve must not mutate, got %+v", got)
	}

	if ok, _ := s.ResolveIncident(ctx, "missing", "alice", base); ok {
		t.Fatal("expected missing incident to report false")
	}

	reopened := &domain.Incident{ID: "inc-2", ServiceName: "svc", Endpoint: "/x", IncidentType: "SLOW_API", CreatedAt: base.Add(3 * time.Hour)}
	if created, _ := s.OpenIncidentIfAbsent(ctx, reopened); !created {
		t.Fatal("expected a new incident after resolution")
	}
}

func TestResolveIncidentConcurrentSingleWinner(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, _ = s.OpenIncidentIfAbsent(ctx, &domain.Incident{ID: "inc-1", ServiceName: "svc", Endpoint: "/x", IncidentType: "SLOW_API", CreatedAt: base})

	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if ok, _ := s.ResolveIncident(ctx, "inc-1", fmt.Sprintf("user-%d", i), base); ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected one winner, got %d", wins.Load())
	}
	got, _ := s.GetIncident(ctx, "inc-1")
	if got.Version != 1 {
		t.Fatalf("expected version 1, got %d", got.Version)
	}
}

func TestGetIncidentNotFound(t *testing.T) {
	if _, err := New().GetIncident(context.Background(), "nope"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAlertsRecent(t *testing.T) {
	s := New()
	ctx := context.Background()
	types := []domain.AlertType{domain.AlertSlowAPI, domain.AlertBrokenAPI, domain.AlertSlowAPI, domain.AlertRateLimitHit}
	for i, typ := range types {
		alert := &domain.Alert{ID: fmt.Sprintf("a-%d", i), AlertType: typ, Timestamp: base.Add(time.Duration(i) * time.Minute)}
		if err := s.InsertAlert(ctx, alert); err != nil {
			t.Fatalf("insert alert: %v", err)
		}
	}
	recent, _ := s.ListRecentAlerts(ctx, 2)
	if len(recent) != 2 || recent[0].ID != "a-3" || recent[1].ID != "a-2" {
		t.Fatalf("unexpected recent alerts %+v", recent)
	}
	if err := s.InsertAlert(ctx, &domain.Alert{ID: "a-0"}); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected conflict for duplicate id, got %v", err)
	}
}

func TestUsersUniqueUsername(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.CreateUser(ctx, &domain.User{ID: "u1", Username: "alice"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateUser(ctx, &domain.User{ID: "u2", Username: "alice"}); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	u, err := s.GetUserByUsername(ctx, "alice")
	if err != nil || u.ID != "u1" {
		t.Fatalf("lookup: %+v %v", u, err)
	}
}

func TestAnalyticsAggregations(t *testing.T) {
	s := New()
	ctx := context.Background()
	insertEvent(t, s, domain.LogEvent{ServiceName: "a", Endpoint: "/x", StatusCode: 200, LatencyMS: 100, Timestamp: base})
	insertEvent(t, s, domain.LogEvent{ServiceName: "a", Endpoint: "/x", StatusCode: 500, LatencyMS: 700, Timestamp: base.Add(time.Hour)})
	insertEvent(t, s, domain.LogEvent{ServiceName: "a", Endpoint: "/y", StatusCode: 200, LatencyMS: 600, Timestamp: base.Add(time.Hour)})

	avg, _ := s.AvgLatencyByEndpoint(ctx, 20)
	if len(avg) != 2 || avg[0].Endpoint != "/y" || avg[1].AvgLatencyMS != 400 {
		t.Fatalf("unexpected avg latency %+v", avg)
	}

	slow, _ := s.TopSlowEndpoints(ctx, 500, 5)
	if len(slow) != 2 || slow[0].Endpoint != "/x" || slow[0].MaxLatencyMS != 700 || slow[0].Count != 1 {
		t.Fatalf("unexpected slow endpoints %+v", slow)
	}

	insertEvent(t, s, domain.LogEvent{ServiceName: "a", Endpoint: "/y", StatusCode: 200, LatencyMS: 5, Timestamp: base.Add(-48 * time.Hour), EventType: domain.EventTypeRateLimitHit})
	stats, _ := s.ViolationCounts(ctx)
	if stats.SlowAPICount != 2 || stats.BrokenAPICount != 1 || stats.RateLimitViolations != 1 {
		t.Fatalf("unexpected violation counts %+v", stats)
	}

	total, errs, _ := s.ErrorCounts(ctx)
	if total != 4 || errs != 1 {
		t.Fatalf("unexpected counts %d/%d", total, errs)
	}

	timeline, _ := s.Timeline(ctx, base.Truncate(time.Hour), base.Add(24*time.Hour), 24)
	if len(timeline) != 2 {
		t.Fatalf("expected 2 buckets, got %+v", timeline)
	}
	if !timeline[0].Bucket.Equal(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)) || timeline[1].Requests != 2 || timeline[1].Errors != 1 {
		t.Fatalf("unexpected timeline %+v", timeline)
	}
}

func TestTimelineExcludesEventsAtOrAfterUntil(t *testing.T) {
	s := New()
	ctx := context.Background()
	hour := base.Truncate(time.Hour)
	insertEvent(t, s, domain.LogEvent{ServiceName: "a", Endpoint: "/x", StatusCode: 200, LatencyMS: 10, Timestamp: hour.Add(30 * time.Minute)})
	insertEvent(t, s, domain.LogEvent{ServiceName: "a", Endpoint: "/x", StatusCode: 200, LatencyMS: 10, Timestamp: hour.Add(time.Hour)})
	insertEvent(t, s, domain.LogEvent{ServiceName: "a", Endpoint: "/x", StatusCode: 200, LatencyMS: 10, Timestamp: hour.Add(72 * time.Hour)})

	timeline, err := s.Timeline(ctx, hour, hour.Add(time.Hour), 24)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(timeline) != 1 || !timeline[0].Bucket.Equal(hour) || timeline[0].Requests != 1 {
		t.Fatalf("expected only the bounded hour, got %+v", timeline)
	}
}
