package incident

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/splax/apitrail/internal/domain"
	"github.com/splax/apitrail/internal/repository"
	"github.com/splax/apitrail/internal/repository/memory"
)

type recordingNotifier struct {
	mu       sync.Mutex
	opened   []domain.Incident
	resolved []domain.Incident
}

func (r *recordingNotifier) AlertRaised(context.Context, domain.Alert) {}

func (r *recordingNotifier) IncidentOpened(_ context.Context, i domain.Incident) {
	r.mu.Lock()
	r.opened = append(r.opened, i)
	r.mu.Unlock()
}

func (r *recordingNotifier) IncidentResolved(_ context.Context, i domain.Incident) {
	r.mu.Lock()
	r.resolved = append(r.resolved, i)
	r.mu.Unlock()
}

// raceRepo hides the OPEN incident from FindOpenIncident to exercise the insert-if-absent path.
type raceRepo struct {
	repository.IncidentRepository
}

func (raceRepo) FindOpenIncident(context.Context, domain.IncidentKey) (*domain.Incident, error) {
	return nil, repository.ErrNotFound
}

type failingRepo struct {
	repository.IncidentRepository
}

func (failingRepo) FindOpenIncident(context.Context, domain.IncidentKey) (*domain.Incident, error) {
	return nil, errors.New("connection reset")
}

func newTestService(repo repository.IncidentRepository, n *recordingNotifier) *Service {
	svc := NewService(repo, n, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var seq atomic.Int64
	svc.newID = func() string { return fmt.Sprintf("inc-%d", seq.Add(1)) }
	svc.now = func() time.Time { return time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC) }
	return svc
}

func TestCorrelateOpensOncePerTriple(t *testing.T) {
	store := memory.New()
	n := &recordingNotifier{}
	svc := newTestService(store, n)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		created, err := svc.Correlate(ctx, "payments", "/charge", "SLOW_API", "Endpoint /charge has latency over 500ms")
		if err != nil {
			t.Fatalf("correlate: %v", err)
		}
		if created != (i == 0) {
			t.Fatalf("call %d: unexpected created=%v", i, created)
		}
	}
	if created, _ := svc.Correlate(ctx, "payments", "/charge", "BROKEN_API", "x"); !created {
		t.Fatal("expected separate incident for another type")
	}

	open, _ := svc.List(ctx, domain.IncidentOpen)
	if len(open) != 2 {
		t.Fatalf("expected 2 open incidents, got %d", len(open))
	}
	if len(n.opened) != 2 {
		t.Fatalf("expected 2 open notifications, got %d", len(n.opened))
	}
	first, _ := svc.Get(ctx, "inc-1")
	if first.Status != domain.IncidentOpen || first.Version != 0 || first.ResolvedAt != nil || first.ResolvedBy != nil {
		t.Fatalf("unexpected new incident %+v", first)
	}
}

func TestCorrelateConcurrentProducesSingleIncident(t *testing.T) {
	store := memory.New()
	svc := newTestService(store, &recordingNotifier{})

	var created atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 24; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := svc.Correlate(context.Background(), "svc", "/x", "BROKEN_API", "d")
			if err != nil {
				t.Errorf("correlate: %v", err)
			}
			if ok {
				created.Add(1)
			}
		}()
	}
	wg.Wait()
	if created.Load() != 1 {
		t.Fatalf("expected exactly one incident, got %d", created.Load())
	}
}

func TestCorrelateLosesRaceAtStorage(t *testing.T) {
	store := memory.New()
	svc := newTestService(store, &recordingNotifier{})
	if _, err := svc.Correlate(context.Background(), "svc", "/x", "SLOW_API", "d"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	racing := newTestService(raceRepo{store}, &recordingNotifier{})
	racing.newID = func() string { return "inc-racer" }
	created, err := racing.Correlate(context.Background(), "svc", "/x", "SLOW_API", "d")
	if err != nil || created {
		t.Fatalf("expected conflict to be a no-op, got %v %v", created, err)
	}
	all, _ := store.ListIncidents(context.Background(), "")
	if len(all) != 1 {
		t.Fatalf("expected single incident, got %d", len(all))
	}
}

func TestCorrelateValidationAndStorageErrors(t *testing.T) {
	svc := newTestService(memory.New(), &recordingNotifier{})
	if _, err := svc.Correlate(context.Background(), "", "/x", "SLOW_API", ""); !errors.Is(err, ErrInvalidIncident) {
		t.Fatalf("expected ErrInvalidIncident, got %v", err)
	}
	failing := newTestService(failingRepo{}, &recordingNotifier{})
	if _, err := failing.Correlate(context.Background(), "svc", "/x", "SLOW_API", ""); err == nil {
		t.Fatal("expected storage error to propagate")
	}
}

func TestResolveLifecycle(t *testing.T) {
	store := memory.New()
	n := &recordingNotifier{}
	svc := newTestService(store, n)
	ctx := context.Background()
	if _, err := svc.Correlate(ctx, "svc", "/x", "SLOW_API", "d"); err != nil {
		t.Fatalf("correlate: %v", err)
	}

	ok, err := svc.Resolve(ctx, "inc-1", "alice")
	if err != nil || !ok {
		t.Fatalf("expected resolve, got %v %v", ok, err)
	}
	resolved, _ := svc.Get(ctx, "inc-1")
	if resolved.Status != domain.IncidentResolved || resolved.Version != 1 || *resolved.ResolvedBy != "alice" || resolved.ResolvedAt == nil {
		t.Fatalf("unexpected resolved incident %+v", resolved)
	}
	if len(n.resolved) != 1 || n.resolved[0].Version != 1 {
		t.Fatalf("expected resolved notification, got %+v", n.resolved)
	}

	ok, err = svc.Resolve(ctx, "inc-1", "bob")
	if err != nil || ok {
		t.Fatalf("expected second resolve rejected, got %v %v", ok, err)
	}
	again, _ := svc.Get(ctx, "inc-1")
	if again.Version != 1 || *again.ResolvedBy != "alice" {
		t.Fatalf("second resolve mutated incident %+v", again)
	}

	if ok, _ := svc.Resolve(ctx, "nonexistent-id", "alice"); ok {
		t.Fatal("expected false for missing incident")
	}
	if _, err := svc.Resolve(ctx, "inc-1", " "); !errors.Is(err, ErrResolverRequired) {
		t.Fatalf("expected ErrResolverRequired, got %v", err)
	}

	created, _ := svc.Correlate(ctx, "svc", "/x", "SLOW_API", "d")
	if !created {
		t.Fatal("expected a fresh incident once the previous one is resolved")
	}
}

func TestResolveConcurrentSingleWinner(t *testing.T) {
	store := memory.New()
	svc := newTestService(store, &recordingNotifier{})
	ctx := context.Background()
	_, _ = svc.Correlate(ctx, "svc", "/x", "BROKEN_API", "d")

	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if ok, _ := svc.Resolve(ctx, "inc-1", fmt.Sprintf("op-%d", i)); ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestListRejectsUnknownStatus(t *testing.T) {
	svc := newTestService(memory.New(), &recordingNotifier{})
	if _, err := svc.List(context.Background(), "PENDING"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestReplayCountsOpenIncidents(t *testing.T) {
	store := memory.New()
	svc := newTestService(store, &recordingNotifier{})
	ctx := context.Background()
	_, _ = svc.Correlate(ctx, "svc", "/a", "SLOW_API", "d")
	_, _ = svc.Correlate(ctx, "svc", "/b", "BROKEN_API", "d")
	_, _ = svc.Resolve(ctx, "inc-2", "alice")

	count, err := svc.Replay(ctx)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 open incident, got %d", count)
	}
}
