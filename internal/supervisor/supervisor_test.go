package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rakunlabs/area-core/internal/credential"
	"github.com/rakunlabs/area-core/internal/domain"
	"github.com/rakunlabs/area-core/internal/queue"
	"github.com/rakunlabs/area-core/internal/registry"
	"github.com/rakunlabs/area-core/internal/validate"
)

type memAreaStore struct {
	mu    sync.Mutex
	areas []domain.Area
}

func (m *memAreaStore) ListAreas(ctx context.Context) ([]domain.Area, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Area, len(m.areas))
	copy(out, m.areas)
	return out, nil
}

func (m *memAreaStore) GetArea(ctx context.Context, id string) (*domain.Area, error) { return nil, nil }
func (m *memAreaStore) CreateArea(ctx context.Context, a domain.Area) (*domain.Area, error) {
	return nil, nil
}
func (m *memAreaStore) UpdateArea(ctx context.Context, id string, a domain.Area) (*domain.Area, error) {
	return nil, nil
}
func (m *memAreaStore) DeleteArea(ctx context.Context, id string) error { return nil }

func (m *memAreaStore) set(areas []domain.Area) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.areas = areas
}

type noCredStore struct{}

func (noCredStore) GetUserService(ctx context.Context, userID, service string) (*domain.UserService, error) {
	return nil, nil
}
func (noCredStore) UpsertUserService(ctx context.Context, us domain.UserService) (*domain.UserService, error) {
	return &us, nil
}

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return queue.New(client, "jobs")
}

func TestReconcileStartsAndStopsEvaluators(t *testing.T) {
	registry.RegisterTrigger("test_supervisor_trigger", "", validate.Schema{}, func(areaID string) registry.Trigger {
		return noopTrigger{}
	})

	store := &memAreaStore{}
	q := newTestQueue(t)
	resolver := credential.New(noCredStore{}, nil)
	sup := New(store, q, resolver, nil)

	store.set([]domain.Area{{ID: "a1", Enabled: true, TriggerType: "test_supervisor_trigger"}})

	ctx := context.Background()
	sup.reconcile(ctx)

	sup.mu.Lock()
	if _, ok := sup.current["a1"]; !ok {
		sup.mu.Unlock()
		t.Fatal("expected evaluator a1 to be running")
	}
	sup.mu.Unlock()

	store.set(nil)
	sup.reconcile(ctx)

	sup.mu.Lock()
	defer sup.mu.Unlock()
	if _, ok := sup.current["a1"]; ok {
		t.Fatal("expected evaluator a1 to be stopped after area removed")
	}
}

// TestReconcileSkipsInvalidConfig covers spec scenario 3: an Area whose
// trigger kind's Schema rejects its stored config never gets a running
// Evaluator, and the failure is retried (and re-logged) every cycle rather
// than being scheduled once and left to fail at runtime.
func TestReconcileSkipsInvalidConfig(t *testing.T) {
	registry.RegisterTrigger("test_supervisor_invalid_trigger", "", validate.Schema{
		Fields: []validate.Field{{Name: "interval", Type: validate.TypeDuration, Required: true}},
	}, func(areaID string) registry.Trigger { return noopTrigger{} })

	store := &memAreaStore{}
	store.set([]domain.Area{{
		ID:            "bad-area",
		Enabled:       true,
		TriggerType:   "test_supervisor_invalid_trigger",
		TriggerConfig: map[string]any{"interval": "fast"},
	}})

	q := newTestQueue(t)
	resolver := credential.New(noCredStore{}, nil)
	sup := New(store, q, resolver, nil)

	ctx := context.Background()
	sup.reconcile(ctx)

	sup.mu.Lock()
	_, ok := sup.current["bad-area"]
	sup.mu.Unlock()
	if ok {
		t.Fatal("expected no evaluator to start for an area with invalid trigger config")
	}

	// Retried (and still rejected) on the next cycle too.
	sup.reconcile(ctx)
	sup.mu.Lock()
	defer sup.mu.Unlock()
	if _, ok := sup.current["bad-area"]; ok {
		t.Fatal("expected invalid area to remain unscheduled on subsequent cycles")
	}
}

type noopTrigger struct{}

func (noopTrigger) Evaluate(ctx context.Context, config map[string]any) (*registry.TriggerResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunStopsAllOnCancel(t *testing.T) {
	registry.RegisterTrigger("test_supervisor_run_trigger", "", validate.Schema{}, func(areaID string) registry.Trigger {
		return noopTrigger{}
	})

	store := &memAreaStore{}
	store.set([]domain.Area{{ID: "a2", Enabled: true, TriggerType: "test_supervisor_run_trigger"}})

	q := newTestQueue(t)
	resolver := credential.New(noCredStore{}, nil)
	sup := New(store, q, resolver, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	sup.Run(ctx)

	sup.mu.Lock()
	defer sup.mu.Unlock()
	if len(sup.current) != 0 {
		t.Fatalf("expected all evaluators stopped after Run returns, got %d", len(sup.current))
	}
}
