package evaluator

import (
	"context"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rakunlabs/area-core/internal/credential"
	"github.com/rakunlabs/area-core/internal/domain"
	"github.com/rakunlabs/area-core/internal/filter"
	"github.com/rakunlabs/area-core/internal/queue"
	"github.com/rakunlabs/area-core/internal/registry"
	"github.com/rakunlabs/area-core/internal/validate"
)

type countingTrigger struct {
	calls int32
	fire  bool
}

func (c *countingTrigger) Evaluate(ctx context.Context, config map[string]any) (*registry.TriggerResult, error) {
	atomic.AddInt32(&c.calls, 1)
	if !c.fire {
		return nil, nil
	}
	return &registry.TriggerResult{Data: map[string]any{"content": "hello"}}, nil
}

type noCredStore struct{}

func (noCredStore) GetUserService(ctx context.Context, userID, service string) (*domain.UserService, error) {
	return nil, nil
}
func (noCredStore) UpsertUserService(ctx context.Context, us domain.UserService) (*domain.UserService, error) {
	return &us, nil
}

// fakeCredStore hands back a fixed, never-expiring access token for every
// service name present in tokens, keyed by service, not by component kind.
type fakeCredStore struct {
	tokens map[string]string
}

func (s fakeCredStore) GetUserService(ctx context.Context, userID, service string) (*domain.UserService, error) {
	tok, ok := s.tokens[service]
	if !ok {
		return nil, nil
	}
	return &domain.UserService{UserID: userID, Service: service, AccessToken: tok}, nil
}
func (fakeCredStore) UpsertUserService(ctx context.Context, us domain.UserService) (*domain.UserService, error) {
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

func TestEvaluatorPushesJobOnFiring(t *testing.T) {
	trig := &countingTrigger{fire: true}
	registry.RegisterTrigger("test_evaluator_fires", "", validate.Schema{}, func(areaID string) registry.Trigger { return trig })

	q := newTestQueue(t)
	resolver := credential.New(noCredStore{}, nil)

	area := domain.Area{
		ID:            "area-1",
		UserID:        "user-1",
		TriggerType:   "test_evaluator_fires",
		TriggerConfig: map[string]any{"interval": 10 * time.Millisecond},
		ActionType:    "noop_action",
		ReactionType:  "noop_reaction",
	}

	ev, err := New(area, q, resolver)
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	ev.Run(ctx)

	job, err := q.Pop(context.Background())
	if err != nil {
		t.Fatalf("expected a pushed job, got error: %v", err)
	}
	if job.AreaID != "area-1" {
		t.Fatalf("expected area-1, got %q", job.AreaID)
	}
}

func TestEvaluatorEmbedsTokensAndMergesReactionParams(t *testing.T) {
	trig := &countingTrigger{fire: true}
	registry.RegisterTrigger("test_evaluator_tokens", "", validate.Schema{}, func(areaID string) registry.Trigger { return trig })
	registry.RegisterAction("test_evaluator_action", "google", validate.Schema{}, func() registry.Action { return nil })
	registry.RegisterReaction("test_evaluator_reaction", "discord", validate.Schema{}, func() registry.Reaction { return nil })

	q := newTestQueue(t)
	resolver := credential.New(fakeCredStore{tokens: map[string]string{
		"google":  "action-token",
		"discord": "reaction-token",
	}}, nil)

	area := domain.Area{
		ID:             "area-3",
		UserID:         "user-1",
		TriggerType:    "test_evaluator_tokens",
		TriggerConfig:  map[string]any{"interval": 10 * time.Millisecond},
		ActionType:     "test_evaluator_action",
		ReactionType:   "test_evaluator_reaction",
		ReactionConfig: map[string]any{"channel_id": "general"},
	}

	ev, err := New(area, q, resolver)
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	ev.Run(ctx)

	job, err := q.Pop(context.Background())
	if err != nil {
		t.Fatalf("expected a pushed job, got error: %v", err)
	}
	if job.Action.Config["token"] != "action-token" {
		t.Fatalf("expected action token embedded, got %v", job.Action.Config["token"])
	}
	if job.Reaction.Config["token"] != "reaction-token" {
		t.Fatalf("expected reaction token embedded, got %v", job.Reaction.Config["token"])
	}
	if job.Reaction.Params["content"] != "hello" {
		t.Fatalf("expected reaction params to carry event data, got %v", job.Reaction.Params)
	}
	if job.Reaction.Params["channel_id"] != "general" {
		t.Fatalf("expected reaction params to carry reaction_config, got %v", job.Reaction.Params)
	}
}

// TestEvaluatorCarriesFilterIntoActionConfig covers the Filter/Action
// wiring: the Evaluator never evaluates an Area's Filter itself (that's the
// Action's job, downstream of the Job Queue), it only needs to attach the
// Filter to the pushed Job's action.config so the Action can apply it.
func TestEvaluatorCarriesFilterIntoActionConfig(t *testing.T) {
	trig := &countingTrigger{fire: true}
	registry.RegisterTrigger("test_evaluator_filtered", "", validate.Schema{}, func(areaID string) registry.Trigger { return trig })

	q := newTestQueue(t)
	resolver := credential.New(noCredStore{}, nil)

	wantFilter := &domain.Filter{
		Match:      domain.MatchAll,
		Conditions: []domain.FilterCondition{{Field: "content", Operator: domain.OpEquals, Value: "nope"}},
	}
	area := domain.Area{
		ID:            "area-2",
		UserID:        "user-1",
		TriggerType:   "test_evaluator_filtered",
		TriggerConfig: map[string]any{"interval": 10 * time.Millisecond},
		Filter:        wantFilter,
	}

	ev, err := New(area, q, resolver)
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	ev.Run(ctx)

	job, err := q.Pop(context.Background())
	if err != nil {
		t.Fatalf("expected a pushed job regardless of the filter's verdict, got error: %v", err)
	}
	// The Job crosses the queue as JSON, so the filter comes back as a map;
	// decode it the way an Action does before comparing.
	gotFilter, err := filter.FromConfig(job.Action.Config["filter"])
	if err != nil {
		t.Fatalf("decode carried filter: %v", err)
	}
	if !reflect.DeepEqual(gotFilter, wantFilter) {
		t.Fatalf("expected the area's filter carried in action.config, got %v", job.Action.Config["filter"])
	}
}
