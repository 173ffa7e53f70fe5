package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rakunlabs/area-core/internal/domain"
	"github.com/rakunlabs/area-core/internal/queue"
	"github.com/rakunlabs/area-core/internal/registry"
	"github.com/rakunlabs/area-core/internal/validate"
)

type recordingAction struct {
	ran       bool
	gotConfig map[string]any
}

func (a *recordingAction) Run(ctx context.Context, params, config map[string]any) (map[string]any, error) {
	a.ran = true
	a.gotConfig = config
	return map[string]any{"fetched": "data"}, nil
}

type recordingReaction struct {
	gotParams map[string]any
	gotConfig map[string]any
}

func (r *recordingReaction) Run(ctx context.Context, params, config map[string]any) (map[string]any, error) {
	r.gotParams = params
	r.gotConfig = config
	return nil, nil
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

func TestWorkerMergesActionOutputIntoReactionParams(t *testing.T) {
	action := &recordingAction{}
	reaction := &recordingReaction{}
	registry.RegisterAction("test_worker_action", "", validate.Schema{}, func() registry.Action { return action })
	registry.RegisterReaction("test_worker_reaction", "", validate.Schema{}, func() registry.Reaction { return reaction })

	q := newTestQueue(t)
	w := New("w1", q)

	job := domain.Job{
		AreaID: "area-1",
		UserID: "user-1",
		Action: domain.ComponentRef{Name: "test_worker_action"},
		Reaction: domain.ComponentRef{
			Name:   "test_worker_reaction",
			Params: map[string]any{"static": "value"},
		},
	}
	if err := q.Push(context.Background(), job); err != nil {
		t.Fatalf("push: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond)

	if !action.ran {
		t.Fatal("expected action to run")
	}
	if reaction.gotParams["fetched"] != "data" {
		t.Fatalf("expected action output merged into reaction params, got %v", reaction.gotParams)
	}
	if reaction.gotParams["static"] != "value" {
		t.Fatalf("expected static reaction param preserved, got %v", reaction.gotParams)
	}
}

// TestWorkerForwardsTokensVerbatim covers testable property 6 (spec section
// 8): the Worker passes exactly the token the Evaluator embedded in
// job.action.config/job.reaction.config into the Action/Reaction config,
// without re-resolving a credential of its own.
func TestWorkerForwardsTokensVerbatim(t *testing.T) {
	action := &recordingAction{}
	reaction := &recordingReaction{}
	registry.RegisterAction("test_worker_token_action", "", validate.Schema{}, func() registry.Action { return action })
	registry.RegisterReaction("test_worker_token_reaction", "", validate.Schema{}, func() registry.Reaction { return reaction })

	q := newTestQueue(t)
	w := New("w1", q)

	job := domain.Job{
		AreaID: "area-2",
		UserID: "user-2",
		Action: domain.ComponentRef{
			Name:   "test_worker_token_action",
			Config: map[string]any{"token": "action-tok"},
		},
		Reaction: domain.ComponentRef{
			Name:   "test_worker_token_reaction",
			Config: map[string]any{"token": "reaction-tok"},
		},
	}
	if err := q.Push(context.Background(), job); err != nil {
		t.Fatalf("push: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond)

	if action.gotConfig["token"] != "action-tok" {
		t.Fatalf("expected action token %q, got %v", "action-tok", action.gotConfig["token"])
	}
	if reaction.gotConfig["token"] != "reaction-tok" {
		t.Fatalf("expected reaction token %q, got %v", "reaction-tok", reaction.gotConfig["token"])
	}
}

// TestWorkerSkipsReactionWhenActionFiltersOut covers spec scenario 5: an
// Action that rejects the event returns a nil result, and the Worker treats
// that as a silent no-op rather than invoking the Reaction.
func TestWorkerSkipsReactionWhenActionFiltersOut(t *testing.T) {
	action := &filteringAction{}
	reaction := &recordingReaction{}
	registry.RegisterAction("test_worker_filtering_action", "", validate.Schema{}, func() registry.Action { return action })
	registry.RegisterReaction("test_worker_filtering_reaction", "", validate.Schema{}, func() registry.Reaction { return reaction })

	q := newTestQueue(t)
	w := New("w1", q)

	job := domain.Job{
		AreaID:   "area-3",
		UserID:   "user-3",
		Action:   domain.ComponentRef{Name: "test_worker_filtering_action"},
		Reaction: domain.ComponentRef{Name: "test_worker_filtering_reaction"},
	}
	if err := q.Push(context.Background(), job); err != nil {
		t.Fatalf("push: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond)

	if reaction.gotParams != nil || reaction.gotConfig != nil {
		t.Fatalf("expected reaction to never run, got params=%v config=%v", reaction.gotParams, reaction.gotConfig)
	}
}

type filteringAction struct{}

func (a *filteringAction) Run(ctx context.Context, params, config map[string]any) (map[string]any, error) {
	return nil, nil
}
