package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rakunlabs/area-core/internal/domain"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client, "jobs")
}

func TestPopEmpty(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Pop(context.Background())
	if err != ErrEmpty {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestPushPopFIFO(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	first := domain.Job{AreaID: "area-1"}
	second := domain.Job{AreaID: "area-2"}

	if err := q.Push(ctx, first); err != nil {
		t.Fatalf("push first: %v", err)
	}
	if err := q.Push(ctx, second); err != nil {
		t.Fatalf("push second: %v", err)
	}

	got, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if got.AreaID != first.AreaID {
		t.Fatalf("expected FIFO order, got %q first", got.AreaID)
	}

	got, err = q.Pop(ctx)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if got.AreaID != second.AreaID {
		t.Fatalf("expected %q second, got %q", second.AreaID, got.AreaID)
	}

	if _, err := q.Pop(ctx); err != ErrEmpty {
		t.Fatalf("expected ErrEmpty after draining, got %v", err)
	}
}

func TestLen(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_ = q.Push(ctx, domain.Job{AreaID: "a"})
	_ = q.Push(ctx, domain.Job{AreaID: "b"})

	n, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
}
