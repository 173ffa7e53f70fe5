// Package queue implements the Job Queue: a Redis list used as a FIFO.
// Evaluators LPUSH; Workers RPOP. Pop is non-blocking by design — the
// Worker loop owns the poll-and-backoff behavior so it can select on
// context cancellation between attempts instead of blocking inside Redis.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rakunlabs/area-core/internal/domain"
)

// ErrEmpty is returned by Pop when the queue currently has no Job.
var ErrEmpty = errors.New("queue: empty")

// Queue is a Redis-backed FIFO of domain.Job envelopes.
type Queue struct {
	client *redis.Client
	key    string
}

// New builds a Queue over an existing Redis client, storing jobs under key
// (a single Redis list shared by every Evaluator and Worker in the
// deployment).
func New(client *redis.Client, key string) *Queue {
	return &Queue{client: client, key: key}
}

// Push serializes job and LPUSHes it onto the queue.
func (q *Queue) Push(ctx context.Context, job domain.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("queue: push: %w", err)
	}
	return nil
}

// Pop removes and returns the oldest Job, or ErrEmpty if the queue is
// currently empty. It never blocks waiting for a Job to appear; callers
// that want to wait should poll with their own backoff.
func (q *Queue) Pop(ctx context.Context) (*domain.Job, error) {
	payload, err := q.client.RPop(ctx, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("queue: pop: %w", err)
	}

	var job domain.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("queue: unmarshal job: %w", err)
	}
	return &job, nil
}

// Len reports how many Jobs are currently queued. The Worker loop does not
// use it.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: len: %w", err)
	}
	return n, nil
}
