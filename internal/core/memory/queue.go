package memory

import (
	"context"
	"time"

	"go-relay/internal/domain"
)

// Queue is an in-process ports.InvocationQueue.
type Queue struct {
	ch chan domain.Invocation
}

func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan domain.Invocation, size)}
}

func (q *Queue) Push(ctx context.Context, inv domain.Invocation) error {
	select {
	case q.ch <- inv:
		return nil
	case <-ctx.Done():
		return domain.Retryable("queue push", ctx.Err())
	}
}

func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*domain.Invocation, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case inv := <-q.ch:
		return &inv, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
