package redis

import (
	"context"
	"fmt"

	"go-relay/internal/domain"
)

// Gateway is the queue-backed invocation gateway. Invoke returns once the
// invocation is enqueued; workers acknowledge by journaling
// RUNTIME_INVOKE_STARTED.
type Gateway struct {
	queue *RedisQueue
	bus   *RedisEventBus
}

func NewGateway(queue *RedisQueue, bus *RedisEventBus) *Gateway {
	return &Gateway{queue: queue, bus: bus}
}

func (g *Gateway) Invoke(ctx context.Context, inv domain.Invocation) error {
	return g.queue.Push(ctx, inv)
}

// StopSession broadcasts the stop. With no worker subscribed there is nobody
// to stop the session, which is reported as a failure.
func (g *Gateway) StopSession(ctx context.Context, cmd domain.StopCommand) error {
	receivers, err := g.bus.PublishStop(ctx, cmd)
	if err != nil {
		return err
	}
	if receivers == 0 {
		return fmt.Errorf("no worker is listening for stop of session %s", cmd.SessionID)
	}
	return nil
}
