package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"go-relay/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RedisEventBus struct {
	client       *redis.Client
	eventChannel string
	stopChannel  string
	log          zerolog.Logger
}

func NewRedisEventBus(client *redis.Client, eventChannel, stopChannel string, log zerolog.Logger) *RedisEventBus {
	return &RedisEventBus{
		client:       client,
		eventChannel: eventChannel,
		stopChannel:  stopChannel,
		log:          log.With().Str("component", "event_bus").Logger(),
	}
}

// PublishTerminal broadcasts a worker terminal event to detectors
func (b *RedisEventBus) PublishTerminal(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return wrap("publish terminal event", b.client.Publish(ctx, b.eventChannel, payload).Err())
}

// SubscribeTerminal opens a continuous stream for the detector
func (b *RedisEventBus) SubscribeTerminal(ctx context.Context) (<-chan domain.Event, error) {
	return subscribe[domain.Event](ctx, b, b.eventChannel)
}

// PublishStop broadcasts a stop command and returns how many workers heard it.
func (b *RedisEventBus) PublishStop(ctx context.Context, cmd domain.StopCommand) (int64, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return 0, err
	}
	n, err := b.client.Publish(ctx, b.stopChannel, payload).Result()
	return n, wrap("publish stop", err)
}

// SubscribeStops opens a continuous stream of stop commands for a worker
func (b *RedisEventBus) SubscribeStops(ctx context.Context) (<-chan domain.StopCommand, error) {
	return subscribe[domain.StopCommand](ctx, b, b.stopChannel)
}

func subscribe[T any](ctx context.Context, b *RedisEventBus, channel string) (<-chan T, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so nothing published after
	// this call returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	msgChan := make(chan T)

	// Start a background goroutine to listen to Redis and forward to our Go channel
	go func() {
		defer close(msgChan)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var v T
				if err := json.Unmarshal([]byte(msg.Payload), &v); err != nil {
					b.log.Warn().Err(err).Str("channel", channel).Msg("dropping undecodable message")
					continue
				}
				select {
				case msgChan <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return msgChan, nil
}
