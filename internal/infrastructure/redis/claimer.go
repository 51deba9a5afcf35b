package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Claimer hands out one-shot claims across detector replicas with SETNX.
type Claimer struct {
	client *redis.Client
	prefix string
	owner  string
}

func NewClaimer(client *redis.Client, prefix string) *Claimer {
	return &Claimer{client: client, prefix: prefix, owner: uuid.NewString()}
}

func (c *Claimer) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.prefix+key, c.owner, ttl).Result()
	if err != nil {
		return false, wrap("claim", err)
	}
	return ok, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release deletes the claim only while this claimer still owns it.
func (c *Claimer) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, c.client, []string{c.prefix + key}, c.owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return wrap("release claim", err)
	}
	return nil
}
