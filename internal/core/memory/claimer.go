package memory

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Claimer is a single-process ports.Claimer.
type Claimer struct {
	mu     sync.Mutex
	clock  clock.PassiveClock
	claims map[string]time.Time
}

func NewClaimer(c clock.PassiveClock) *Claimer {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Claimer{clock: c, claims: make(map[string]time.Time)}
}

func (c *Claimer) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if exp, ok := c.claims[key]; ok && now.Before(exp) {
		return false, nil
	}
	c.claims[key] = now.Add(ttl)
	return true, nil
}

func (c *Claimer) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claims, key)
	return nil
}
