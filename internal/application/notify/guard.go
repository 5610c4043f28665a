package notify

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/blatr/idealista-notify-bot/internal/domain"
)

const (
	guardKeyPrefix  = "dispatch:"
	defaultGuardTTL = 7 * 24 * time.Hour
)

// RedisGuard wraps a Dispatcher with an at-most-once gate keyed by event id.
// SETNX decides the race between the API process and the queue consumer:
// whoever claims the key delivers, everyone else drops the event silently.
// A delivery that fails after the claim stays dropped rather than risking a
// double notification.
type RedisGuard struct {
	Rdb  *redis.Client
	Next Dispatcher
	TTL  time.Duration
}

func (g *RedisGuard) Dispatch(ctx context.Context, event domain.TransitionEvent) error {
	ttl := g.TTL
	if ttl == 0 {
		ttl = defaultGuardTTL
	}

	claimed, err := g.Rdb.SetNX(ctx, guardKeyPrefix+event.EventID.String(), 1, ttl).Result()
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	return g.Next.Dispatch(ctx, event)
}
