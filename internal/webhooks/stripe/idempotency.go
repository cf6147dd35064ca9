package stripewebhooks

import (
	"context"
	"fmt"
	"time"

	"github.com/hollowpine/storefront-backend/pkg/redis"
)

const idempotencyScope = "stripe-webhook"

// Guard is the fast concurrent-delivery gate in Redis. Ownership of an event
// id is claimed with SETNX before handling and released on failure so the
// provider's retry can re-enter. The durable dedupe record lives in the
// database, written in the same transaction as the mutations it guards; the
// Redis key only keeps simultaneous deliveries from racing each other.
type Guard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewGuard builds the webhook delivery guard.
func NewGuard(store redis.IdempotencyStore, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, fmt.Errorf("idempotency store required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("idempotency ttl must be positive")
	}
	return &Guard{store: store, ttl: ttl}, nil
}

// CheckAndMark claims the event id. Returns true when another delivery
// already holds it.
func (g *Guard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	ok, err := g.store.SetNX(ctx, g.store.IdempotencyKey(idempotencyScope, eventID), "1", g.ttl)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Delete releases the claim after a failed handling attempt.
func (g *Guard) Delete(ctx context.Context, eventID string) error {
	return g.store.Del(ctx, g.store.IdempotencyKey(idempotencyScope, eventID))
}
