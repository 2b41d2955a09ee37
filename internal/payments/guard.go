package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/courier-backend/pkg/redis"
)

// GuardScope namespaces webhook ids in the shared Redis keyspace.
const GuardScope = "payments-webhook"

// IdempotencyGuard marks webhook ids as seen so processor retries short-circuit.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &IdempotencyGuard{store: store, ttl: ttl, scope: GuardScope}, nil
}

// CheckAndMark returns true when the id was already marked.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, webhookID string) (bool, error) {
	if webhookID == "" {
		return false, errors.New("webhook id is required")
	}
	set, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, webhookID), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

// Delete releases the mark after a failed attempt so the retry can run again.
func (g *IdempotencyGuard) Delete(ctx context.Context, webhookID string) error {
	if webhookID == "" {
		return errors.New("webhook id is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, webhookID))
}
