package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// claimStore is satisfied by *redis.Client.
type claimStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	IdempotencyKey(scope, id string) string
}

// Manager remembers which message ids a consumer has handled. A claim is a
// Redis key, courier:idempotency:processed:<consumer>:<id>, whose value names
// the Manager that took it, so Release never frees another replica's claim.
type Manager struct {
	store claimStore
	ttl   time.Duration
	owner string
}

// NewManager keeps claims for ttl. Zero keeps them until evicted.
func NewManager(store claimStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl, owner: uuid.NewString()}, nil
}

// CheckAndMarkProcessed claims id for consumer. It reports true when the id
// was already claimed, by this or any other Manager.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer, id string) (bool, error) {
	key, err := m.key(consumer, id)
	if err != nil {
		return false, err
	}
	claimed, err := m.store.SetNX(ctx, key, m.owner, m.ttl)
	if err != nil {
		return false, err
	}
	return !claimed, nil
}

// Release drops this Manager's claim on id so a redelivery is processed
// again. Claims held by other Managers are left in place.
func (m *Manager) Release(ctx context.Context, consumer, id string) error {
	key, err := m.key(consumer, id)
	if err != nil {
		return err
	}
	_, err = m.store.CompareAndDelete(ctx, key, m.owner)
	return err
}

func (m *Manager) key(consumer, id string) (string, error) {
	consumer, id = strings.TrimSpace(consumer), strings.TrimSpace(id)
	switch {
	case consumer == "":
		return "", errors.New("consumer name is required")
	case id == "":
		return "", errors.New("message id is required")
	}
	return m.store.IdempotencyKey("processed:"+consumer, id), nil
}
