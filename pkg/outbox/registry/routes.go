package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/courier-backend/pkg/config"
	"github.com/angelmondragon/courier-backend/pkg/db/models"
	"github.com/angelmondragon/courier-backend/pkg/enums"
	"github.com/angelmondragon/courier-backend/pkg/outbox"
	"github.com/angelmondragon/courier-backend/pkg/outbox/payloads"
)

// EventDescriptor routes one event type to a topic and names the payload
// schema the publisher validates against.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is an outbox row that passed validation.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row that can never publish as stored. The
// publisher dead-letters it without spending attempts.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func permanent(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

// EventRegistry holds the publishable events. Topics follow the aggregate:
// orders, payouts, and deliveries on the shared domain topic.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
	topics  []string
}

func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	routes := map[enums.OutboxAggregateType]string{
		enums.AggregateOrder:    strings.TrimSpace(cfg.OrdersTopic),
		enums.AggregatePayout:   strings.TrimSpace(cfg.PayoutsTopic),
		enums.AggregateDelivery: strings.TrimSpace(cfg.DomainTopic),
	}
	var missing []string
	for _, agg := range []enums.OutboxAggregateType{enums.AggregateOrder, enums.AggregatePayout, enums.AggregateDelivery} {
		if routes[agg] == "" {
			missing = append(missing, string(agg))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pubsub topic required for %s events", strings.Join(missing, ", "))
	}

	reg := &EventRegistry{entries: map[enums.OutboxEventType]EventDescriptor{}}
	seen := map[string]struct{}{}
	for _, desc := range catalog(routes) {
		reg.entries[desc.EventType] = desc
		seen[desc.Topic] = struct{}{}
	}
	reg.topics = slices.Sorted(maps.Keys(seen))
	return reg, nil
}

func catalog(routes map[enums.OutboxAggregateType]string) []EventDescriptor {
	return []EventDescriptor{
		describe[payloads.OrderCreatedEvent](enums.EventOrderCreated, routes),
		describe[payloads.OrderConfirmedEvent](enums.EventOrderConfirmed, routes),
		describe[payloads.OrderCancelledEvent](enums.EventOrderCancelled, routes),
		describe[payloads.OrderStatusChangedEvent](enums.EventOrderStatusChanged, routes),
		describe[payloads.DeliveryAssignedEvent](enums.EventDeliveryAssigned, routes),
		describe[payloads.PayoutCreatedEvent](enums.EventPayoutCreated, routes),
		describe[payloads.PayoutStatusChangedEvent](enums.EventPayoutStatusChanged, routes),
	}
}

func describe[T any](eventType enums.OutboxEventType, routes map[enums.OutboxAggregateType]string) EventDescriptor {
	agg := eventType.Aggregate()
	return EventDescriptor{
		EventType:      eventType,
		AggregateType:  agg,
		Topic:          routes[agg],
		PayloadFactory: func() any { return new(T) },
	}
}

// Topics lists the distinct topics in sorted order.
func (r *EventRegistry) Topics() []string {
	return slices.Clone(r.topics)
}

// Lookup returns the descriptor for eventType.
func (r *EventRegistry) Lookup(eventType enums.OutboxEventType) (EventDescriptor, bool) {
	desc, ok := r.entries[eventType]
	return desc, ok
}

// Resolve checks the row against its descriptor and decodes the envelope and
// typed payload. Every failure is a NonRetryableError because a stored row
// never changes.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, permanent("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, permanent("aggregate mismatch: %s events belong to %s, got %s", event.EventType, desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, permanent("missing aggregate_id")
	}

	envelope, err := outbox.ParseEnvelope(event.Payload)
	if err != nil {
		return nil, permanent("%s row %s: %w", event.EventType, event.ID, err)
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, permanent("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

// IsNonRetryable reports whether err, or anything it wraps, is a
// NonRetryableError.
func IsNonRetryable(err error) bool {
	var target NonRetryableError
	return errors.As(err, &target)
}
