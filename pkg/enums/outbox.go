package enums

import "strings"

// OutboxAggregateType names the entity an outbox event belongs to. Events of
// one aggregate id publish in creation order.
type OutboxAggregateType string

const (
	AggregateOrder    OutboxAggregateType = "order"
	AggregatePayout   OutboxAggregateType = "payout"
	AggregateDelivery OutboxAggregateType = "delivery"
)

var aggregateTypes = values[OutboxAggregateType]{
	AggregateOrder,
	AggregatePayout,
	AggregateDelivery,
}

func (a OutboxAggregateType) IsValid() bool { return aggregateTypes.has(a) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return aggregateTypes.parse("aggregate type", value)
}

// OutboxEventType is "<aggregate>.<verb>". It travels as the event_type
// message attribute.
type OutboxEventType string

const (
	EventOrderCreated        OutboxEventType = "order.created"
	EventOrderConfirmed      OutboxEventType = "order.confirmed"
	EventOrderCancelled      OutboxEventType = "order.cancelled"
	EventOrderStatusChanged  OutboxEventType = "order.status_changed"
	EventDeliveryAssigned    OutboxEventType = "delivery.assigned"
	EventPayoutCreated       OutboxEventType = "payout.created"
	EventPayoutStatusChanged OutboxEventType = "payout.status_changed"
)

var eventTypes = values[OutboxEventType]{
	EventOrderCreated,
	EventOrderConfirmed,
	EventOrderCancelled,
	EventOrderStatusChanged,
	EventDeliveryAssigned,
	EventPayoutCreated,
	EventPayoutStatusChanged,
}

func (e OutboxEventType) IsValid() bool { return eventTypes.has(e) }

// Aggregate returns the aggregate prefix of the event type, valid or not.
func (e OutboxEventType) Aggregate() OutboxAggregateType {
	prefix, _, _ := strings.Cut(string(e), ".")
	return OutboxAggregateType(prefix)
}

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return eventTypes.parse("event type", value)
}
