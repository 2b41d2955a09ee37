package notifications

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/courier-backend/pkg/enums"
	"github.com/angelmondragon/courier-backend/pkg/notify"
	"github.com/angelmondragon/courier-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/courier-backend/pkg/outbox/registry"
)

// NewDecoders registers the v1 payload decoders for every event the
// notification worker reacts to. Events without a decoder are acked unread.
func NewDecoders() *registry.Decoders {
	d := registry.NewDecoders()
	d.Register(enums.EventOrderCreated, 1, registry.Typed[payloads.OrderCreatedEvent]())
	d.Register(enums.EventOrderConfirmed, 1, registry.Typed[payloads.OrderConfirmedEvent]())
	d.Register(enums.EventOrderCancelled, 1, registry.Typed[payloads.OrderCancelledEvent]())
	d.Register(enums.EventOrderStatusChanged, 1, registry.Typed[payloads.OrderStatusChangedEvent]())
	d.Register(enums.EventDeliveryAssigned, 1, registry.Typed[payloads.DeliveryAssignedEvent]())
	return d
}

// composeMessages turns a decoded payload into customer notices. A nil slice
// means there is nothing to send for this event.
func composeMessages(payload interface{}) ([]notify.Message, error) {
	switch event := payload.(type) {
	case payloads.OrderCreatedEvent:
		return customerMessage(event.CustomerPhone,
			fmt.Sprintf("We received order %s (%s). It will be confirmed as soon as the payment clears.", event.OrderNumber, formatCents(event.TotalCents))), nil
	case payloads.OrderConfirmedEvent:
		return customerMessage(event.CustomerPhone,
			fmt.Sprintf("Payment received for order %s. The store is getting it ready.", event.OrderNumber)), nil
	case payloads.OrderCancelledEvent:
		body := fmt.Sprintf("Order %s was cancelled.", event.OrderNumber)
		if reason := strings.TrimSpace(event.Reason); reason != "" {
			body = fmt.Sprintf("Order %s was cancelled: %s.", event.OrderNumber, reason)
		}
		return customerMessage(event.CustomerPhone, body), nil
	case payloads.OrderStatusChangedEvent:
		body := statusChangeBody(event)
		if body == "" {
			return nil, nil
		}
		return customerMessage(event.CustomerPhone, body), nil
	case payloads.DeliveryAssignedEvent:
		return customerMessage(event.CustomerPhone,
			fmt.Sprintf("A driver picked up the job for order %s. Estimated delivery in %d minutes.", event.OrderNumber, event.EstimatedMinutes)), nil
	default:
		return nil, fmt.Errorf("unsupported payload %T", payload)
	}
}

// Confirmation and cancellation have their own events, so their status
// changes produce no second notice.
func statusChangeBody(event payloads.OrderStatusChangedEvent) string {
	switch event.To {
	case enums.OrderStatusPreparing:
		return fmt.Sprintf("The store started preparing order %s.", event.OrderNumber)
	case enums.OrderStatusReady:
		return fmt.Sprintf("Order %s is ready and waiting for a driver.", event.OrderNumber)
	case enums.OrderStatusOutForDelivery:
		return fmt.Sprintf("Order %s is on its way.", event.OrderNumber)
	case enums.OrderStatusDelivered:
		return fmt.Sprintf("Order %s was delivered. Enjoy!", event.OrderNumber)
	default:
		return ""
	}
}

func customerMessage(phone, body string) []notify.Message {
	return []notify.Message{{To: strings.TrimSpace(phone), Body: body}}
}

func formatCents(cents int) string {
	return "$" + decimal.New(int64(cents), -2).StringFixed(2)
}
