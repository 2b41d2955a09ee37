package orders

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/courier-backend/pkg/db/models"
	"github.com/angelmondragon/courier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
	"github.com/angelmondragon/courier-backend/pkg/outbox"
	"github.com/angelmondragon/courier-backend/pkg/outbox/payloads"
)

type stockRestorer interface {
	RestoreItems(ctx context.Context, tx *gorm.DB, items []models.OrderItem) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Change describes one status transition.
type Change struct {
	Actor    Actor
	Target   enums.OrderStatus
	HasProof bool
	// PaymentStatus, when set, is written together with the status.
	PaymentStatus enums.PaymentStatus
	// ExpectPayment adds payment_status to the conditional update.
	ExpectPayment enums.PaymentStatus
	ClearCheckout bool
	Reason        string
}

// Lifecycle applies validated transitions. Every writer of orders.status goes
// through Apply so stamps, stock restoration and events stay consistent.
type Lifecycle struct {
	machine Machine
	stock   stockRestorer
	outbox  outboxPublisher
	now     func() time.Time
}

func NewLifecycle(stock stockRestorer, publisher outboxPublisher) (*Lifecycle, error) {
	if stock == nil {
		return nil, fmt.Errorf("stock restorer required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &Lifecycle{
		stock:  stock,
		outbox: publisher,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Apply checks the transition, persists it with a conditional update on the
// prior status and updates order in place. tx must be the caller's transaction.
func (l *Lifecycle) Apply(ctx context.Context, tx *gorm.DB, order *models.Order, change Change) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	if err := l.machine.Check(change.Actor, order, change.Target, change.HasProof); err != nil {
		return err
	}

	now := l.now()
	from := order.Status
	updates := map[string]any{
		"status":     change.Target,
		"updated_at": now,
	}
	switch change.Target {
	case enums.OrderStatusConfirmed:
		updates["confirmed_at"] = now
	case enums.OrderStatusDelivered:
		updates["completed_at"] = now
	case enums.OrderStatusCancelled:
		updates["cancelled_at"] = now
	}
	if change.PaymentStatus != "" {
		updates["payment_status"] = change.PaymentStatus
	}
	if change.ClearCheckout {
		updates["checkout_id"] = nil
	}

	query := tx.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", order.ID, from)
	if change.ExpectPayment != "" {
		query = query.Where("payment_status = ?", change.ExpectPayment)
	}
	res := query.Updates(updates)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "update order status")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order was modified concurrently").
			WithDetails(map[string]any{"from": from, "to": change.Target})
	}

	if change.Target == enums.OrderStatusCancelled {
		if order.Items == nil {
			if err := tx.WithContext(ctx).Where("order_id = ?", order.ID).Find(&order.Items).Error; err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order items")
			}
		}
		if err := l.stock.RestoreItems(ctx, tx, order.Items); err != nil {
			return err
		}
	}

	order.Status = change.Target
	order.UpdatedAt = now
	if change.PaymentStatus != "" {
		order.PaymentStatus = change.PaymentStatus
	}
	if change.ClearCheckout {
		order.CheckoutID = nil
	}
	switch change.Target {
	case enums.OrderStatusConfirmed:
		order.ConfirmedAt = &now
	case enums.OrderStatusDelivered:
		order.CompletedAt = &now
	case enums.OrderStatusCancelled:
		order.CancelledAt = &now
	}

	return l.emit(ctx, tx, order, from, change, now)
}

func (l *Lifecycle) emit(ctx context.Context, tx *gorm.DB, order *models.Order, from enums.OrderStatus, change Change, now time.Time) error {
	actor := actorRef(change.Actor)
	events := []outbox.DomainEvent{{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		OccurredAt:    now,
		Data: payloads.OrderStatusChangedEvent{
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			CustomerID:    order.CustomerID,
			StoreID:       order.StoreID,
			DriverID:      order.DriverID,
			CustomerPhone: order.CustomerPhone,
			From:          from,
			To:            change.Target,
			ChangedBy:     change.Actor.Role,
		},
	}}

	switch change.Target {
	case enums.OrderStatusConfirmed:
		events = append(events, outbox.DomainEvent{
			EventType:     enums.EventOrderConfirmed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actor,
			OccurredAt:    now,
			Data: payloads.OrderConfirmedEvent{
				OrderID:       order.ID,
				OrderNumber:   order.OrderNumber,
				CustomerID:    order.CustomerID,
				StoreID:       order.StoreID,
				CustomerPhone: order.CustomerPhone,
				TotalCents:    order.TotalCents,
				ConfirmedAt:   now,
			},
		})
	case enums.OrderStatusCancelled:
		events = append(events, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actor,
			OccurredAt:    now,
			Data: payloads.OrderCancelledEvent{
				OrderID:        order.ID,
				OrderNumber:    order.OrderNumber,
				CustomerID:     order.CustomerID,
				StoreID:        order.StoreID,
				CustomerPhone:  order.CustomerPhone,
				PreviousStatus: from,
				Reason:         change.Reason,
				CancelledAt:    now,
			},
		})
	}

	for _, event := range events {
		if err := l.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}
	}
	return nil
}

func actorRef(actor Actor) *outbox.ActorRef {
	if actor.Role == enums.RoleSystem {
		return outbox.SystemActor()
	}
	return &outbox.ActorRef{UserID: actor.ID, Role: actor.Role}
}
