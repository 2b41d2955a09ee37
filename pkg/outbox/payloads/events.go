package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/courier-backend/pkg/enums"
)

// OrderCreatedEvent is emitted once per store order when a cart is split.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	CustomerID    uuid.UUID `json:"customer_id"`
	StoreID       uuid.UUID `json:"store_id"`
	CustomerPhone string    `json:"customer_phone"`
	TotalCents    int       `json:"total_cents"`
	ItemCount     int       `json:"item_count"`
}

// OrderConfirmedEvent is emitted when the payment processor reports success.
type OrderConfirmedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	CustomerID    uuid.UUID `json:"customer_id"`
	StoreID       uuid.UUID `json:"store_id"`
	CustomerPhone string    `json:"customer_phone"`
	TotalCents    int       `json:"total_cents"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}

// OrderCancelledEvent covers payment failure, pending expiry and admin cancellation.
type OrderCancelledEvent struct {
	OrderID        uuid.UUID         `json:"order_id"`
	OrderNumber    string            `json:"order_number"`
	CustomerID     uuid.UUID         `json:"customer_id"`
	StoreID        uuid.UUID         `json:"store_id"`
	CustomerPhone  string            `json:"customer_phone"`
	PreviousStatus enums.OrderStatus `json:"previous_status"`
	Reason         string            `json:"reason,omitempty"`
	CancelledAt    time.Time         `json:"cancelled_at"`
}

// OrderStatusChangedEvent is emitted for every applied lifecycle transition.
type OrderStatusChangedEvent struct {
	OrderID       uuid.UUID         `json:"order_id"`
	OrderNumber   string            `json:"order_number"`
	CustomerID    uuid.UUID         `json:"customer_id"`
	StoreID       uuid.UUID         `json:"store_id"`
	DriverID      *uuid.UUID        `json:"driver_id,omitempty"`
	CustomerPhone string            `json:"customer_phone"`
	From          enums.OrderStatus `json:"from"`
	To            enums.OrderStatus `json:"to"`
	ChangedBy     enums.Role        `json:"changed_by"`
}

// DeliveryAssignedEvent is emitted when a driver claims a READY order.
type DeliveryAssignedEvent struct {
	OrderID          uuid.UUID `json:"order_id"`
	OrderNumber      string    `json:"order_number"`
	CustomerID       uuid.UUID `json:"customer_id"`
	StoreID          uuid.UUID `json:"store_id"`
	DriverID         uuid.UUID `json:"driver_id"`
	CustomerPhone    string    `json:"customer_phone"`
	EstimatedMinutes int       `json:"estimated_minutes"`
}

// PayoutCreatedEvent summarises a generated vendor payout.
type PayoutCreatedEvent struct {
	PayoutID         uuid.UUID `json:"payout_id"`
	VendorID         uuid.UUID `json:"vendor_id"`
	PeriodStart      time.Time `json:"period_start"`
	PeriodEnd        time.Time `json:"period_end"`
	TotalSalesCents  int64     `json:"total_sales_cents"`
	PlatformFeeCents int64     `json:"platform_fee_cents"`
	NetAmountCents   int64     `json:"net_amount_cents"`
	OrderCount       int       `json:"order_count"`
}

// PayoutStatusChangedEvent is emitted when an admin advances a payout.
type PayoutStatusChangedEvent struct {
	PayoutID         uuid.UUID          `json:"payout_id"`
	VendorID         uuid.UUID          `json:"vendor_id"`
	From             enums.PayoutStatus `json:"from"`
	To               enums.PayoutStatus `json:"to"`
	PaymentReference *string            `json:"payment_reference,omitempty"`
	PaidAt           *time.Time         `json:"paid_at,omitempty"`
}
