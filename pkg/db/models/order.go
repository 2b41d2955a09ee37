package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/courier-backend/pkg/enums"
)

// Order is the per-store order produced when a cart is split.
type Order struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber      string              `gorm:"column:order_number;not null;uniqueIndex"`
	CustomerID       uuid.UUID           `gorm:"column:customer_id;type:uuid;not null;index"`
	StoreID          uuid.UUID           `gorm:"column:store_id;type:uuid;not null;index"`
	Status           enums.OrderStatus   `gorm:"column:status;type:text;not null;default:'pending'"`
	PaymentStatus    enums.PaymentStatus `gorm:"column:payment_status;type:text;not null;default:'pending'"`
	SubtotalCents    int                 `gorm:"column:subtotal_cents;not null"`
	ShippingFeeCents int                 `gorm:"column:shipping_fee_cents;not null"`
	TotalCents       int                 `gorm:"column:total_cents;not null"`
	Province         enums.Province      `gorm:"column:province;type:text;not null"`
	DeliveryAddress  string              `gorm:"column:delivery_address;not null"`
	CustomerPhone    string              `gorm:"column:customer_phone;not null"`
	DeliveryLat      *float64            `gorm:"column:delivery_lat"`
	DeliveryLng      *float64            `gorm:"column:delivery_lng"`
	DriverID         *uuid.UUID          `gorm:"column:driver_id;type:uuid;index"`
	DriverLat        *float64            `gorm:"column:driver_lat"`
	DriverLng        *float64            `gorm:"column:driver_lng"`
	DriverLocationAt *time.Time          `gorm:"column:driver_location_at"`
	EstimatedMinutes *int                `gorm:"column:estimated_minutes"`
	CheckoutID       *string             `gorm:"column:checkout_id;uniqueIndex"`
	PayoutID         *uuid.UUID          `gorm:"column:payout_id;type:uuid;index"`
	ConfirmedAt      *time.Time          `gorm:"column:confirmed_at"`
	CompletedAt      *time.Time          `gorm:"column:completed_at"`
	CancelledAt      *time.Time          `gorm:"column:cancelled_at"`
	Items            []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	return nil
}

// HasDestination reports whether fixed delivery coordinates were captured.
func (o *Order) HasDestination() bool {
	return o.DeliveryLat != nil && o.DeliveryLng != nil
}

// IsAssignedTo reports whether driverID currently holds the order.
func (o *Order) IsAssignedTo(driverID uuid.UUID) bool {
	return o.DriverID != nil && *o.DriverID == driverID
}
