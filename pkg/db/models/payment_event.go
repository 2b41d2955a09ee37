package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/courier-backend/pkg/enums"
)

// PaymentEvent is the audit row written for every verified webhook delivery.
type PaymentEvent struct {
	ID         uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	WebhookID  string                    `gorm:"column:webhook_id;not null;uniqueIndex"`
	EventType  string                    `gorm:"column:event_type;not null"`
	CheckoutID *string                   `gorm:"column:checkout_id"`
	OrderID    *uuid.UUID                `gorm:"column:order_id;type:uuid"`
	Outcome    enums.PaymentEventOutcome `gorm:"column:outcome;type:text;not null"`
	ReceivedAt time.Time                 `gorm:"column:received_at;autoCreateTime"`
}

func (e *PaymentEvent) BeforeCreate(*gorm.DB) error {
	assignID(&e.ID)
	return nil
}
