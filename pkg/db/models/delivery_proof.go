package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeliveryProof is captured by the driver when handing the order over.
type DeliveryProof struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	DriverID  uuid.UUID `gorm:"column:driver_id;type:uuid;not null"`
	PhotoURL  string    `gorm:"column:photo_url;not null"`
	Notes     *string   `gorm:"column:notes"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (p *DeliveryProof) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}
