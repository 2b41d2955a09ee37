package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DriverLocation is one append-only point on a delivery route.
type DriverLocation struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID    uuid.UUID `gorm:"column:order_id;type:uuid;not null;index:idx_driver_locations_order_time,priority:1"`
	DriverID   uuid.UUID `gorm:"column:driver_id;type:uuid;not null"`
	Latitude   float64   `gorm:"column:latitude;not null"`
	Longitude  float64   `gorm:"column:longitude;not null"`
	RecordedAt time.Time `gorm:"column:recorded_at;not null;index:idx_driver_locations_order_time,priority:2"`
}

func (l *DriverLocation) BeforeCreate(*gorm.DB) error {
	assignID(&l.ID)
	return nil
}
