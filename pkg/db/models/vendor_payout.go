package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/courier-backend/pkg/enums"
)

// VendorPayout settles a vendor's delivered, paid orders for one period.
// Totals are immutable after insert; only status and payment fields change.
type VendorPayout struct {
	ID               uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	VendorID         uuid.UUID          `gorm:"column:vendor_id;type:uuid;not null;index"`
	PeriodStart      time.Time          `gorm:"column:period_start;not null"`
	PeriodEnd        time.Time          `gorm:"column:period_end;not null"`
	TotalSalesCents  int64              `gorm:"column:total_sales_cents;not null"`
	PlatformFeeCents int64              `gorm:"column:platform_fee_cents;not null"`
	NetAmountCents   int64              `gorm:"column:net_amount_cents;not null"`
	FeePercent       float64            `gorm:"column:fee_percent;not null"`
	OrderCount       int                `gorm:"column:order_count;not null"`
	Status           enums.PayoutStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	PaymentMethod    *string            `gorm:"column:payment_method"`
	PaymentReference *string            `gorm:"column:payment_reference"`
	PaidAt           *time.Time         `gorm:"column:paid_at"`
	CreatedAt        time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *VendorPayout) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}
