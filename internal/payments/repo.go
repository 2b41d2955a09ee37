package payments

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/courier-backend/pkg/db/models"
	"github.com/angelmondragon/courier-backend/pkg/enums"
)

// EventRepository persists the payment_events audit trail.
type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) WithTx(tx *gorm.DB) *EventRepository {
	if tx == nil {
		return r
	}
	return &EventRepository{db: tx}
}

// FindByWebhookID returns nil, nil when the delivery was never recorded.
func (r *EventRepository) FindByWebhookID(ctx context.Context, webhookID string) (*models.PaymentEvent, error) {
	var event models.PaymentEvent
	err := r.db.WithContext(ctx).Where("webhook_id = ?", webhookID).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// Record upserts on webhook_id. Only an unmatched row is overwritten, so a
// settled outcome survives a concurrent redelivery of the same webhook.
func (r *EventRepository) Record(ctx context.Context, event *models.PaymentEvent) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "webhook_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"outcome", "order_id", "checkout_id"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Eq{Column: clause.Column{Table: "payment_events", Name: "outcome"}, Value: enums.PaymentEventUnmatched},
			}},
		}).
		Create(event).Error
}
