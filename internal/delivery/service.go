// Package delivery lets drivers claim READY orders, pick them up and hand them
// over with a proof of delivery.
package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/courier-backend/internal/orders"
	"github.com/angelmondragon/courier-backend/pkg/db"
	"github.com/angelmondragon/courier-backend/pkg/db/models"
	"github.com/angelmondragon/courier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
	"github.com/angelmondragon/courier-backend/pkg/outbox"
	"github.com/angelmondragon/courier-backend/pkg/outbox/payloads"
)

// DefaultEstimatedMinutes is stored on accept until the first location update.
const DefaultEstimatedMinutes = 45

const availableLimit = 100

// One proof per order, enforced by idx_delivery_proofs_order_id.
const (
	proofOrderIndex  = "idx_delivery_proofs_order_id"
	proofOrderColumn = "delivery_proofs.order_id"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// CompleteInput is the driver's proof of delivery.
type CompleteInput struct {
	OrderID  uuid.UUID `json:"orderId" validate:"required"`
	PhotoURL string    `json:"photoUrl" validate:"required,url"`
	Notes    *string   `json:"notes,omitempty" validate:"omitempty,max=500"`
}

type Service interface {
	ListAvailable(ctx context.Context) ([]orders.OrderDTO, error)
	ListAssigned(ctx context.Context, driverID uuid.UUID) ([]orders.OrderDTO, error)
	Accept(ctx context.Context, driverID, orderID uuid.UUID) (*orders.OrderDTO, error)
	PickUp(ctx context.Context, driverID, orderID uuid.UUID) (*orders.OrderDTO, error)
	Complete(ctx context.Context, driverID uuid.UUID, input CompleteInput) (*orders.OrderDTO, error)
}

type service struct {
	db        *gorm.DB
	orders    orders.Repository
	tx        txRunner
	lifecycle orders.Transitioner
	outbox    outboxPublisher
}

func NewService(db *gorm.DB, repo orders.Repository, tx txRunner, lifecycle orders.Transitioner, publisher outboxPublisher) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("database required")
	}
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if lifecycle == nil {
		return nil, fmt.Errorf("order lifecycle required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{db: db, orders: repo, tx: tx, lifecycle: lifecycle, outbox: publisher}, nil
}

// ListAvailable returns paid READY orders nobody has claimed, oldest first.
func (s *service) ListAvailable(ctx context.Context) ([]orders.OrderDTO, error) {
	var rows []models.Order
	err := s.db.WithContext(ctx).
		Preload("Items").
		Where("status = ? AND driver_id IS NULL AND payment_status = ?", enums.OrderStatusReady, enums.PaymentStatusPaid).
		Order("created_at ASC").
		Limit(availableLimit).
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list available orders")
	}
	return toDTOs(rows), nil
}

func (s *service) ListAssigned(ctx context.Context, driverID uuid.UUID) ([]orders.OrderDTO, error) {
	var rows []models.Order
	err := s.db.WithContext(ctx).
		Preload("Items").
		Where("driver_id = ? AND status IN ?", driverID, []enums.OrderStatus{enums.OrderStatusReady, enums.OrderStatusOutForDelivery}).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list assigned orders")
	}
	return toDTOs(rows), nil
}

// Accept claims the order with one conditional update so exactly one of any
// number of concurrent drivers wins.
func (s *service) Accept(ctx context.Context, driverID, orderID uuid.UUID) (*orders.OrderDTO, error) {
	if driverID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "orderId required")
	}

	var claimed *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		res := tx.WithContext(ctx).
			Model(&models.Order{}).
			Where("id = ? AND status = ? AND driver_id IS NULL AND payment_status = ?", orderID, enums.OrderStatusReady, enums.PaymentStatusPaid).
			Updates(map[string]any{
				"driver_id":         driverID,
				"estimated_minutes": DefaultEstimatedMinutes,
				"updated_at":        time.Now().UTC(),
			})
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "claim order")
		}

		order, err := s.orders.WithTx(tx).FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "order is not available for assignment").
				WithDetails(map[string]any{"status": order.Status, "assigned": order.DriverID != nil})
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDeliveryAssigned,
			AggregateType: enums.AggregateDelivery,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: driverID, Role: enums.RoleDriver},
			Data: payloads.DeliveryAssignedEvent{
				OrderID:          order.ID,
				OrderNumber:      order.OrderNumber,
				CustomerID:       order.CustomerID,
				StoreID:          order.StoreID,
				DriverID:         driverID,
				CustomerPhone:    order.CustomerPhone,
				EstimatedMinutes: DefaultEstimatedMinutes,
			},
		}); err != nil {
			return err
		}
		claimed = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	dto := orders.FromModel(*claimed)
	return &dto, nil
}

func (s *service) PickUp(ctx context.Context, driverID, orderID uuid.UUID) (*orders.OrderDTO, error) {
	return s.transition(ctx, driverID, orderID, enums.OrderStatusOutForDelivery, nil)
}

// Complete stores the proof and moves the order to DELIVERED in one transaction.
func (s *service) Complete(ctx context.Context, driverID uuid.UUID, input CompleteInput) (*orders.OrderDTO, error) {
	photo := strings.TrimSpace(input.PhotoURL)
	if photo == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "photoUrl required")
	}
	proof := &models.DeliveryProof{
		OrderID:  input.OrderID,
		DriverID: driverID,
		PhotoURL: photo,
		Notes:    input.Notes,
	}
	return s.transition(ctx, driverID, input.OrderID, enums.OrderStatusDelivered, proof)
}

func (s *service) transition(ctx context.Context, driverID, orderID uuid.UUID, target enums.OrderStatus, proof *models.DeliveryProof) (*orders.OrderDTO, error) {
	if driverID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "orderId required")
	}

	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.orders.WithTx(tx).FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		actor := orders.Actor{ID: driverID, Role: enums.RoleDriver}
		var machine orders.Machine
		if err := machine.Check(actor, order, target, proof != nil); err != nil {
			return err
		}
		if proof != nil {
			if err := tx.WithContext(ctx).Create(proof).Error; err != nil {
				if db.IsUniqueViolation(err, proofOrderIndex, proofOrderColumn) {
					return pkgerrors.New(pkgerrors.CodeConflict, "proof of delivery already recorded")
				}
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store proof of delivery")
			}
		}
		if err := s.lifecycle.Apply(ctx, tx, order, orders.Change{Actor: actor, Target: target, HasProof: proof != nil}); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	dto := orders.FromModel(*updated)
	return &dto, nil
}

func toDTOs(rows []models.Order) []orders.OrderDTO {
	out := make([]orders.OrderDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, orders.FromModel(row))
	}
	return out
}
