package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/courier-backend/internal/stock"
	"github.com/angelmondragon/courier-backend/pkg/db/models"
	"github.com/angelmondragon/courier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// StockReserver is the slice of the stock ledger order placement needs.
type StockReserver interface {
	ReserveAll(ctx context.Context, tx *gorm.DB, lines []stock.Line) error
}

// Transitioner applies validated status changes inside a transaction.
type Transitioner interface {
	Apply(ctx context.Context, tx *gorm.DB, order *models.Order, change Change) error
}

// Service defines customer, vendor and admin order operations.
type Service interface {
	PlaceOrder(ctx context.Context, customerID uuid.UUID, input PlaceOrderInput) (*PlaceOrderResult, error)
	UpdateVendorStatus(ctx context.Context, vendorID, orderID uuid.UUID, target enums.OrderStatus) (*OrderDTO, error)
	AdminOverride(ctx context.Context, adminID, orderID uuid.UUID, input AdminOverrideInput) (*OrderDTO, error)
	Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*OrderDTO, error)
	ListForCustomer(ctx context.Context, customerID uuid.UUID, params ListParams) ([]OrderDTO, error)
	ListForVendor(ctx context.Context, vendorID uuid.UUID, params ListParams) ([]OrderDTO, error)
}

type service struct {
	repo      Repository
	tx        txRunner
	stock     StockReserver
	lifecycle Transitioner
	outbox    outboxPublisher
	now       func() time.Time
}

// NewService builds the order service with the required dependencies.
func NewService(repo Repository, tx txRunner, stock StockReserver, lifecycle Transitioner, publisher outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock reserver required")
	}
	if lifecycle == nil {
		return nil, fmt.Errorf("order lifecycle required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:      repo,
		tx:        tx,
		stock:     stock,
		lifecycle: lifecycle,
		outbox:    publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) UpdateVendorStatus(ctx context.Context, vendorID, orderID uuid.UUID, target enums.OrderStatus) (*OrderDTO, error) {
	if vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		storeIDs, err := repo.StoreIDsByOwner(ctx, vendorID)
		if err != nil {
			return err
		}
		order, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		actor := Actor{ID: vendorID, Role: enums.RoleVendor, StoreIDs: storeIDs}
		if err := s.lifecycle.Apply(ctx, tx, order, Change{Actor: actor, Target: target}); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	dto := FromModel(*updated)
	return &dto, nil
}

// AdminOverride forces a status and/or payment status. Status changes still go
// through the machine so terminal orders stay closed and DELIVERED stays
// driver-only.
func (s *service) AdminOverride(ctx context.Context, adminID, orderID uuid.UUID, input AdminOverrideInput) (*OrderDTO, error) {
	if adminID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.Status == nil && input.PaymentStatus == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "status or paymentStatus required")
	}
	if input.PaymentStatus != nil && !input.PaymentStatus.IsValid() {
		return nil, fieldError("paymentStatus", "is invalid")
	}

	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		actor := Actor{ID: adminID, Role: enums.RoleAdmin}
		if input.Status != nil {
			// A cancelled order stops matching its checkout; late captures are
			// resolved through metadata.orderId instead.
			change := Change{
				Actor:         actor,
				Target:        *input.Status,
				Reason:        input.Reason,
				ClearCheckout: *input.Status == enums.OrderStatusCancelled,
			}
			if input.PaymentStatus != nil {
				change.PaymentStatus = *input.PaymentStatus
			}
			if err := s.lifecycle.Apply(ctx, tx, order, change); err != nil {
				return err
			}
			updated = order
			return nil
		}

		target := *input.PaymentStatus
		if order.PaymentStatus == target {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order already has this payment status")
		}
		ok, err := repo.UpdatePaymentStatus(ctx, order.ID, order.PaymentStatus, target)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order was modified concurrently")
		}
		order.PaymentStatus = target
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	dto := FromModel(*updated)
	return &dto, nil
}

// Get returns the order to its customer, the owning vendor, the assigned
// driver or an admin.
func (s *service) Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*OrderDTO, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	allowed := false
	switch actor.Role {
	case enums.RoleAdmin:
		allowed = true
	case enums.RoleCustomer:
		allowed = order.CustomerID == actor.ID
	case enums.RoleDriver:
		allowed = order.IsAssignedTo(actor.ID)
	case enums.RoleVendor:
		store, err := s.repo.FindStore(ctx, order.StoreID)
		if err != nil {
			return nil, err
		}
		allowed = store.OwnerID == actor.ID
	}
	if !allowed {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another account")
	}
	dto := FromModel(*order)
	return &dto, nil
}

func (s *service) ListForCustomer(ctx context.Context, customerID uuid.UUID, params ListParams) ([]OrderDTO, error) {
	orders, err := s.repo.ListByCustomer(ctx, customerID, params)
	if err != nil {
		return nil, err
	}
	return fromModels(orders), nil
}

func (s *service) ListForVendor(ctx context.Context, vendorID uuid.UUID, params ListParams) ([]OrderDTO, error) {
	storeIDs, err := s.repo.StoreIDsByOwner(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	orders, err := s.repo.ListByStores(ctx, storeIDs, params)
	if err != nil {
		return nil, err
	}
	return fromModels(orders), nil
}
