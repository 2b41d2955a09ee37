package payouts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/courier-backend/pkg/db/models"
	"github.com/angelmondragon/courier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
)

// settleableOrder is an order that can be claimed by a payout, with its vendor.
type settleableOrder struct {
	ID         uuid.UUID
	VendorID   uuid.UUID
	TotalCents int64
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	SettleableOrders(ctx context.Context, start, end time.Time) ([]settleableOrder, error)
	Create(ctx context.Context, payout *models.VendorPayout) error
	ClaimOrders(ctx context.Context, payoutID uuid.UUID, orderIDs []uuid.UUID) (int64, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.VendorPayout, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from enums.PayoutStatus, updates map[string]any) (bool, error)
	List(ctx context.Context, filter ListFilter) ([]models.VendorPayout, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// SettleableOrders selects DELIVERED, PAID orders completed inside [start, end]
// that no payout has claimed yet.
func (r *repository) SettleableOrders(ctx context.Context, start, end time.Time) ([]settleableOrder, error) {
	var rows []settleableOrder
	err := r.db.WithContext(ctx).
		Table("orders").
		Select("orders.id AS id, stores.owner_id AS vendor_id, orders.total_cents AS total_cents").
		Joins("JOIN stores ON stores.id = orders.store_id").
		Where("orders.status = ? AND orders.payment_status = ?", enums.OrderStatusDelivered, enums.PaymentStatusPaid).
		Where("orders.completed_at >= ? AND orders.completed_at <= ?", start, end).
		Where("orders.payout_id IS NULL").
		Order("orders.completed_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "select settleable orders")
	}
	return rows, nil
}

func (r *repository) Create(ctx context.Context, payout *models.VendorPayout) error {
	if err := r.db.WithContext(ctx).Create(payout).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payout")
	}
	return nil
}

func (r *repository) ClaimOrders(ctx context.Context, payoutID uuid.UUID, orderIDs []uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id IN ? AND payout_id IS NULL", orderIDs).
		Updates(map[string]any{"payout_id": payoutID, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "claim orders for payout")
	}
	return res.RowsAffected, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.VendorPayout, error) {
	var payout models.VendorPayout
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&payout).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payout")
	}
	return &payout, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from enums.PayoutStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.VendorPayout{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "update payout status")
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]models.VendorPayout, error) {
	query := r.db.WithContext(ctx).Model(&models.VendorPayout{})
	if filter.VendorID != nil {
		query = query.Where("vendor_id = ?", *filter.VendorID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Since != nil {
		query = query.Where("period_end >= ?", filter.Since.UTC())
	}
	var rows []models.VendorPayout
	err := query.Order("period_end DESC").Order("created_at DESC").Limit(filter.limit()).Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payouts")
	}
	return rows, nil
}
