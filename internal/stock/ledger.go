// Package stock owns the per-product stock counter. Every mutation is a single
// conditional statement so concurrent reservations can never oversell.
package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/courier-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
)

// ErrInsufficientStock is wrapped by Reserve when the conditional decrement matches no row.
var ErrInsufficientStock = errors.New("insufficient stock")

// Line is one product quantity to reserve or restore.
type Line struct {
	ProductID uuid.UUID
	Quantity  int
}

type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Reserve decrements stock by qty when the product is active and has enough units.
func (l *Ledger) Reserve(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	res := tx.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND is_active = ? AND stock >= ?", productID, true, qty).
		UpdateColumn("stock", gorm.Expr("stock - ?", qty))
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "reserve stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInsufficientStock, fmt.Sprintf("insufficient stock for product %s", productID)).
			WithDetails(map[string]any{"productId": productID, "requested": qty})
	}
	return nil
}

// ReserveAll reserves every line or returns the first rejection; the caller's
// transaction rollback undoes the lines already applied.
func (l *Ledger) ReserveAll(ctx context.Context, tx *gorm.DB, lines []Line) error {
	for _, line := range lines {
		if err := l.Reserve(ctx, tx, line.ProductID, line.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// Restore returns qty units to the product regardless of its active flag.
func (l *Ledger) Restore(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if qty <= 0 {
		return nil
	}
	res := tx.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", productID).
		UpdateColumn("stock", gorm.Expr("stock + ?", qty))
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "restore stock")
	}
	return nil
}

// RestoreItems puts back every line of an order being cancelled.
func (l *Ledger) RestoreItems(ctx context.Context, tx *gorm.DB, items []models.OrderItem) error {
	for _, item := range items {
		if err := l.Restore(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// Available reads the current counter.
func (l *Ledger) Available(ctx context.Context, productID uuid.UUID) (int, error) {
	var product models.Product
	err := l.db.WithContext(ctx).Select("stock").Where("id = ?", productID).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load stock")
	}
	return product.Stock, nil
}
