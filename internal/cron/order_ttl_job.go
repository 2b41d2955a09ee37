package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/courier-backend/internal/orders"
	"github.com/angelmondragon/courier-backend/pkg/db/models"
	"github.com/angelmondragon/courier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
	"github.com/angelmondragon/courier-backend/pkg/logger"
)

const (
	defaultPendingTTL = 30 * time.Minute
	expiryBatchSize   = 200

	ExpiryReason = "payment window expired"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// OrderTTLJobParams configure the pending order expiry job.
type OrderTTLJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Orders     orders.Repository
	Lifecycle  orders.Transitioner
	PendingTTL time.Duration
}

// NewOrderTTLJob builds the job that cancels PENDING orders whose payment
// window has lapsed and returns their stock.
func NewOrderTTLJob(params OrderTTLJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Lifecycle == nil {
		return nil, fmt.Errorf("order lifecycle required")
	}
	ttl := params.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	return &orderTTLJob{
		logg:      params.Logger,
		db:        params.DB,
		orders:    params.Orders,
		lifecycle: params.Lifecycle,
		ttl:       ttl,
		now:       time.Now,
	}, nil
}

type orderTTLJob struct {
	logg      *logger.Logger
	db        txRunner
	orders    orders.Repository
	lifecycle orders.Transitioner
	ttl       time.Duration
	now       func() time.Time
}

func (j *orderTTLJob) Name() string { return "order-ttl" }

func (j *orderTTLJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	stale, err := j.orders.FindPendingBefore(ctx, cutoff, expiryBatchSize)
	if err != nil {
		return fmt.Errorf("query pending orders: %w", err)
	}

	var (
		errs    error
		expired int
		skipped int
	)
	for _, order := range stale {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, context.Cause(ctx))
			break
		}
		ok, err := j.expire(ctx, order)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", order.ID, err))
			continue
		}
		if ok {
			expired++
		} else {
			skipped++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"found":   len(stale),
		"expired": expired,
		"skipped": skipped,
	})
	j.logg.Info(logCtx, "pending order expiry complete")
	return errs
}

// expire reports false when the order left PENDING between the scan and the lock,
// for example because a payment webhook confirmed it.
func (j *orderTTLJob) expire(ctx context.Context, order models.Order) (bool, error) {
	applied := false
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := j.orders.WithTx(tx).FindByIDForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		if current.Status != enums.OrderStatusPending || current.PaymentStatus != enums.PaymentStatusPending {
			return nil
		}
		err = j.lifecycle.Apply(ctx, tx, current, orders.Change{
			Actor:         orders.SystemActor(),
			Target:        enums.OrderStatusCancelled,
			PaymentStatus: enums.PaymentStatusFailed,
			ExpectPayment: enums.PaymentStatusPending,
			ClearCheckout: true,
			Reason:        ExpiryReason,
		})
		if pkgerrors.Is(err, pkgerrors.CodeStateConflict) {
			return nil
		}
		if err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}
