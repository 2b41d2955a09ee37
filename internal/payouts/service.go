// Package payouts settles vendor earnings from delivered, paid orders.
package payouts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/courier-backend/pkg/db/models"
	"github.com/angelmondragon/courier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
	"github.com/angelmondragon/courier-backend/pkg/outbox"
	"github.com/angelmondragon/courier-backend/pkg/outbox/payloads"
)

const (
	DefaultFeePercent = 10.0
	defaultListLimit  = 50
	maxListLimit      = 200
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type GenerateInput struct {
	PeriodStart        time.Time `json:"periodStart" validate:"required"`
	PeriodEnd          time.Time `json:"periodEnd" validate:"required"`
	PlatformFeePercent *float64  `json:"platformFeePercent,omitempty" validate:"omitempty,gte=0,lte=100"`
}

type GenerateResult struct {
	Payouts    []PayoutDTO `json:"payouts"`
	OrderCount int         `json:"orderCount"`
}

type UpdateStatusInput struct {
	Status           enums.PayoutStatus `json:"status" validate:"required"`
	PaymentMethod    *string            `json:"paymentMethod,omitempty" validate:"omitempty,max=64"`
	PaymentReference *string            `json:"paymentReference,omitempty" validate:"omitempty,max=128"`
}

type ListFilter struct {
	VendorID *uuid.UUID
	Status   *enums.PayoutStatus
	// Since keeps payouts whose period ended at or after this instant.
	Since *time.Time
	Limit int
}

func (f ListFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	default:
		return f.Limit
	}
}

type PayoutDTO struct {
	ID               uuid.UUID          `json:"id"`
	VendorID         uuid.UUID          `json:"vendorId"`
	PeriodStart      time.Time          `json:"periodStart"`
	PeriodEnd        time.Time          `json:"periodEnd"`
	TotalSalesCents  int64              `json:"totalSalesCents"`
	PlatformFeeCents int64              `json:"platformFeeCents"`
	NetAmountCents   int64              `json:"netAmountCents"`
	FeePercent       float64            `json:"feePercent"`
	OrderCount       int                `json:"orderCount"`
	Status           enums.PayoutStatus `json:"status"`
	PaymentMethod    *string            `json:"paymentMethod,omitempty"`
	PaymentReference *string            `json:"paymentReference,omitempty"`
	PaidAt           *time.Time         `json:"paidAt,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
}

func fromModel(p models.VendorPayout) PayoutDTO {
	return PayoutDTO{
		ID:               p.ID,
		VendorID:         p.VendorID,
		PeriodStart:      p.PeriodStart,
		PeriodEnd:        p.PeriodEnd,
		TotalSalesCents:  p.TotalSalesCents,
		PlatformFeeCents: p.PlatformFeeCents,
		NetAmountCents:   p.NetAmountCents,
		FeePercent:       p.FeePercent,
		OrderCount:       p.OrderCount,
		Status:           p.Status,
		PaymentMethod:    p.PaymentMethod,
		PaymentReference: p.PaymentReference,
		PaidAt:           p.PaidAt,
		CreatedAt:        p.CreatedAt,
	}
}

type Service interface {
	Generate(ctx context.Context, actorID uuid.UUID, input GenerateInput) (*GenerateResult, error)
	UpdateStatus(ctx context.Context, actorID, payoutID uuid.UUID, input UpdateStatusInput) (*PayoutDTO, error)
	List(ctx context.Context, filter ListFilter) ([]PayoutDTO, error)
	ListForVendor(ctx context.Context, vendorID uuid.UUID) ([]PayoutDTO, error)
}

type service struct {
	repo       Repository
	tx         txRunner
	outbox     outboxPublisher
	defaultFee float64
	now        func() time.Time
}

// NewService wires the payout aggregator. A non-positive defaultFee falls back
// to DefaultFeePercent.
func NewService(repo Repository, tx txRunner, publisher outboxPublisher, defaultFee float64) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payout repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if defaultFee <= 0 || defaultFee > 100 {
		defaultFee = DefaultFeePercent
	}
	return &service{
		repo:       repo,
		tx:         tx,
		outbox:     publisher,
		defaultFee: defaultFee,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// PlatformFee returns total × percent / 100 rounded half-up to the cent.
func PlatformFee(totalCents int64, percent float64) int64 {
	return decimal.NewFromInt(totalCents).
		Mul(decimal.NewFromFloat(percent)).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}

type vendorBatch struct {
	vendorID uuid.UUID
	orderIDs []uuid.UUID
	total    int64
}

func (s *service) Generate(ctx context.Context, actorID uuid.UUID, input GenerateInput) (*GenerateResult, error) {
	if input.PeriodStart.IsZero() || input.PeriodEnd.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "periodStart and periodEnd required")
	}
	if !input.PeriodEnd.After(input.PeriodStart) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "periodEnd must be after periodStart")
	}
	fee := s.defaultFee
	if input.PlatformFeePercent != nil {
		fee = *input.PlatformFeePercent
	}
	if fee < 0 || fee > 100 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "platformFeePercent must be between 0 and 100").
			WithDetails(map[string]any{"platformFeePercent": fee})
	}
	start := input.PeriodStart.UTC()
	end := input.PeriodEnd.UTC()
	actor := outbox.SystemActor()
	if actorID != uuid.Nil {
		actor = &outbox.ActorRef{UserID: actorID, Role: enums.RoleAdmin}
	}

	result := &GenerateResult{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		*result = GenerateResult{Payouts: []PayoutDTO{}}
		repo := s.repo.WithTx(tx)
		rows, err := repo.SettleableOrders(ctx, start, end)
		if err != nil {
			return err
		}

		for _, batch := range groupByVendor(rows) {
			platformFee := PlatformFee(batch.total, fee)
			payout := &models.VendorPayout{
				VendorID:         batch.vendorID,
				PeriodStart:      start,
				PeriodEnd:        end,
				TotalSalesCents:  batch.total,
				PlatformFeeCents: platformFee,
				NetAmountCents:   batch.total - platformFee,
				FeePercent:       fee,
				OrderCount:       len(batch.orderIDs),
				Status:           enums.PayoutStatusPending,
			}
			if err := repo.Create(ctx, payout); err != nil {
				return err
			}
			claimed, err := repo.ClaimOrders(ctx, payout.ID, batch.orderIDs)
			if err != nil {
				return err
			}
			if claimed != int64(len(batch.orderIDs)) {
				return pkgerrors.New(pkgerrors.CodeConflict, "orders were claimed by a concurrent payout run").
					WithDetails(map[string]any{"vendorId": batch.vendorID, "expected": len(batch.orderIDs), "claimed": claimed})
			}

			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPayoutCreated,
				AggregateType: enums.AggregatePayout,
				AggregateID:   payout.ID,
				Actor:         actor,
				Data: payloads.PayoutCreatedEvent{
					PayoutID:         payout.ID,
					VendorID:         payout.VendorID,
					PeriodStart:      start,
					PeriodEnd:        end,
					TotalSalesCents:  payout.TotalSalesCents,
					PlatformFeeCents: payout.PlatformFeeCents,
					NetAmountCents:   payout.NetAmountCents,
					OrderCount:       payout.OrderCount,
				},
			}); err != nil {
				return err
			}

			result.Payouts = append(result.Payouts, fromModel(*payout))
			result.OrderCount += payout.OrderCount
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func groupByVendor(rows []settleableOrder) []*vendorBatch {
	byVendor := map[uuid.UUID]*vendorBatch{}
	for _, row := range rows {
		batch, ok := byVendor[row.VendorID]
		if !ok {
			batch = &vendorBatch{vendorID: row.VendorID}
			byVendor[row.VendorID] = batch
		}
		batch.orderIDs = append(batch.orderIDs, row.ID)
		batch.total += row.TotalCents
	}
	batches := make([]*vendorBatch, 0, len(byVendor))
	for _, batch := range byVendor {
		batches = append(batches, batch)
	}
	sort.Slice(batches, func(i, j int) bool {
		return batches[i].vendorID.String() < batches[j].vendorID.String()
	})
	return batches
}

func (s *service) UpdateStatus(ctx context.Context, actorID, payoutID uuid.UUID, input UpdateStatusInput) (*PayoutDTO, error) {
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payout status").
			WithDetails(map[string]any{"status": input.Status})
	}
	method := trimmed(input.PaymentMethod)
	reference := trimmed(input.PaymentReference)
	if input.Status == enums.PayoutStatusPaid && (method == nil || reference == nil) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paymentMethod and paymentReference required to mark a payout paid")
	}

	var updated *models.VendorPayout
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payout, err := repo.FindByIDForUpdate(ctx, payoutID)
		if err != nil {
			return err
		}
		from := payout.Status
		if !from.CanTransitionTo(input.Status) {
			return pkgerrors.New(pkgerrors.CodeConflict, "illegal payout transition").
				WithDetails(map[string]any{"from": from, "to": input.Status})
		}

		now := s.now()
		updates := map[string]any{"status": input.Status, "updated_at": now}
		if method != nil {
			updates["payment_method"] = *method
			payout.PaymentMethod = method
		}
		if reference != nil {
			updates["payment_reference"] = *reference
			payout.PaymentReference = reference
		}
		if input.Status == enums.PayoutStatusPaid {
			updates["paid_at"] = now
			payout.PaidAt = &now
		}
		ok, err := repo.UpdateStatus(ctx, payout.ID, from, updates)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "payout was modified concurrently")
		}
		payout.Status = input.Status

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutStatusChanged,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payout.ID,
			Actor:         &outbox.ActorRef{UserID: actorID, Role: enums.RoleAdmin},
			Data: payloads.PayoutStatusChangedEvent{
				PayoutID:         payout.ID,
				VendorID:         payout.VendorID,
				From:             from,
				To:               input.Status,
				PaymentReference: payout.PaymentReference,
				PaidAt:           payout.PaidAt,
			},
		}); err != nil {
			return err
		}
		updated = payout
		return nil
	})
	if err != nil {
		return nil, err
	}
	dto := fromModel(*updated)
	return &dto, nil
}

func (s *service) List(ctx context.Context, filter ListFilter) ([]PayoutDTO, error) {
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payout status filter")
	}
	rows, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return fromModels(rows), nil
}

func (s *service) ListForVendor(ctx context.Context, vendorID uuid.UUID) ([]PayoutDTO, error) {
	if vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	rows, err := s.repo.List(ctx, ListFilter{VendorID: &vendorID})
	if err != nil {
		return nil, err
	}
	return fromModels(rows), nil
}

func fromModels(rows []models.VendorPayout) []PayoutDTO {
	out := make([]PayoutDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromModel(row))
	}
	return out
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}
