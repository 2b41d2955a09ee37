package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/courier-backend/internal/orders"
	"github.com/angelmondragon/courier-backend/pkg/config"
	"github.com/angelmondragon/courier-backend/pkg/db/models"
	"github.com/angelmondragon/courier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
	"github.com/angelmondragon/courier-backend/pkg/logger"
	"github.com/angelmondragon/courier-backend/pkg/paygate"
)

const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
)

// WebhookEvent is the processor's payment outcome body.
type WebhookEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload *WebhookPayload `json:"payload"`
}

type WebhookPayload struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Amount   int             `json:"amount"`
	Currency string          `json:"currency"`
	Metadata WebhookMetadata `json:"metadata"`
}

type WebhookMetadata struct {
	CheckoutID string `json:"checkoutId"`
	OrderID    string `json:"orderId,omitempty"`
}

// CheckoutInput is the customer's request to pay for one order.
type CheckoutInput struct {
	OrderID uuid.UUID `json:"orderId" validate:"required"`
	Amount  int       `json:"amount" validate:"required,min=1"`
}

type CheckoutResult struct {
	CheckoutID  string `json:"checkoutId"`
	RedirectURL string `json:"redirectUrl"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type checkoutGateway interface {
	CreateCheckout(ctx context.Context, req paygate.CheckoutRequest) (*paygate.Checkout, error)
}

// Service defines the payment gateway bridge.
type Service interface {
	HandleWebhook(ctx context.Context, webhookID string, body []byte) (enums.PaymentEventOutcome, error)
	WebhookSettled(ctx context.Context, webhookID string) (bool, error)
	InitiateCheckout(ctx context.Context, customerID uuid.UUID, input CheckoutInput) (*CheckoutResult, error)
}

type ServiceParams struct {
	Orders    orders.Repository
	Events    *EventRepository
	Lifecycle orders.Transitioner
	Gateway   checkoutGateway
	Tx        txRunner
	Config    config.PaymentsConfig
	Logger    *logger.Logger
}

type service struct {
	orders    orders.Repository
	events    *EventRepository
	lifecycle orders.Transitioner
	gateway   checkoutGateway
	tx        txRunner
	cfg       config.PaymentsConfig
	logg      *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("payment event repository required")
	}
	if params.Lifecycle == nil {
		return nil, fmt.Errorf("order lifecycle required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("checkout gateway required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{
		orders:    params.Orders,
		events:    params.Events,
		lifecycle: params.Lifecycle,
		gateway:   params.Gateway,
		tx:        params.Tx,
		cfg:       params.Config,
		logg:      params.Logger,
	}, nil
}

var errUnmatched = errors.New("no order for checkout")

// ErrRefundRequired is logged when a capture arrives for a cancelled order.
var ErrRefundRequired = errors.New("captured payment needs a refund")

// HandleWebhook applies a verified delivery. Unknown event types are
// acknowledged and recorded as ignored.
func (s *service) HandleWebhook(ctx context.Context, webhookID string, body []byte) (enums.PaymentEventOutcome, error) {
	if strings.TrimSpace(webhookID) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "webhook id required")
	}
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook body")
	}
	if event.Type == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "webhook type required")
	}
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{"webhook_id": webhookID, "webhook_type": event.Type})
	}

	if event.Type != EventPaymentSucceeded && event.Type != EventPaymentFailed {
		if s.logg != nil {
			s.logg.Warn(ctx, "ignoring unsupported payment webhook type")
		}
		if err := s.record(ctx, s.events, webhookID, event, nil, enums.PaymentEventIgnored); err != nil {
			return "", err
		}
		return enums.PaymentEventIgnored, nil
	}
	if event.Payload == nil || strings.TrimSpace(event.Payload.Metadata.CheckoutID) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "payload.metadata.checkoutId required")
	}

	var outcome enums.PaymentEventOutcome
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		events := s.events.WithTx(tx)
		seen, err := events.FindByWebhookID(ctx, webhookID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment event")
		}
		if settled(seen) {
			outcome = enums.PaymentEventDuplicate
			return nil
		}

		order, err := s.lockOrder(ctx, s.orders.WithTx(tx), event.Payload.Metadata)
		if err != nil {
			return err
		}

		outcome, err = s.apply(ctx, tx, order, event)
		if err != nil {
			return err
		}
		return s.record(ctx, events, webhookID, event, &order.ID, outcome)
	})
	if errors.Is(err, errUnmatched) {
		if recErr := s.record(ctx, s.events, webhookID, event, nil, enums.PaymentEventUnmatched); recErr != nil && s.logg != nil {
			s.logg.Error(ctx, "record unmatched payment webhook", recErr)
		}
		return enums.PaymentEventUnmatched, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "order not found for checkout")
	}
	if err != nil {
		return "", err
	}
	if s.logg != nil {
		s.logg.Info(ctx, "payment webhook "+string(outcome))
	}
	return outcome, nil
}

// WebhookSettled reports whether the delivery already has a final recorded
// outcome. An unmatched delivery is not final.
func (s *service) WebhookSettled(ctx context.Context, webhookID string) (bool, error) {
	seen, err := s.events.FindByWebhookID(ctx, webhookID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment event")
	}
	return settled(seen), nil
}

func settled(event *models.PaymentEvent) bool {
	return event != nil && event.Outcome != enums.PaymentEventUnmatched
}

// lockOrder finds the order by its open checkout. A delivery for an order that
// already resolved its checkout falls back to metadata.orderId so replays are
// recognised as duplicates rather than unmatched.
func (s *service) lockOrder(ctx context.Context, repo orders.Repository, meta WebhookMetadata) (*models.Order, error) {
	order, err := repo.FindByCheckoutIDForUpdate(ctx, meta.CheckoutID)
	if err == nil {
		return order, nil
	}
	if !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		return nil, err
	}
	orderID, parseErr := uuid.Parse(meta.OrderID)
	if parseErr != nil {
		return nil, errUnmatched
	}
	order, err = repo.FindByIDForUpdate(ctx, orderID)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			return nil, errUnmatched
		}
		return nil, err
	}
	// Another open checkout, or a pending order whose checkout is not stored
	// yet, must be retried against the checkout id.
	awaitingCheckout := order.Status == enums.OrderStatusPending && order.PaymentStatus == enums.PaymentStatusPending
	if order.CheckoutID != nil || awaitingCheckout {
		return nil, errUnmatched
	}
	return order, nil
}

func (s *service) apply(ctx context.Context, tx *gorm.DB, order *models.Order, event WebhookEvent) (enums.PaymentEventOutcome, error) {
	switch event.Type {
	case EventPaymentSucceeded:
		switch {
		case order.PaymentStatus == enums.PaymentStatusPaid:
			return enums.PaymentEventDuplicate, nil
		case order.Status == enums.OrderStatusCancelled:
			return s.captureOnCancelled(ctx, tx, order)
		case order.Status != enums.OrderStatusPending:
			return s.setPaymentStatus(ctx, tx, order, enums.PaymentStatusPaid)
		}
		err := s.lifecycle.Apply(ctx, tx, order, orders.Change{
			Actor:         orders.SystemActor(),
			Target:        enums.OrderStatusConfirmed,
			PaymentStatus: enums.PaymentStatusPaid,
			ExpectPayment: order.PaymentStatus,
			ClearCheckout: true,
		})
		if err != nil {
			return "", err
		}
	case EventPaymentFailed:
		switch {
		case order.PaymentStatus != enums.PaymentStatusPending:
			return enums.PaymentEventDuplicate, nil
		case order.Status != enums.OrderStatusPending:
			return s.setPaymentStatus(ctx, tx, order, enums.PaymentStatusFailed)
		}
		err := s.lifecycle.Apply(ctx, tx, order, orders.Change{
			Actor:         orders.SystemActor(),
			Target:        enums.OrderStatusCancelled,
			PaymentStatus: enums.PaymentStatusFailed,
			ExpectPayment: enums.PaymentStatusPending,
			ClearCheckout: true,
			Reason:        "payment failed",
		})
		if err != nil {
			return "", err
		}
	}
	return enums.PaymentEventProcessed, nil
}

// setPaymentStatus records a payment result for an order that has already
// left PENDING, without touching its status.
func (s *service) setPaymentStatus(ctx context.Context, tx *gorm.DB, order *models.Order, target enums.PaymentStatus) (enums.PaymentEventOutcome, error) {
	ok, err := s.orders.WithTx(tx).UpdatePaymentStatus(ctx, order.ID, order.PaymentStatus, target)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", pkgerrors.New(pkgerrors.CodeStateConflict, "order payment was modified concurrently")
	}
	order.PaymentStatus = target
	return enums.PaymentEventProcessed, nil
}

// captureOnCancelled keeps a late capture on a cancelled order as PAID so the
// money is accounted for, and flags it for a manual refund.
func (s *service) captureOnCancelled(ctx context.Context, tx *gorm.DB, order *models.Order) (enums.PaymentEventOutcome, error) {
	previous := order.PaymentStatus
	if _, err := s.setPaymentStatus(ctx, tx, order, enums.PaymentStatusPaid); err != nil {
		return "", err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":         order.ID.String(),
			"previous_payment": previous,
			"ops_event":        "payment.refund_required",
		})
		s.logg.Error(logCtx, "payment captured for cancelled order", ErrRefundRequired)
	}
	return enums.PaymentEventRefundRequired, nil
}

func (s *service) record(ctx context.Context, repo *EventRepository, webhookID string, event WebhookEvent, orderID *uuid.UUID, outcome enums.PaymentEventOutcome) error {
	row := &models.PaymentEvent{
		WebhookID: webhookID,
		EventType: event.Type,
		OrderID:   orderID,
		Outcome:   outcome,
	}
	if event.Payload != nil && event.Payload.Metadata.CheckoutID != "" {
		checkoutID := event.Payload.Metadata.CheckoutID
		row.CheckoutID = &checkoutID
	}
	if err := repo.Record(ctx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record payment event")
	}
	return nil
}

// InitiateCheckout opens a hosted checkout for a pending order owned by the customer.
func (s *service) InitiateCheckout(ctx context.Context, customerID uuid.UUID, input CheckoutInput) (*CheckoutResult, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "orderId required")
	}

	order, err := s.orders.FindByID(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another customer")
	}
	if order.Status != enums.OrderStatusPending || order.PaymentStatus != enums.PaymentStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment").
			WithDetails(map[string]any{"status": order.Status, "paymentStatus": order.PaymentStatus})
	}
	if input.Amount != order.TotalCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount does not match order total").
			WithDetails(map[string]any{"amount": input.Amount, "expected": order.TotalCents})
	}

	currency := s.cfg.Currency
	if currency == "" {
		currency = "ZAR"
	}
	checkout, err := s.gateway.CreateCheckout(ctx, paygate.CheckoutRequest{
		Amount:         order.TotalCents,
		Currency:       currency,
		SuccessURL:     s.cfg.SuccessURL,
		CancelURL:      s.cfg.CancelURL,
		FailureURL:     s.cfg.FailureURL,
		Metadata:       map[string]string{"orderId": order.ID.String()},
		IdempotencyKey: order.ID.String(),
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout")
		}
		return nil, err
	}

	ok, err := s.orders.SetCheckoutID(ctx, order.ID, checkout.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is no longer awaiting payment")
	}
	return &CheckoutResult{CheckoutID: checkout.ID, RedirectURL: checkout.RedirectURL}, nil
}
