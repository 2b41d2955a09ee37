package cron

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/courier-backend/internal/orders"
	"github.com/angelmondragon/courier-backend/internal/stock"
	"github.com/angelmondragon/courier-backend/pkg/db"
	"github.com/angelmondragon/courier-backend/pkg/db/dbtest"
	"github.com/angelmondragon/courier-backend/pkg/enums"
	"github.com/angelmondragon/courier-backend/pkg/logger"
	"github.com/angelmondragon/courier-backend/pkg/outbox"
	"github.com/angelmondragon/courier-backend/pkg/outbox/payloads"
)

func newOrderTTLJobTest(t *testing.T) (*gorm.DB, *orderTTLJob, *stock.Ledger) {
	t.Helper()
	conn := dbtest.Open(t)
	ledger := stock.NewLedger(conn)
	lifecycle, err := orders.NewLifecycle(ledger, outbox.NewService(outbox.NewRepository(conn), nil))
	if err != nil {
		t.Fatalf("NewLifecycle: %v", err)
	}
	jobIface, err := NewOrderTTLJob(OrderTTLJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		DB:         db.Wrap(conn),
		Orders:     orders.NewRepository(conn),
		Lifecycle:  lifecycle,
		PendingTTL: 30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewOrderTTLJob: %v", err)
	}
	job, ok := jobIface.(*orderTTLJob)
	if !ok {
		t.Fatalf("expected orderTTLJob, got %T", jobIface)
	}
	return conn, job, ledger
}

func TestOrderTTLJobExpiresStalePendingOrders(t *testing.T) {
	ctx := context.Background()
	conn, job, ledger := newOrderTTLJobTest(t)
	now := time.Now().UTC()
	job.now = func() time.Time { return now }

	store := dbtest.SeedStore(t, conn, uuid.New())
	product := dbtest.SeedProduct(t, conn, store.ID, 1000, 4)
	stale := dbtest.SeedOrder(t, conn, uuid.New(), product, 2, dbtest.WithCreatedAt(now.Add(-time.Hour)), dbtest.WithCheckoutID("ch_stale"))
	fresh := dbtest.SeedOrder(t, conn, uuid.New(), product, 1, dbtest.WithCreatedAt(now.Add(-5*time.Minute)))
	paid := dbtest.SeedOrder(t, conn, uuid.New(), product, 1,
		dbtest.WithCreatedAt(now.Add(-2*time.Hour)),
		dbtest.WithStatus(enums.OrderStatusConfirmed, enums.PaymentStatusPaid))

	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	expired := dbtest.ReloadOrder(t, conn, stale.ID)
	if expired.Status != enums.OrderStatusCancelled {
		t.Fatalf("expected stale order cancelled, got %s", expired.Status)
	}
	if expired.PaymentStatus != enums.PaymentStatusFailed {
		t.Fatalf("expected payment failed, got %s", expired.PaymentStatus)
	}
	if expired.CheckoutID != nil {
		t.Fatalf("expected checkout id cleared")
	}
	if got := dbtest.ReloadOrder(t, conn, fresh.ID).Status; got != enums.OrderStatusPending {
		t.Fatalf("expected fresh order untouched, got %s", got)
	}
	if got := dbtest.ReloadOrder(t, conn, paid.ID).Status; got != enums.OrderStatusConfirmed {
		t.Fatalf("expected paid order untouched, got %s", got)
	}

	available, err := ledger.Available(ctx, product.ID)
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if available != 6 {
		t.Fatalf("expected 2 units restored to 6, got %d", available)
	}

	events := dbtest.OutboxEvents(t, conn, enums.EventOrderCancelled)
	if len(events) != 1 {
		t.Fatalf("expected 1 cancellation event, got %d", len(events))
	}
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(events[0].Payload, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	var payload payloads.OrderCancelledEvent
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Reason != ExpiryReason {
		t.Fatalf("unexpected reason %q", payload.Reason)
	}
	if envelope.Actor == nil || envelope.Actor.Role != enums.RoleSystem {
		t.Fatalf("expected system actor, got %+v", envelope.Actor)
	}

	// A second pass finds nothing left to expire.
	if err := job.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if got := len(dbtest.OutboxEvents(t, conn, enums.EventOrderCancelled)); got != 1 {
		t.Fatalf("expected expiry to be applied once, got %d events", got)
	}
}

func TestOrderTTLJobRequiresDependencies(t *testing.T) {
	if _, err := NewOrderTTLJob(OrderTTLJobParams{}); err == nil {
		t.Fatal("expected error")
	}
}
