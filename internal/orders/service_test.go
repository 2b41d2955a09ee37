package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/courier-backend/internal/stock"
	"github.com/angelmondragon/courier-backend/pkg/db"
	"github.com/angelmondragon/courier-backend/pkg/db/dbtest"
	"github.com/angelmondragon/courier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
	"github.com/angelmondragon/courier-backend/pkg/outbox"
)

type harness struct {
	conn   *gorm.DB
	svc    Service
	ledger *stock.Ledger
}

func newHarness(t *testing.T) harness {
	t.Helper()
	conn := dbtest.Open(t)
	ledger := stock.NewLedger(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)
	lifecycle, err := NewLifecycle(ledger, emitter)
	require.NoError(t, err)
	svc, err := NewService(NewRepository(conn), db.Wrap(conn), ledger, lifecycle, emitter)
	require.NoError(t, err)
	return harness{conn: conn, svc: svc, ledger: ledger}
}

func (h harness) stockOf(t *testing.T, productID uuid.UUID) int {
	t.Helper()
	available, err := h.ledger.Available(context.Background(), productID)
	require.NoError(t, err)
	return available
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(nil, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestUpdateVendorStatusAdvancesOwnOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	vendorID := uuid.New()
	store := dbtest.SeedStore(t, h.conn, vendorID)
	product := dbtest.SeedProduct(t, h.conn, store.ID, 1000, 5)
	order := dbtest.SeedOrder(t, h.conn, uuid.New(), product, 1,
		dbtest.WithStatus(enums.OrderStatusConfirmed, enums.PaymentStatusPaid))

	dto, err := h.svc.UpdateVendorStatus(ctx, vendorID, order.ID, enums.OrderStatusPreparing)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPreparing, dto.Status)

	dto, err = h.svc.UpdateVendorStatus(ctx, vendorID, order.ID, enums.OrderStatusReady)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusReady, dto.Status)

	events := dbtest.OutboxEvents(t, h.conn, enums.EventOrderStatusChanged)
	assert.Len(t, events, 2)
}

func TestUpdateVendorStatusRejectsForeignVendor(t *testing.T) {
	h := newHarness(t)
	store := dbtest.SeedStore(t, h.conn, uuid.New())
	dbtest.SeedStore(t, h.conn, uuid.New())
	product := dbtest.SeedProduct(t, h.conn, store.ID, 1000, 5)
	order := dbtest.SeedOrder(t, h.conn, uuid.New(), product, 1,
		dbtest.WithStatus(enums.OrderStatusConfirmed, enums.PaymentStatusPaid))

	_, err := h.svc.UpdateVendorStatus(context.Background(), uuid.New(), order.ID, enums.OrderStatusPreparing)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))

	reloaded := dbtest.ReloadOrder(t, h.conn, order.ID)
	assert.Equal(t, enums.OrderStatusConfirmed, reloaded.Status)
}

func TestUpdateVendorStatusRejectsSkippingStates(t *testing.T) {
	h := newHarness(t)
	vendorID := uuid.New()
	store := dbtest.SeedStore(t, h.conn, vendorID)
	product := dbtest.SeedProduct(t, h.conn, store.ID, 1000, 5)
	order := dbtest.SeedOrder(t, h.conn, uuid.New(), product, 1)

	_, err := h.svc.UpdateVendorStatus(context.Background(), vendorID, order.ID, enums.OrderStatusDelivered)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
	assert.Empty(t, dbtest.OutboxEvents(t, h.conn, enums.EventOrderStatusChanged))
}

func TestUpdateVendorStatusUnknownOrder(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.UpdateVendorStatus(context.Background(), uuid.New(), uuid.New(), enums.OrderStatusPreparing)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestAdminCancelRestoresStock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	store := dbtest.SeedStore(t, h.conn, uuid.New())
	product := dbtest.SeedProduct(t, h.conn, store.ID, 1000, 2)
	order := dbtest.SeedOrder(t, h.conn, uuid.New(), product, 3,
		dbtest.WithStatus(enums.OrderStatusPreparing, enums.PaymentStatusPaid))

	cancelled := enums.OrderStatusCancelled
	dto, err := h.svc.AdminOverride(ctx, uuid.New(), order.ID, AdminOverrideInput{Status: &cancelled, Reason: "customer request"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, dto.Status)
	assert.NotNil(t, dto.CancelledAt)
	assert.Equal(t, 5, h.stockOf(t, product.ID))

	events := dbtest.OutboxEvents(t, h.conn, enums.EventOrderCancelled)
	require.Len(t, events, 1)
	assert.Equal(t, order.ID, events[0].AggregateID)
}

func TestAdminOverrideCannotDeliverOrReopen(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	store := dbtest.SeedStore(t, h.conn, uuid.New())
	product := dbtest.SeedProduct(t, h.conn, store.ID, 1000, 2)
	active := dbtest.SeedOrder(t, h.conn, uuid.New(), product, 1,
		dbtest.WithStatus(enums.OrderStatusOutForDelivery, enums.PaymentStatusPaid))
	closed := dbtest.SeedOrder(t, h.conn, uuid.New(), product, 1,
		dbtest.WithStatus(enums.OrderStatusCancelled, enums.PaymentStatusFailed))

	delivered := enums.OrderStatusDelivered
	_, err := h.svc.AdminOverride(ctx, uuid.New(), active.ID, AdminOverrideInput{Status: &delivered})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))

	pending := enums.OrderStatusPending
	_, err = h.svc.AdminOverride(ctx, uuid.New(), closed.ID, AdminOverrideInput{Status: &pending})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
}

func TestAdminOverridePaymentStatusOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	store := dbtest.SeedStore(t, h.conn, uuid.New())
	product := dbtest.SeedProduct(t, h.conn, store.ID, 1000, 2)
	order := dbtest.SeedOrder(t, h.conn, uuid.New(), product, 1,
		dbtest.WithStatus(enums.OrderStatusConfirmed, enums.PaymentStatusPending))

	paid := enums.PaymentStatusPaid
	dto, err := h.svc.AdminOverride(ctx, uuid.New(), order.ID, AdminOverrideInput{PaymentStatus: &paid})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, dto.PaymentStatus)
	assert.Equal(t, enums.OrderStatusConfirmed, dto.Status)

	_, err = h.svc.AdminOverride(ctx, uuid.New(), order.ID, AdminOverrideInput{PaymentStatus: &paid})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))

	_, err = h.svc.AdminOverride(ctx, uuid.New(), order.ID, AdminOverrideInput{})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestGetEnforcesParties(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	vendorID := uuid.New()
	customerID := uuid.New()
	driverID := uuid.New()
	store := dbtest.SeedStore(t, h.conn, vendorID)
	product := dbtest.SeedProduct(t, h.conn, store.ID, 1000, 2)
	order := dbtest.SeedOrder(t, h.conn, customerID, product, 1,
		dbtest.WithStatus(enums.OrderStatusReady, enums.PaymentStatusPaid),
		dbtest.WithDriver(driverID))

	allowed := []Actor{
		{ID: customerID, Role: enums.RoleCustomer},
		{ID: vendorID, Role: enums.RoleVendor},
		{ID: driverID, Role: enums.RoleDriver},
		{ID: uuid.New(), Role: enums.RoleAdmin},
	}
	for _, actor := range allowed {
		dto, err := h.svc.Get(ctx, actor, order.ID)
		require.NoError(t, err, "role %s", actor.Role)
		assert.Equal(t, order.ID, dto.ID)
		assert.Len(t, dto.Items, 1)
	}

	denied := []Actor{
		{ID: uuid.New(), Role: enums.RoleCustomer},
		{ID: uuid.New(), Role: enums.RoleVendor},
		{ID: uuid.New(), Role: enums.RoleDriver},
	}
	for _, actor := range denied {
		_, err := h.svc.Get(ctx, actor, order.ID)
		assert.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden), "role %s", actor.Role)
	}

	_, err := h.svc.Get(ctx, allowed[3], uuid.New())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestListsAreNewestFirstAndCapped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	vendorID := uuid.New()
	customerID := uuid.New()
	store := dbtest.SeedStore(t, h.conn, vendorID)
	product := dbtest.SeedProduct(t, h.conn, store.ID, 1000, 2)
	base := time.Now().UTC().Add(-time.Hour)
	older := dbtest.SeedOrder(t, h.conn, customerID, product, 1, dbtest.WithCreatedAt(base))
	newer := dbtest.SeedOrder(t, h.conn, customerID, product, 1, dbtest.WithCreatedAt(base.Add(time.Minute)))
	dbtest.SeedOrder(t, h.conn, uuid.New(), product, 1, dbtest.WithCreatedAt(base.Add(2*time.Minute)))

	mine, err := h.svc.ListForCustomer(ctx, customerID, ListParams{})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, newer.ID, mine[0].ID)
	assert.Equal(t, older.ID, mine[1].ID)

	vendorOrders, err := h.svc.ListForVendor(ctx, vendorID, ListParams{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, vendorOrders, 1)

	none, err := h.svc.ListForVendor(ctx, uuid.New(), ListParams{})
	require.NoError(t, err)
	assert.Empty(t, none)

	assert.Equal(t, maxListLimit, ListParams{Limit: 1000}.limit())
	assert.Equal(t, defaultListLimit, ListParams{}.limit())
}
