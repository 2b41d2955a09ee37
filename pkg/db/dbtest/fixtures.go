package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/courier-backend/pkg/db/models"
	"github.com/angelmondragon/courier-backend/pkg/enums"
)

// SeedStore inserts a store owned by ownerID located in Johannesburg.
func SeedStore(t *testing.T, db *gorm.DB, ownerID uuid.UUID) models.Store {
	t.Helper()
	store := models.Store{
		OwnerID:   ownerID,
		Name:      "Store " + ownerID.String()[:8],
		Address:   "1 Main Rd, Johannesburg",
		Latitude:  -26.2041,
		Longitude: 28.0473,
	}
	if err := db.Create(&store).Error; err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return store
}

// SeedProduct inserts an active product for the store.
func SeedProduct(t *testing.T, db *gorm.DB, storeID uuid.UUID, priceCents, stock int) models.Product {
	t.Helper()
	product := models.Product{
		StoreID:    storeID,
		Name:       "Product " + uuid.NewString()[:8],
		PriceCents: priceCents,
		Stock:      stock,
		IsActive:   true,
	}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}

// OrderOption mutates an order before it is inserted.
type OrderOption func(*models.Order)

func WithStatus(status enums.OrderStatus, payment enums.PaymentStatus) OrderOption {
	return func(o *models.Order) {
		o.Status = status
		o.PaymentStatus = payment
	}
}

func WithDriver(driverID uuid.UUID) OrderOption {
	return func(o *models.Order) {
		o.DriverID = &driverID
	}
}

func WithDestination(lat, lng float64) OrderOption {
	return func(o *models.Order) {
		o.DeliveryLat = &lat
		o.DeliveryLng = &lng
	}
}

func WithCheckoutID(checkoutID string) OrderOption {
	return func(o *models.Order) {
		o.CheckoutID = &checkoutID
	}
}

func WithCompletedAt(at time.Time) OrderOption {
	return func(o *models.Order) {
		o.CompletedAt = &at
	}
}

func WithCreatedAt(at time.Time) OrderOption {
	return func(o *models.Order) {
		o.CreatedAt = at
	}
}

// SeedOrder inserts a single-line order for product, defaulting to PENDING/PENDING.
func SeedOrder(t *testing.T, db *gorm.DB, customerID uuid.UUID, product models.Product, qty int, opts ...OrderOption) models.Order {
	t.Helper()
	subtotal := product.PriceCents * qty
	order := models.Order{
		OrderNumber:      "ORD-TEST-" + uuid.NewString()[:8],
		CustomerID:       customerID,
		StoreID:          product.StoreID,
		Status:           enums.OrderStatusPending,
		PaymentStatus:    enums.PaymentStatusPending,
		SubtotalCents:    subtotal,
		ShippingFeeCents: 0,
		TotalCents:       subtotal,
		Province:         enums.ProvinceGauteng,
		DeliveryAddress:  "10 Long St, Johannesburg",
		CustomerPhone:    "+27820000000",
		Items: []models.OrderItem{{
			ProductID:      product.ID,
			Name:           product.Name,
			Quantity:       qty,
			UnitPriceCents: product.PriceCents,
			LineTotalCents: subtotal,
		}},
	}
	for _, opt := range opts {
		opt(&order)
	}
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

// OutboxEvents returns the queued events of eventType in insertion order.
func OutboxEvents(t *testing.T, db *gorm.DB, eventType enums.OutboxEventType) []models.OutboxEvent {
	t.Helper()
	var rows []models.OutboxEvent
	if err := db.Where("event_type = ?", eventType).Order("created_at ASC").Find(&rows).Error; err != nil {
		t.Fatalf("load outbox events: %v", err)
	}
	return rows
}

// ReloadOrder reads the order and its items back from the database.
func ReloadOrder(t *testing.T, db *gorm.DB, id uuid.UUID) models.Order {
	t.Helper()
	var order models.Order
	if err := db.Preload("Items").Where("id = ?", id).First(&order).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	return order
}
