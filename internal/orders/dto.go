package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/courier-backend/pkg/db/models"
	"github.com/angelmondragon/courier-backend/pkg/enums"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// PlaceOrderItem is one cart line. Price is accepted for client convenience but
// the live product price is always used.
type PlaceOrderItem struct {
	ProductID uuid.UUID `json:"productId" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1"`
	Price     int       `json:"price" validate:"omitempty,min=0"`
}

// PlaceOrderInput is the checkout body for a (possibly multi-store) cart.
type PlaceOrderInput struct {
	DeliveryAddress   string           `json:"deliveryAddress" validate:"required"`
	CustomerPhone     string           `json:"customerPhone" validate:"required,phone"`
	Province          enums.Province   `json:"province" validate:"required,province"`
	Items             []PlaceOrderItem `json:"items" validate:"required,min=1,dive"`
	DeliveryLatitude  *float64         `json:"deliveryLatitude,omitempty" validate:"omitempty,min=-90,max=90"`
	DeliveryLongitude *float64         `json:"deliveryLongitude,omitempty" validate:"omitempty,min=-180,max=180"`
}

// PlaceOrderResult lists one order per store in the cart.
type PlaceOrderResult struct {
	Orders []OrderDTO `json:"orders"`
	Count  int        `json:"count"`
}

// AdminOverrideInput lets an admin force a status and/or payment status.
type AdminOverrideInput struct {
	Status        *enums.OrderStatus   `json:"status,omitempty"`
	PaymentStatus *enums.PaymentStatus `json:"paymentStatus,omitempty"`
	Reason        string               `json:"reason,omitempty"`
}

// ListParams bounds order listings.
type ListParams struct {
	Status *enums.OrderStatus
	Limit  int
}

func (p ListParams) limit() int {
	switch {
	case p.Limit <= 0:
		return defaultListLimit
	case p.Limit > maxListLimit:
		return maxListLimit
	default:
		return p.Limit
	}
}

type OrderItemDTO struct {
	ID             uuid.UUID `json:"id"`
	ProductID      uuid.UUID `json:"productId"`
	Name           string    `json:"name"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int       `json:"unitPriceCents"`
	LineTotalCents int       `json:"lineTotalCents"`
}

type OrderDTO struct {
	ID               uuid.UUID           `json:"id"`
	OrderNumber      string              `json:"orderNumber"`
	CustomerID       uuid.UUID           `json:"customerId"`
	StoreID          uuid.UUID           `json:"storeId"`
	Status           enums.OrderStatus   `json:"status"`
	PaymentStatus    enums.PaymentStatus `json:"paymentStatus"`
	SubtotalCents    int                 `json:"subtotalCents"`
	ShippingFeeCents int                 `json:"shippingFeeCents"`
	TotalCents       int                 `json:"totalCents"`
	Province         enums.Province      `json:"province"`
	DeliveryAddress  string              `json:"deliveryAddress"`
	CustomerPhone    string              `json:"customerPhone"`
	DeliveryLat      *float64            `json:"deliveryLatitude,omitempty"`
	DeliveryLng      *float64            `json:"deliveryLongitude,omitempty"`
	DriverID         *uuid.UUID          `json:"driverId,omitempty"`
	EstimatedMinutes *int                `json:"estimatedMinutes,omitempty"`
	Items            []OrderItemDTO      `json:"items"`
	CreatedAt        time.Time           `json:"createdAt"`
	ConfirmedAt      *time.Time          `json:"confirmedAt,omitempty"`
	CompletedAt      *time.Time          `json:"completedAt,omitempty"`
	CancelledAt      *time.Time          `json:"cancelledAt,omitempty"`
}

// FromModel maps a persisted order (with items preloaded) to its API shape.
func FromModel(order models.Order) OrderDTO {
	items := make([]OrderItemDTO, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItemDTO{
			ID:             item.ID,
			ProductID:      item.ProductID,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			LineTotalCents: item.LineTotalCents,
		})
	}
	return OrderDTO{
		ID:               order.ID,
		OrderNumber:      order.OrderNumber,
		CustomerID:       order.CustomerID,
		StoreID:          order.StoreID,
		Status:           order.Status,
		PaymentStatus:    order.PaymentStatus,
		SubtotalCents:    order.SubtotalCents,
		ShippingFeeCents: order.ShippingFeeCents,
		TotalCents:       order.TotalCents,
		Province:         order.Province,
		DeliveryAddress:  order.DeliveryAddress,
		CustomerPhone:    order.CustomerPhone,
		DeliveryLat:      order.DeliveryLat,
		DeliveryLng:      order.DeliveryLng,
		DriverID:         order.DriverID,
		EstimatedMinutes: order.EstimatedMinutes,
		Items:            items,
		CreatedAt:        order.CreatedAt,
		ConfirmedAt:      order.ConfirmedAt,
		CompletedAt:      order.CompletedAt,
		CancelledAt:      order.CancelledAt,
	}
}

func fromModels(orders []models.Order) []OrderDTO {
	out := make([]OrderDTO, 0, len(orders))
	for _, order := range orders {
		out = append(out, FromModel(order))
	}
	return out
}
