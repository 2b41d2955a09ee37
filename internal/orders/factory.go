package orders

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/courier-backend/internal/stock"
	"github.com/angelmondragon/courier-backend/pkg/db/models"
	"github.com/angelmondragon/courier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
	"github.com/angelmondragon/courier-backend/pkg/geo"
	"github.com/angelmondragon/courier-backend/pkg/outbox"
	"github.com/angelmondragon/courier-backend/pkg/outbox/payloads"
)

type cartLine struct {
	productID uuid.UUID
	quantity  int
}

// PlaceOrder splits the cart into one order per store, snapshots live prices
// and reserves stock. Either every order is created or none is.
func (s *service) PlaceOrder(ctx context.Context, customerID uuid.UUID, input PlaceOrderInput) (*PlaceOrderResult, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	lines, err := validatePlaceOrder(input)
	if err != nil {
		return nil, err
	}

	var created []models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		created = created[:0]
		repo := s.repo.WithTx(tx)

		productIDs := make([]uuid.UUID, 0, len(lines))
		for _, line := range lines {
			productIDs = append(productIDs, line.productID)
		}
		products, err := repo.FindProducts(ctx, productIDs)
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]models.Product, len(products))
		for _, product := range products {
			byID[product.ID] = product
		}

		grouped := map[uuid.UUID][]cartLine{}
		for _, line := range lines {
			product, ok := byID[line.productID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
					WithDetails(map[string]any{"productId": line.productID})
			}
			if !product.IsActive {
				return pkgerrors.New(pkgerrors.CodeValidation, "product is not available").
					WithDetails(map[string]any{"productId": product.ID})
			}
			if product.Stock < line.quantity {
				return pkgerrors.Wrap(pkgerrors.CodeValidation, stock.ErrInsufficientStock, "insufficient stock for "+product.Name).
					WithDetails(map[string]any{"productId": product.ID, "requested": line.quantity, "available": product.Stock})
			}
			grouped[product.StoreID] = append(grouped[product.StoreID], line)
		}

		storeIDs := make([]uuid.UUID, 0, len(grouped))
		for storeID := range grouped {
			storeIDs = append(storeIDs, storeID)
		}
		slices.SortFunc(storeIDs, func(a, b uuid.UUID) int {
			return strings.Compare(a.String(), b.String())
		})

		now := s.now()
		for _, storeID := range storeIDs {
			order := buildOrder(customerID, storeID, input, grouped[storeID], byID)
			order.OrderNumber = NewOrderNumber(now)
			if err := repo.CreateOrder(ctx, &order); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
			}

			reservations := make([]stock.Line, 0, len(order.Items))
			for _, item := range order.Items {
				reservations = append(reservations, stock.Line{ProductID: item.ProductID, Quantity: item.Quantity})
			}
			if err := s.stock.ReserveAll(ctx, tx, reservations); err != nil {
				return err
			}

			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderCreated,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Actor:         &outbox.ActorRef{UserID: customerID, Role: enums.RoleCustomer},
				OccurredAt:    now,
				Data: payloads.OrderCreatedEvent{
					OrderID:       order.ID,
					OrderNumber:   order.OrderNumber,
					CustomerID:    customerID,
					StoreID:       storeID,
					CustomerPhone: order.CustomerPhone,
					TotalCents:    order.TotalCents,
					ItemCount:     len(order.Items),
				},
			}); err != nil {
				return err
			}
			created = append(created, order)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &PlaceOrderResult{Orders: fromModels(created), Count: len(created)}, nil
}

func buildOrder(customerID, storeID uuid.UUID, input PlaceOrderInput, lines []cartLine, products map[uuid.UUID]models.Product) models.Order {
	items := make([]models.OrderItem, 0, len(lines))
	subtotal := 0
	for _, line := range lines {
		product := products[line.productID]
		lineTotal := product.PriceCents * line.quantity
		subtotal += lineTotal
		items = append(items, models.OrderItem{
			ProductID:      product.ID,
			Name:           product.Name,
			Quantity:       line.quantity,
			UnitPriceCents: product.PriceCents,
			LineTotalCents: lineTotal,
		})
	}
	shipping := ShippingFeeCents(input.Province, subtotal)
	return models.Order{
		CustomerID:       customerID,
		StoreID:          storeID,
		Status:           enums.OrderStatusPending,
		PaymentStatus:    enums.PaymentStatusPending,
		SubtotalCents:    subtotal,
		ShippingFeeCents: shipping,
		TotalCents:       subtotal + shipping,
		Province:         input.Province,
		DeliveryAddress:  strings.TrimSpace(input.DeliveryAddress),
		CustomerPhone:    strings.TrimSpace(input.CustomerPhone),
		DeliveryLat:      input.DeliveryLatitude,
		DeliveryLng:      input.DeliveryLongitude,
		Items:            items,
	}
}

// validatePlaceOrder checks the request and merges duplicate products,
// keeping the order in which products first appear.
func validatePlaceOrder(input PlaceOrderInput) ([]cartLine, error) {
	if strings.TrimSpace(input.DeliveryAddress) == "" {
		return nil, fieldError("deliveryAddress", "is required")
	}
	if strings.TrimSpace(input.CustomerPhone) == "" {
		return nil, fieldError("customerPhone", "is required")
	}
	if !input.Province.IsValid() {
		return nil, fieldError("province", "is invalid")
	}
	if (input.DeliveryLatitude == nil) != (input.DeliveryLongitude == nil) {
		return nil, fieldError("deliveryLatitude", "latitude and longitude must be provided together")
	}
	if input.DeliveryLatitude != nil {
		point := geo.Point{Lat: *input.DeliveryLatitude, Lng: *input.DeliveryLongitude}
		if err := point.Validate(); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery coordinates")
		}
	}
	if len(input.Items) == 0 {
		return nil, fieldError("items", "must contain at least one item")
	}

	index := map[uuid.UUID]int{}
	lines := make([]cartLine, 0, len(input.Items))
	for _, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return nil, fieldError("productId", "is required")
		}
		if item.Quantity < 1 {
			return nil, fieldError("quantity", "must be at least 1")
		}
		if pos, ok := index[item.ProductID]; ok {
			lines[pos].quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(lines)
		lines = append(lines, cartLine{productID: item.ProductID, quantity: item.Quantity})
	}
	return lines, nil
}

func fieldError(field, msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
		WithDetails(map[string]string{field: msg})
}

