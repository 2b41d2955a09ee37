package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/courier-backend/api/responses"
	"github.com/angelmondragon/courier-backend/api/validators"
	"github.com/angelmondragon/courier-backend/internal/delivery"
	"github.com/angelmondragon/courier-backend/internal/orders"
	"github.com/angelmondragon/courier-backend/internal/tracking"
	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
	"github.com/angelmondragon/courier-backend/pkg/logger"
)

type driverOrderRequest struct {
	OrderID uuid.UUID `json:"orderId" validate:"required"`
}

// DriverAvailableOrders lists ready orders nobody has claimed yet.
func DriverAvailableOrders(svc delivery.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "delivery service unavailable"))
			return
		}
		list, err := svc.ListAvailable(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// DriverAssignedOrders lists the driver's own deliveries.
func DriverAssignedOrders(svc delivery.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "delivery service unavailable"))
			return
		}
		driverID, err := currentUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.ListAssigned(r.Context(), driverID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func DriverAcceptOrder(svc delivery.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return driverOrderAction(nil, logg)
	}
	return driverOrderAction(svc.Accept, logg)
}

func DriverPickUpOrder(svc delivery.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return driverOrderAction(nil, logg)
	}
	return driverOrderAction(svc.PickUp, logg)
}

func driverOrderAction(action func(ctx context.Context, driverID, orderID uuid.UUID) (*orders.OrderDTO, error), logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if action == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "delivery service unavailable"))
			return
		}
		driverID, err := currentUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req driverOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := action(r.Context(), driverID, req.OrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// DriverCompleteOrder records proof of delivery and closes the order.
func DriverCompleteOrder(svc delivery.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "delivery service unavailable"))
			return
		}
		driverID, err := currentUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var input delivery.CompleteInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input.Notes = validators.SanitizeOptional(input.Notes, 500)

		order, err := svc.Complete(r.Context(), driverID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// DriverLocation stores a position ping and returns distance and ETA.
func DriverLocation(svc tracking.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "tracking service unavailable"))
			return
		}
		driverID, err := currentUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var input tracking.LocationInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.UpdateLocation(r.Context(), driverID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
