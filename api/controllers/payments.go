package controllers

import (
	"net/http"

	"github.com/angelmondragon/courier-backend/api/responses"
	"github.com/angelmondragon/courier-backend/api/validators"
	"github.com/angelmondragon/courier-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
	"github.com/angelmondragon/courier-backend/pkg/logger"
)

// Checkout opens a hosted checkout session for a pending order.
func Checkout(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		customerID, err := currentUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var input payments.CheckoutInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.InitiateCheckout(r.Context(), customerID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
