package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/courier-backend/internal/payments"
	"github.com/angelmondragon/courier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
)

type stubPaymentsService struct {
	inputs []payments.CheckoutInput
	err    error
}

func (s *stubPaymentsService) HandleWebhook(context.Context, string, []byte) (enums.PaymentEventOutcome, error) {
	panic("not implemented")
}

func (s *stubPaymentsService) WebhookSettled(context.Context, string) (bool, error) {
	panic("not implemented")
}

func (s *stubPaymentsService) InitiateCheckout(_ context.Context, _ uuid.UUID, input payments.CheckoutInput) (*payments.CheckoutResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.inputs = append(s.inputs, input)
	return &payments.CheckoutResult{CheckoutID: "ch_123", RedirectURL: "https://pay.example.com/ch_123"}, nil
}

func TestCheckout(t *testing.T) {
	svc := &stubPaymentsService{}
	orderID := uuid.New()
	body := `{"orderId":"` + orderID.String() + `","amount":12500}`

	resp := httptest.NewRecorder()
	Checkout(svc, nil).ServeHTTP(resp, newRequest(http.MethodPost, "/", body, uuid.New(), enums.RoleCustomer, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	var result payments.CheckoutResult
	decodeData(t, resp, &result)
	if result.CheckoutID != "ch_123" || result.RedirectURL == "" {
		t.Fatalf("unexpected result %+v", result)
	}
	if svc.inputs[0].OrderID != orderID || svc.inputs[0].Amount != 12500 {
		t.Fatalf("unexpected input %+v", svc.inputs[0])
	}
}

func TestCheckoutGatewayFailure(t *testing.T) {
	svc := &stubPaymentsService{err: pkgerrors.New(pkgerrors.CodeDependency, "checkout gateway unavailable")}
	body := `{"orderId":"` + uuid.NewString() + `","amount":100}`

	resp := httptest.NewRecorder()
	Checkout(svc, nil).ServeHTTP(resp, newRequest(http.MethodPost, "/", body, uuid.New(), enums.RoleCustomer, nil))
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d", resp.Code)
	}
}
