package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/courier-backend/internal/delivery"
	"github.com/angelmondragon/courier-backend/internal/orders"
	"github.com/angelmondragon/courier-backend/internal/tracking"
	"github.com/angelmondragon/courier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
)

type stubDeliveryService struct {
	accepted  []uuid.UUID
	acceptErr error
	pickedUp  []uuid.UUID
	completed []delivery.CompleteInput
}

func (s *stubDeliveryService) ListAvailable(context.Context) ([]orders.OrderDTO, error) {
	return []orders.OrderDTO{{}, {}}, nil
}

func (s *stubDeliveryService) ListAssigned(context.Context, uuid.UUID) ([]orders.OrderDTO, error) {
	return []orders.OrderDTO{{}}, nil
}

func (s *stubDeliveryService) Accept(_ context.Context, _ uuid.UUID, orderID uuid.UUID) (*orders.OrderDTO, error) {
	if s.acceptErr != nil {
		return nil, s.acceptErr
	}
	s.accepted = append(s.accepted, orderID)
	return &orders.OrderDTO{}, nil
}

func (s *stubDeliveryService) PickUp(_ context.Context, _ uuid.UUID, orderID uuid.UUID) (*orders.OrderDTO, error) {
	s.pickedUp = append(s.pickedUp, orderID)
	return &orders.OrderDTO{}, nil
}

func (s *stubDeliveryService) Complete(_ context.Context, _ uuid.UUID, input delivery.CompleteInput) (*orders.OrderDTO, error) {
	s.completed = append(s.completed, input)
	return &orders.OrderDTO{}, nil
}

type stubTrackingService struct {
	inputs []tracking.LocationInput
}

func (s *stubTrackingService) UpdateLocation(_ context.Context, _ uuid.UUID, input tracking.LocationInput) (*tracking.LocationResult, error) {
	s.inputs = append(s.inputs, input)
	return &tracking.LocationResult{DistanceToDestination: 2.5, EstimatedTime: 5}, nil
}

func (s *stubTrackingService) Track(context.Context, uuid.UUID, uuid.UUID) (*tracking.TrackingView, error) {
	panic("not implemented")
}

func TestDriverAvailableOrders(t *testing.T) {
	resp := httptest.NewRecorder()
	DriverAvailableOrders(&stubDeliveryService{}, nil).ServeHTTP(resp, newRequest(http.MethodGet, "/", "", uuid.New(), enums.RoleDriver, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var list []orders.OrderDTO
	decodeData(t, resp, &list)
	if len(list) != 2 {
		t.Fatalf("expected 2 orders got %d", len(list))
	}
}

func TestDriverAcceptAndPickUp(t *testing.T) {
	svc := &stubDeliveryService{}
	orderID := uuid.New()
	body := `{"orderId":"` + orderID.String() + `"}`

	resp := httptest.NewRecorder()
	DriverAcceptOrder(svc, nil).ServeHTTP(resp, newRequest(http.MethodPost, "/", body, uuid.New(), enums.RoleDriver, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("accept: expected 200 got %d", resp.Code)
	}
	resp = httptest.NewRecorder()
	DriverPickUpOrder(svc, nil).ServeHTTP(resp, newRequest(http.MethodPost, "/", body, uuid.New(), enums.RoleDriver, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("pickup: expected 200 got %d", resp.Code)
	}
	if len(svc.accepted) != 1 || svc.accepted[0] != orderID || len(svc.pickedUp) != 1 {
		t.Fatalf("unexpected calls accepted=%v pickedUp=%v", svc.accepted, svc.pickedUp)
	}
}

func TestDriverAcceptAlreadyAssigned(t *testing.T) {
	svc := &stubDeliveryService{acceptErr: pkgerrors.New(pkgerrors.CodeConflict, "order already assigned")}
	body := `{"orderId":"` + uuid.NewString() + `"}`

	resp := httptest.NewRecorder()
	DriverAcceptOrder(svc, nil).ServeHTTP(resp, newRequest(http.MethodPost, "/", body, uuid.New(), enums.RoleDriver, nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if code := errorCode(t, resp); code != string(pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict got %s", code)
	}
}

func TestDriverAcceptRequiresOrderID(t *testing.T) {
	svc := &stubDeliveryService{}
	resp := httptest.NewRecorder()
	DriverAcceptOrder(svc, nil).ServeHTTP(resp, newRequest(http.MethodPost, "/", `{}`, uuid.New(), enums.RoleDriver, nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if len(svc.accepted) != 0 {
		t.Fatal("service should not be called")
	}
}

func TestDriverCompleteOrder(t *testing.T) {
	svc := &stubDeliveryService{}
	body := `{"orderId":"` + uuid.NewString() + `","photoUrl":"https://cdn.example.com/proof.jpg","notes":"  left at door "}`

	resp := httptest.NewRecorder()
	DriverCompleteOrder(svc, nil).ServeHTTP(resp, newRequest(http.MethodPost, "/", body, uuid.New(), enums.RoleDriver, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if len(svc.completed) != 1 || svc.completed[0].Notes == nil || *svc.completed[0].Notes != "left at door" {
		t.Fatalf("unexpected completion %+v", svc.completed)
	}

	resp = httptest.NewRecorder()
	DriverCompleteOrder(svc, nil).ServeHTTP(resp, newRequest(http.MethodPost, "/", `{"orderId":"`+uuid.NewString()+`"}`, uuid.New(), enums.RoleDriver, nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without photo got %d", resp.Code)
	}
}

func TestDriverLocation(t *testing.T) {
	svc := &stubTrackingService{}
	body := `{"orderId":"` + uuid.NewString() + `","latitude":-26.2041,"longitude":28.0473}`

	resp := httptest.NewRecorder()
	DriverLocation(svc, nil).ServeHTTP(resp, newRequest(http.MethodPost, "/", body, uuid.New(), enums.RoleDriver, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	var result tracking.LocationResult
	decodeData(t, resp, &result)
	if result.EstimatedTime != 5 {
		t.Fatalf("unexpected eta %d", result.EstimatedTime)
	}

	resp = httptest.NewRecorder()
	DriverLocation(svc, nil).ServeHTTP(resp, newRequest(http.MethodPost, "/", `{"orderId":"`+uuid.NewString()+`","latitude":1}`, uuid.New(), enums.RoleDriver, nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without longitude got %d", resp.Code)
	}
	if len(svc.inputs) != 1 {
		t.Fatalf("expected a single forwarded ping, got %d", len(svc.inputs))
	}
}

func TestDriverHandlersRequireUser(t *testing.T) {
	resp := httptest.NewRecorder()
	DriverAssignedOrders(&stubDeliveryService{}, nil).ServeHTTP(resp, newRequest(http.MethodGet, "/", "", uuid.Nil, "", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}
