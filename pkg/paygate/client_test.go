package paygate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func TestCreateCheckoutRequest(t *testing.T) {
	var captured *http.Request
	var payload map[string]any

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		captured = req
		body, err := io.ReadAll(req.Body)
		if err != nil {
			t.Fatalf("read request body: %v", err)
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal request body: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"id":"ch_123","redirectUrl":"https://pay.test/ch_123","status":"created"}`), nil
	})

	client, err := NewClient("sk_test", WithBaseURL("http://gateway.test/api/"), WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	checkout, err := client.CreateCheckout(context.Background(), CheckoutRequest{
		Amount:         12500,
		Currency:       "ZAR",
		SuccessURL:     "https://shop.test/success",
		CancelURL:      "https://shop.test/cancel",
		Metadata:       map[string]string{"orderId": "order-1"},
		IdempotencyKey: "order-1",
	})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if checkout.ID != "ch_123" || checkout.RedirectURL != "https://pay.test/ch_123" {
		t.Fatalf("unexpected checkout %+v", checkout)
	}
	if captured.Method != http.MethodPost || captured.URL.String() != "http://gateway.test/api/checkouts" {
		t.Fatalf("unexpected request %s %s", captured.Method, captured.URL)
	}
	if captured.Header.Get("Authorization") != "Bearer sk_test" {
		t.Fatalf("authorization header missing")
	}
	if captured.Header.Get("Idempotency-Key") != "order-1" {
		t.Fatalf("idempotency header missing")
	}
	if payload["amount"] != float64(12500) || payload["currency"] != "ZAR" {
		t.Fatalf("unexpected payload %v", payload)
	}
	metadata, _ := payload["metadata"].(map[string]any)
	if metadata["orderId"] != "order-1" {
		t.Fatalf("metadata not forwarded: %v", payload["metadata"])
	}
	if _, ok := payload["IdempotencyKey"]; ok {
		t.Fatalf("idempotency key must not be serialized")
	}
}

func TestCreateCheckoutGatewayFailure(t *testing.T) {
	rt := roundTripFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadGateway, `upstream down`), nil
	})
	client, err := NewClient("sk_test", WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.CreateCheckout(context.Background(), CheckoutRequest{Amount: 100, Currency: "ZAR"})
	if !pkgerrors.Is(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if cause := errors.Unwrap(err); cause == nil || !strings.Contains(cause.Error(), "status 502") {
		t.Fatalf("expected status in wrapped cause, got %v", cause)
	}
}

func TestCreateCheckoutRejectsIncompleteResponse(t *testing.T) {
	rt := roundTripFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"id":"ch_1"}`), nil
	})
	client, _ := NewClient("sk_test", WithHTTPClient(&http.Client{Transport: rt}))

	_, err := client.CreateCheckout(context.Background(), CheckoutRequest{Amount: 100, Currency: "ZAR"})
	if !pkgerrors.Is(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestCreateCheckoutValidation(t *testing.T) {
	client, _ := NewClient("sk_test")
	if _, err := client.CreateCheckout(context.Background(), CheckoutRequest{Currency: "ZAR"}); !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := NewClient("  "); err == nil {
		t.Fatalf("expected missing key to fail")
	}
}
