package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/courier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
)

type fakeStore struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.data[key], _ = value.(string)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key], _ = value.(string)
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func (f *fakeStore) Del(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeStore) only(t *testing.T) idempotencyRecord {
	t.Helper()
	if len(f.data) != 1 {
		t.Fatalf("expected one record, got %d", len(f.data))
	}
	for _, v := range f.data {
		var record idempotencyRecord
		if err := json.Unmarshal([]byte(v), &record); err != nil {
			t.Fatalf("decode record: %v", err)
		}
		return record
	}
	return idempotencyRecord{}
}

func requestWithPattern(method, url, pattern string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, url, body)
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{pattern}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func keyedOrderRequest(key, body string) *http.Request {
	req := requestWithPattern(http.MethodPost, "/api/orders", "/api/orders", strings.NewReader(body))
	req.Header.Set(idempotencyHeader, key)
	return req
}

func decodeErrorCode(t *testing.T, body []byte) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	return payload.Error.Code
}

func TestRouteTTLSelection(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		pattern string
		want    time.Duration
		ok      bool
	}{
		{"place order", http.MethodPost, "/api/orders", defaultIdempotencyTTL, true},
		{"checkout", http.MethodPost, "/api/payments/checkout", criticalIdempotencyTTL, true},
		{"generate payouts", http.MethodPost, "/api/admin/payouts", criticalIdempotencyTTL, true},
		{"list orders", http.MethodGet, "/api/orders", 0, false},
		{"driver accept", http.MethodPost, "/api/driver/orders/accept", 0, false},
		{"empty", http.MethodPost, "", 0, false},
	}

	for _, tt := range tests {
		ttl, ok := routeTTL(tt.method, tt.pattern)
		if ok != tt.ok {
			t.Fatalf("%s: expected ok=%v got %v", tt.name, tt.ok, ok)
		}
		if ok && ttl != tt.want {
			t.Fatalf("%s: expected ttl=%v got %v", tt.name, tt.want, ttl)
		}
	}
}

func TestIdempotencyMiddlewarePassesThroughWithoutHeader(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	})

	for range 2 {
		req := requestWithPattern(http.MethodPost, "/api/orders", "/api/orders", strings.NewReader(`{"foo":"bar"}`))
		resp := httptest.NewRecorder()
		mw(handler).ServeHTTP(resp, req)
		if resp.Code != http.StatusCreated {
			t.Fatalf("expected 201 got %d", resp.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected handler to run for each request, ran %d times", calls)
	}
	if len(store.data) != 0 {
		t.Fatalf("expected nothing stored without a key")
	}
}

func TestIdempotencyMiddlewareReleasesKeyOnFailure(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	status := http.StatusBadGateway
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(status)
	})

	req := requestWithPattern(http.MethodPost, "/api/payments/checkout", "/api/payments/checkout", strings.NewReader(`{}`))
	req.Header.Set(idempotencyHeader, "retry-me")
	mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	if len(store.data) != 0 {
		t.Fatalf("expected failed response to release the key")
	}

	status = http.StatusOK
	retry := requestWithPattern(http.MethodPost, "/api/payments/checkout", "/api/payments/checkout", strings.NewReader(`{}`))
	retry.Header.Set(idempotencyHeader, "retry-me")
	mw(handler).ServeHTTP(httptest.NewRecorder(), retry)
	if calls != 2 {
		t.Fatalf("expected retry to reach the handler, calls=%d", calls)
	}
	for key, ttl := range store.ttls {
		if ttl != criticalIdempotencyTTL {
			t.Fatalf("expected checkout record %s kept for %v, got %v", key, criticalIdempotencyTTL, ttl)
		}
	}
}

func TestIdempotencyMiddlewareReleasesKeyAfterClientDisconnect(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	calls := 0

	req := keyedOrderRequest("hung-up", `{"store":"a"}`)
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mw(failing).ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))
	if len(store.data) != 0 {
		t.Fatalf("expected key released even though the request context was cancelled")
	}

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	})
	resp := httptest.NewRecorder()
	mw(ok).ServeHTTP(resp, keyedOrderRequest("hung-up", `{"store":"a"}`))
	if resp.Code != http.StatusCreated || calls != 2 {
		t.Fatalf("expected retry to run the handler, code=%d calls=%d", resp.Code, calls)
	}
}

func TestIdempotencyMiddlewareStoresResponseAfterClientDisconnect(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)

	req := keyedOrderRequest("hung-up-ok", `{"store":"b"}`)
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.WriteHeader(http.StatusCreated)
	})
	mw(handler).ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))

	if record := store.only(t); record.State != stateCompleted || record.Status != http.StatusCreated {
		t.Fatalf("expected completed 201 record, got %+v", record)
	}
}

func TestIdempotencyMiddlewareReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, keyedOrderRequest("abc", `{"foo":"bar"}`))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected first response 201 got %d", resp.Code)
	}
	if resp.Header().Get(replayHeader) != "" {
		t.Fatal("first response must not be marked as a replay")
	}
	if record := store.only(t); record.State != stateCompleted || record.Status != http.StatusCreated {
		t.Fatalf("unexpected stored record %+v", record)
	}

	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, keyedOrderRequest("abc", `{"foo":"bar"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected replay status 201 got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected content-type header preserved")
	}
	if rec.Header().Get(replayHeader) != "true" {
		t.Fatalf("expected replay marker")
	}
	if strings.TrimSpace(rec.Body.String()) != `{"ok":true}` {
		t.Fatalf("expected stored body got %s", rec.Body.String())
	}
	if calls != 1 {
		t.Fatalf("handler executed %d times, expected 1", calls)
	}
}

func TestIdempotencyMiddlewareRejectsConcurrentRetry(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)

	var inner *httptest.ResponseRecorder
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The retry arrives while the first request still holds the key.
		inner = httptest.NewRecorder()
		mw(http.NotFoundHandler()).ServeHTTP(inner, keyedOrderRequest("dup", `{"n":1}`))
		w.WriteHeader(http.StatusCreated)
	})

	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, keyedOrderRequest("dup", `{"n":1}`))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.Code)
	}
	if inner == nil || inner.Code != http.StatusConflict {
		t.Fatalf("expected concurrent retry to be rejected with 409")
	}
	if code := decodeErrorCode(t, inner.Body.Bytes()); code != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestIdempotencyMiddlewareDetectsBodyChange(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mw(handler).ServeHTTP(httptest.NewRecorder(), keyedOrderRequest("xyz", `{"foo":"bar"}`))

	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, keyedOrderRequest("xyz", `{"foo":"diff"}`))

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	if code := decodeErrorCode(t, resp.Body.Bytes()); code != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("expected error code %s got %s", pkgerrors.CodeIdempotency, code)
	}
}

func TestIdempotencyMiddlewareScopesKeysPerCustomer(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	})

	for range 2 {
		req := keyedOrderRequest("shared-key", `{}`)
		req = req.WithContext(WithActor(req.Context(), uuid.New(), enums.RoleCustomer))
		mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected each customer to get their own key, calls=%d", calls)
	}
	if len(store.data) != 2 {
		t.Fatalf("expected two records, got %d", len(store.data))
	}
}

func TestIdempotencyMiddlewareRejectsOversizedKey(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	resp := httptest.NewRecorder()
	mw(http.NotFoundHandler()).ServeHTTP(resp, keyedOrderRequest(strings.Repeat("k", maxIdempotencyKeyLength+1), `{}`))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
