package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestCodeMetadata(t *testing.T) {
	cases := map[Code]Metadata{
		CodeValidation:    {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true},
		CodeUnauthorized:  {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required", Security: true},
		CodeForbidden:     {HTTPStatus: http.StatusForbidden, PublicMessage: "access denied", Security: true},
		CodeNotFound:      {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found"},
		CodeConflict:      {HTTPStatus: http.StatusBadRequest, PublicMessage: "conflict detected", DetailsAllowed: true},
		CodeStateConflict: {HTTPStatus: http.StatusBadRequest, PublicMessage: "state transition disallowed", DetailsAllowed: true},
		CodeIntegrity:     {HTTPStatus: http.StatusBadRequest, PublicMessage: "payload integrity check failed", Security: true},
		CodeIdempotency:   {HTTPStatus: http.StatusConflict, PublicMessage: "idempotency key reused", DetailsAllowed: true},
		CodeRateLimit:     {HTTPStatus: http.StatusTooManyRequests, PublicMessage: "rate limit exceeded"},
		CodeInternal:      {HTTPStatus: http.StatusInternalServerError, PublicMessage: "internal server error", Retryable: true},
		CodeDependency:    {HTTPStatus: http.StatusBadGateway, PublicMessage: "dependency unavailable", Retryable: true, DetailsAllowed: true},
	}
	for code, want := range cases {
		got := code.Metadata()
		assert.Equal(t, want, got, code)
		assert.Equal(t, want.HTTPStatus < http.StatusInternalServerError, got.ClientFault(), code)
	}
	assert.Len(t, catalog, len(cases), "every cataloged code needs a case")
}

func TestUnknownCodeDefaultsToInternal(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, MetadataFor("SOMETHING_UNKNOWN").HTTPStatus)

	var zero Error
	assert.Equal(t, CodeInternal, zero.Code())
	var nilErr *Error
	assert.Equal(t, CodeInternal, nilErr.Code())
	assert.Nil(t, nilErr.WithDetails("x"))
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	detail := map[string]any{"field": "foo"}
	base.WithDetails(detail)
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeForbidden, "no entry")
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestIsMatchesWrappedCode(t *testing.T) {
	inner := New(CodeIntegrity, "signature mismatch")
	outer := fmt.Errorf("handle webhook: %w", inner)
	if !Is(outer, CodeIntegrity) {
		t.Fatalf("expected wrapped integrity error to match")
	}
	if Is(outer, CodeValidation) {
		t.Fatalf("unexpected match on validation code")
	}
	if Is(stdErrors.New("plain"), CodeInternal) {
		t.Fatalf("plain errors carry no code")
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Wrap(CodeDependency, stdErrors.New("timeout"), "create checkout")
	if got := err.Error(); got != "DEPENDENCY_ERROR: create checkout: timeout" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := Newf(CodeNotFound, "order %s not found", "ORD-1").Error(); got != "NOT_FOUND: order ORD-1 not found" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Fatal("nil is not retryable")
	}
	if !IsRetryable(stdErrors.New("socket closed")) {
		t.Fatal("untyped errors are treated as internal")
	}
	if IsRetryable(New(CodeConflict, "already assigned")) {
		t.Fatal("conflicts are final")
	}
	if !IsRetryable(fmt.Errorf("notify: %w", New(CodeDependency, "sms gateway down"))) {
		t.Fatal("dependency failures are retryable")
	}
}

func TestDumpCapturesStepAndPostgresFields(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "orders_order_number_key", TableName: "orders"}
	err := Wrap(CodeInternal, fmt.Errorf("insert: %w", pgErr), "create order").
		WithDetails(map[string]any{"step": "create_order"})

	dump := Dump(err)
	if dump.Code != CodeInternal || dump.Step != "create_order" {
		t.Fatalf("unexpected dump %+v", dump)
	}
	if dump.PG == nil || dump.PG.Constraint != "orders_order_number_key" || dump.PG.Table != "orders" {
		t.Fatalf("expected postgres fields, got %+v", dump.PG)
	}
	if len(dump.Chain) != 3 {
		t.Fatalf("expected three links in chain, got %v", dump.Chain)
	}
	fields := dump.Fields()
	if fields["pg_code"] != "23505" || fields["step"] != "create_order" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestPostgresErrorFromLibPQ(t *testing.T) {
	pg, ok := PostgresError(&pq.Error{Code: "40001", Table: "products"})
	if !ok || pg.Code != "40001" || pg.Table != "products" {
		t.Fatalf("unexpected result %+v %v", pg, ok)
	}
	if _, ok := PostgresError(stdErrors.New("plain")); ok {
		t.Fatal("plain error is not a postgres error")
	}
	if dump := Dump(stdErrors.New("plain")); dump.PG != nil {
		t.Fatal("plain error should not produce pg fields")
	}
}
