package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "payment_events_webhook_id_key"}
	pqErr := &pq.Error{Code: "23505", Constraint: "orders_order_number_key"}

	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "pgconn any", err: fmt.Errorf("insert: %w", pgErr), want: true},
		{name: "pgconn match", err: pgErr, constraint: "payment_events_webhook_id_key", want: true},
		{name: "pgconn other constraint", err: pgErr, constraint: "orders_order_number_key", want: false},
		{name: "pq match", err: pqErr, constraint: "orders_order_number_key", want: true},
		{name: "sqlite", err: errors.New("UNIQUE constraint failed: payment_events.webhook_id"), constraint: "webhook_id", want: true},
		{name: "sqlite other column", err: errors.New("UNIQUE constraint failed: orders.order_number"), constraint: "delivery_proofs.order_id", want: false},
		{name: "plain", err: errors.New("connection refused"), want: false},
	}

	for _, tt := range tests {
		if got := IsUniqueViolation(tt.err, tt.constraint); got != tt.want {
			t.Fatalf("%s: expected %v got %v", tt.name, tt.want, got)
		}
	}
}

func TestIsUniqueViolationAcceptsEitherBackendName(t *testing.T) {
	names := []string{"idx_delivery_proofs_order_id", "delivery_proofs.order_id"}

	if !IsUniqueViolation(&pgconn.PgError{Code: "23505", ConstraintName: "idx_delivery_proofs_order_id"}, names...) {
		t.Fatal("postgres index name should match")
	}
	if !IsUniqueViolation(errors.New("UNIQUE constraint failed: delivery_proofs.order_id"), names...) {
		t.Fatal("sqlite column reference should match")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23505", ConstraintName: "delivery_proofs_pkey"}, names...) {
		t.Fatal("primary key collision is a different constraint")
	}
	if !IsUniqueViolation(errors.New("UNIQUE constraint failed: delivery_proofs.id")) {
		t.Fatal("no names matches any unique violation")
	}
}

func TestIsRetryableTx(t *testing.T) {
	if !IsRetryableTx(fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"})) {
		t.Fatal("serialization failure should be retryable")
	}
	if !IsRetryableTx(&pq.Error{Code: "40P01"}) {
		t.Fatal("deadlock should be retryable")
	}
	if IsRetryableTx(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("unique violation is not retryable")
	}
	if IsRetryableTx(errors.New("connection refused")) {
		t.Fatal("plain errors are not retryable")
	}
}
