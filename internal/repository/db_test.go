package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "payout_requests_one_unresolved"})
	if !IsUniqueViolation(err, "") {
		t.Error("any constraint should match")
	}
	if !IsUniqueViolation(err, "payout_requests_one_unresolved") {
		t.Error("named constraint should match")
	}
	if IsUniqueViolation(err, "events_pkey") {
		t.Error("other constraint should not match")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: pgCheckViolation}, "") {
		t.Error("check violation is not a unique violation")
	}
}

func TestIsCheckViolation(t *testing.T) {
	if !IsCheckViolation(fmt.Errorf("update: %w", &pgconn.PgError{Code: pgCheckViolation, ConstraintName: "accounts_balance_cents_check"})) {
		t.Error("wrapped check violation should match")
	}
	if IsCheckViolation(&pgconn.PgError{Code: pgUniqueViolation}) || IsCheckViolation(errors.New("boom")) {
		t.Error("unexpected match")
	}
}

func TestNotFound(t *testing.T) {
	if !errors.Is(notFound(pgx.ErrNoRows), ErrNotFound) {
		t.Error("no rows should map to ErrNotFound")
	}
	other := errors.New("boom")
	if notFound(other) != other {
		t.Error("other errors pass through")
	}
}
