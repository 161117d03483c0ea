// Package httpx holds the JSON request and response helpers shared by every
// HTTP handler.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"

	"github.com/waitflo/backend/internal/accrual"
	"github.com/waitflo/backend/internal/ingest"
	"github.com/waitflo/backend/internal/ledger"
	"github.com/waitflo/backend/internal/payout"
	"github.com/waitflo/backend/internal/reporting"
	"github.com/waitflo/backend/internal/repository"
)

const maxBodyBytes = 1 << 20

// ErrBadRequest wraps malformed or invalid request bodies and query strings.
var ErrBadRequest = errors.New("bad request")

var validate = validator.New(validator.WithRequiredStructEnabled())

type ErrorBody struct {
	Status  string         `json:"status"`
	Error   string         `json:"error"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorBody{Status: "error", Error: code, Message: message})
}

// Decode reads a JSON body into dst and runs its validate tags.
func Decode(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", ErrBadRequest)
		}
		return fmt.Errorf("%w: invalid JSON: %v", ErrBadRequest, err)
	}
	return Validate(dst)
}

// Validate checks a struct's validate tags and reports the failing fields.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: invalid fields: %s", ErrBadRequest, strings.Join(fields, ", "))
}

type mapping struct {
	target error
	status int
	code   string
}

var errorMap = []mapping{
	{ErrBadRequest, http.StatusBadRequest, "bad_request"},
	{ingest.ErrInvalidPayload, http.StatusBadRequest, "invalid_payload"},
	{accrual.ErrInvalidEvent, http.StatusBadRequest, "invalid_event"},
	{ledger.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{reporting.ErrInvalidPeriod, http.StatusBadRequest, "invalid_period"},
	{reporting.ErrInvalidRange, http.StatusBadRequest, "invalid_range"},
	{reporting.ErrRangeTooLarge, http.StatusBadRequest, "range_too_large"},
	{accrual.ErrTemplateNotFound, http.StatusUnprocessableEntity, "template_not_found"},
	{payout.ErrBelowMinimumThreshold, http.StatusUnprocessableEntity, "below_minimum_threshold"},
	{payout.ErrAmountExceedsBalance, http.StatusUnprocessableEntity, "amount_exceeds_balance"},
	{ledger.ErrNegativeBalance, http.StatusUnprocessableEntity, "negative_balance"},
	{payout.ErrAccountDisabled, http.StatusForbidden, "account_disabled"},
	{ledger.ErrReservedFunds, http.StatusConflict, "funds_reserved"},
	{payout.ErrRequestAlreadyPending, http.StatusConflict, "request_already_pending"},
	{payout.ErrAlreadyDecided, http.StatusConflict, "already_decided"},
	{payout.ErrNotApproved, http.StatusConflict, "not_approved"},
	{payout.ErrNotFound, http.StatusNotFound, "not_found"},
	{ledger.ErrAccountNotFound, http.StatusNotFound, "not_found"},
	{reporting.ErrAccountNotFound, http.StatusNotFound, "not_found"},
	{repository.ErrNotFound, http.StatusNotFound, "not_found"},
	{ledger.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage_unavailable"},
	{ledger.ErrRetryExhausted, http.StatusServiceUnavailable, "storage_unavailable"},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, "storage_unavailable"},
}

// Classify returns the HTTP status and error code for err.
func Classify(err error) (int, string) {
	for _, m := range errorMap {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// Error writes err as a JSON error. Client errors carry the error text and,
// for payout eligibility failures, the numbers the dashboard renders. Server
// errors are logged, reported to Sentry, and returned without detail.
func Error(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, code := Classify(err)
	body := ErrorBody{Status: "error", Error: code}

	if status >= 500 {
		if log == nil {
			log = slog.Default()
		}
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
		report(r, err)
		switch status {
		case http.StatusServiceUnavailable:
			body.Message = "storage is temporarily unavailable, retry later"
		default:
			body.Message = "an internal error occurred"
		}
		WriteJSON(w, status, body)
		return
	}

	body.Message = err.Error()
	var te *payout.ThresholdError
	var be *payout.BalanceError
	switch {
	case errors.As(err, &te):
		body.Details = map[string]any{
			"minimum_cents":   te.MinimumCents,
			"balance_cents":   te.BalanceCents,
			"requested_cents": te.RequestedCents,
			"shortfall_cents": te.ShortfallCents(),
		}
	case errors.As(err, &be):
		body.Details = map[string]any{
			"balance_cents":   be.BalanceCents,
			"requested_cents": be.RequestedCents,
		}
	}
	WriteJSON(w, status, body)
}

func report(r *http.Request, err error) {
	hub := sentry.GetHubFromContext(r.Context())
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.CaptureException(err)
}
