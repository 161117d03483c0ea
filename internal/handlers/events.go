package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/waitflo/backend/internal/httpx"
	"github.com/waitflo/backend/internal/ingest"
	"github.com/waitflo/backend/internal/models"
)

const maxEventBytes = 64 << 10

// EventProcessor runs one decoded event through attribution and accrual.
type EventProcessor interface {
	Process(ctx context.Context, ev *models.Event) (*ingest.Outcome, error)
}

// EventHandler serves POST /v1/events for the upstream web layer.
type EventHandler struct {
	Schema   *ingest.Schema
	Pipeline EventProcessor
	Logger   *slog.Logger
}

// Failures use httpx.ErrorBody, so every response carries "status" and
// rejected events carry "error".
type eventResponse struct {
	Status  string                `json:"status"`
	EventID string                `json:"event_id"`
	Entries []*models.LedgerEntry `json:"entries,omitempty"`
}

// Ingest handles POST /v1/events.
// Schema check -> attribution -> accrual -> {status, error?, entries?}.
func (h *EventHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "event body exceeds 64KiB")
			return
		}
		httpx.Error(w, r, h.Logger, errors.Join(httpx.ErrBadRequest, err))
		return
	}

	ev, err := h.Schema.Decode(body)
	if err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}

	out, err := h.Pipeline.Process(r.Context(), ev)
	if err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}

	status := http.StatusCreated
	if out.Status == ingest.StatusDuplicate {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, eventResponse{Status: out.Status, EventID: out.EventID, Entries: out.Entries})
}
