package dashboard

import (
	"net/http"

	"github.com/waitflo/backend/internal/httpx"
	"github.com/waitflo/backend/internal/middleware"
)

type createKeyBody struct {
	Label string `json:"label" validate:"required,max=100"`
}

// GET /api/v1/admin/api-keys
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.List(r.Context())
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// POST /api/v1/admin/api-keys. The raw key is only ever returned here.
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var body createKeyBody
	if err := httpx.Decode(r, &body); err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	k, raw, err := middleware.NewAPIKey(body.Label)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	if err := h.keys.Create(r.Context(), k); err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	h.log.Info("ingest key created", "key_id", k.ID, "label", k.Label)
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"id":         k.ID,
		"label":      k.Label,
		"key_prefix": k.KeyPrefix,
		"is_active":  k.IsActive,
		"raw_key":    raw,
	})
}

// DELETE /api/v1/admin/api-keys/{id}
func (h *Handler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	if err := h.keys.Deactivate(r.Context(), id); err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	h.log.Info("ingest key revoked", "key_id", id)
	w.WriteHeader(http.StatusNoContent)
}
