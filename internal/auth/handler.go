package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/waitflo/backend/internal/httpx"
	"github.com/waitflo/backend/internal/models"
)

type RegisterRequest struct {
	Email       string   `json:"email" validate:"required,email,max=254"`
	Password    string   `json:"password" validate:"required,min=8,max=72"`
	DisplayName string   `json:"display_name" validate:"required,max=100"`
	Roles       []string `json:"roles" validate:"required,min=1,dive,oneof=affiliate creator buyer"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AccountResponse struct {
	ID           string   `json:"id"`
	Email        string   `json:"email"`
	DisplayName  string   `json:"display_name"`
	Roles        []string `json:"roles"`
	BalanceCents int64    `json:"balance_cents"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	acc, err := h.svc.Register(r.Context(), req.Email, req.Password, req.DisplayName, req.Roles)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateEmail):
			httpx.WriteError(w, http.StatusConflict, "email_taken", err.Error())
		case errors.Is(err, ErrInvalidRole):
			httpx.WriteError(w, http.StatusBadRequest, "invalid_role", err.Error())
		default:
			httpx.Error(w, r, h.log, err)
		}
		return
	}
	h.log.Info("account registered", "account_id", acc.ID, "roles", acc.Roles)
	httpx.WriteJSON(w, http.StatusCreated, accountToResponse(acc))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
		case errors.Is(err, ErrAccountDisabled):
			httpx.WriteError(w, http.StatusForbidden, "account_disabled", err.Error())
		default:
			httpx.Error(w, r, h.log, err)
		}
		return
	}
	httpx.WriteJSON(w, http.StatusOK, LoginResponse{Token: token})
}

func accountToResponse(a *models.Account) AccountResponse {
	return AccountResponse{
		ID:           a.ID.String(),
		Email:        a.Email,
		DisplayName:  a.Name,
		Roles:        a.Roles,
		BalanceCents: a.BalanceCents,
	}
}
