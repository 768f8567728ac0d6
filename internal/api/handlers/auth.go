package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/baharkarakas/balance-ledger/internal/api/httpx"
	"github.com/baharkarakas/balance-ledger/internal/middleware"
	"github.com/baharkarakas/balance-ledger/internal/services"
)

type AuthHandler struct {
	Users *services.UserService
}

func NewAuthHandler(us *services.UserService) *AuthHandler {
	return &AuthHandler{Users: us}
}

type registerReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed body", nil)
		return
	}
	u, err := h.Users.Register(r.Context(), middleware.Actor(r.Context()), req.Username, req.Email, req.Password)
	switch {
	case errors.Is(err, services.ErrInvalidUser):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	case errors.Is(err, services.ErrUserExists):
		httpx.WriteError(w, http.StatusConflict, "user_exists", err.Error(), nil)
		return
	case err != nil:
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, httpx.Envelope{Success: true, Result: u})
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed body", nil)
		return
	}
	pair, err := h.Users.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, services.ErrInvalidCredentials) {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials", nil)
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteOK(w, pair)
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "refresh_token required", nil)
		return
	}
	pair, err := h.Users.Refresh(r.Context(), req.RefreshToken)
	if errors.Is(err, services.ErrInvalidCredentials) {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid refresh token", nil)
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteOK(w, pair)
}
