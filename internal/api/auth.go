package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"copyfund/internal/storage"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// HandleRegister регистрирует пользователя и сразу выдаёт токен
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username == "" || len(req.Password) < 6 {
		h.respondError(w, http.StatusBadRequest, "username required, password min 6 chars")
		return
	}

	hash, err := h.authService.HashPassword(req.Password)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	user, err := h.storage.CreateUser(r.Context(), req.Username, hash)
	if err != nil {
		h.logger.Warn("registration failed", slog.String("username", req.Username), slog.Any("error", err))
		h.respondError(w, http.StatusConflict, "user already exists")
		return
	}

	token, err := h.authService.GenerateToken(user.ID, user.Username)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	h.logger.Info("user registered", slog.String("username", user.Username))

	h.respondJSON(w, http.StatusCreated, tokenResponse{Token: token, Username: user.Username})
}

// HandleLogin аутентифицирует пользователя
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.storage.GetUserByUsername(r.Context(), req.Username)
	if errors.Is(err, storage.ErrNotFound) {
		h.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "storage error")
		return
	}

	if err := h.authService.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		h.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.authService.GenerateToken(user.ID, user.Username)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	h.respondJSON(w, http.StatusOK, tokenResponse{Token: token, Username: user.Username})
}
