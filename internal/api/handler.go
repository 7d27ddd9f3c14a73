// Package api обрабатывает HTTP запросы мобильного веб-приложения.
// Тонкий слой над менеджером сессий агрегации: вся бизнес-логика живёт
// ниже, здесь только авторизация, проекция и доставка.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"copyfund/internal/api/auth"
	"copyfund/internal/session"
	"copyfund/internal/storage"
)

// Handler обрабатывает API запросы
type Handler struct {
	storage     *storage.Storage
	authService *auth.Service
	sessions    *session.Manager
	loc         *time.Location
	logger      *slog.Logger
}

func New(
	st *storage.Storage,
	authService *auth.Service,
	sessions *session.Manager,
	loc *time.Location,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		storage:     st,
		authService: authService,
		sessions:    sessions,
		loc:         loc,
		logger:      logger,
	}
}

// Helper функции для JSON ответов

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) respondError(w http.ResponseWriter, statusCode int, message string) {
	h.respondJSON(w, statusCode, ErrorResponse{Error: message})
}

func (h *Handler) respondSuccess(w http.ResponseWriter, message string, data any) {
	h.respondJSON(w, http.StatusOK, SuccessResponse{
		Message: message,
		Data:    data,
	})
}
