// Package admin обрабатывает запросы бэк-офиса: менторы, модерация
// ордеров (approve/reject/settle) и проводки по балансам. Все мутации
// идут через storage и дальше попадают в фид изменений, откуда их
// подхватывают живые сессии агрегации.
package admin

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"copyfund/internal/models"
	"copyfund/internal/storage"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// Handler обрабатывает запросы бэк-офиса
type Handler struct {
	storage    *storage.Storage
	adminToken string
	logger     *slog.Logger
}

func New(st *storage.Storage, adminToken string, logger *slog.Logger) *Handler {
	return &Handler{
		storage:    st,
		adminToken: adminToken,
		logger:     logger,
	}
}

// SetupRouter настраивает роутинг бэк-офиса
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(h.tokenAuth)

	admin.HandleFunc("/mentors", h.HandleCreateMentor).Methods("POST")
	admin.HandleFunc("/mentors", h.HandleListMentors).Methods("GET")

	admin.HandleFunc("/orders", h.HandleCreateOrder).Methods("POST")
	admin.HandleFunc("/orders/{id}/approve", h.HandleApproveOrder).Methods("PUT")
	admin.HandleFunc("/orders/{id}/reject", h.HandleRejectOrder).Methods("PUT")
	admin.HandleFunc("/orders/{id}/settle", h.HandleSettleOrder).Methods("PUT")
	admin.HandleFunc("/orders/{id}", h.HandleDeleteOrder).Methods("DELETE")

	admin.HandleFunc("/balance/{userID:[0-9]+}", h.HandlePosting).Methods("POST")

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		h.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}).Methods("GET")

	return r
}

// tokenAuth проверяет статический токен бэк-офиса
func (h *Handler) tokenAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// === Mentors ===

type mentorRequest struct {
	Name   string `json:"name"`
	Years  int    `json:"years"`
	Avatar string `json:"avatar"`
}

func (h *Handler) HandleCreateMentor(w http.ResponseWriter, r *http.Request) {
	var req mentorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.storage.CreateMentor(r.Context(), models.Mentor{
		Name:   req.Name,
		Years:  req.Years,
		Avatar: req.Avatar,
	})
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to create mentor")
		return
	}

	h.respondJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (h *Handler) HandleListMentors(w http.ResponseWriter, r *http.Request) {
	mentors, err := h.storage.ListMentors(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to fetch mentors")
		return
	}

	h.respondJSON(w, http.StatusOK, mentors)
}

// === Orders ===

type createOrderRequest struct {
	UserID         int64  `json:"user_id"`
	MentorID       int64  `json:"mentor_id"`
	Amount         string `json:"amount"`
	CommissionRate string `json:"commission_rate"`
}

// HandleCreateOrder создает ордер копи-трейдинга (вверение средств)
func (h *Handler) HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.Sign() < 0 {
		h.respondError(w, http.StatusBadRequest, "amount must be a non-negative decimal")
		return
	}

	rate := decimal.Zero
	if req.CommissionRate != "" {
		if rate, err = decimal.NewFromString(req.CommissionRate); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid commission_rate")
			return
		}
	}

	order := models.Order{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		MentorID:       req.MentorID,
		Amount:         amount,
		CommissionRate: rate,
		SettleStatus:   models.SettleUnsettled,
		ReviewStatus:   models.ReviewPending,
		CreatedAt:      time.Now().UTC(),
	}

	if err := h.storage.CreateOrder(r.Context(), order); err != nil {
		h.logger.Error("failed to create order", slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "failed to create order")
		return
	}

	h.logger.Info("order created",
		slog.String("order_id", order.ID),
		slog.Int64("user_id", order.UserID))

	h.respondJSON(w, http.StatusCreated, map[string]string{"id": order.ID})
}

func (h *Handler) HandleApproveOrder(w http.ResponseWriter, r *http.Request) {
	h.reviewOrder(w, r, func(id string) error {
		return h.storage.ApproveOrder(r.Context(), id)
	})
}

func (h *Handler) HandleRejectOrder(w http.ResponseWriter, r *http.Request) {
	h.reviewOrder(w, r, func(id string) error {
		return h.storage.RejectOrder(r.Context(), id)
	})
}

type settleRequest struct {
	Profit string `json:"profit"`
}

// HandleSettleOrder фиксирует расчёт по ордеру с итоговой прибылью
func (h *Handler) HandleSettleOrder(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	profit, err := decimal.NewFromString(req.Profit)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "profit must be a decimal")
		return
	}

	h.reviewOrder(w, r, func(id string) error {
		return h.storage.SettleOrder(r.Context(), id, profit)
	})
}

func (h *Handler) HandleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	h.reviewOrder(w, r, func(id string) error {
		return h.storage.DeleteOrder(r.Context(), id)
	})
}

func (h *Handler) reviewOrder(w http.ResponseWriter, r *http.Request, op func(id string) error) {
	id := mux.Vars(r)["id"]

	err := op(id)
	if errors.Is(err, storage.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		h.logger.Error("order operation failed", slog.String("order_id", id), slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "operation failed")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"id": id})
}

// === Balance postings ===

type postingRequest struct {
	DeltaTotal     string `json:"delta_total"`
	DeltaAvailable string `json:"delta_available"`
}

// HandlePosting проводит внешнюю операцию по счёту (пополнение/вывод).
// Новый баланс уходит push-ем в сессию пользователя.
func (h *Handler) HandlePosting(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(mux.Vars(r)["userID"], 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req postingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	deltaTotal, err := decimal.NewFromString(req.DeltaTotal)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "delta_total must be a decimal")
		return
	}

	deltaAvailable, err := decimal.NewFromString(req.DeltaAvailable)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "delta_available must be a decimal")
		return
	}

	if err := h.storage.ApplyPosting(r.Context(), userID, deltaTotal, deltaAvailable); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "balance not found")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "posting failed")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"status": "posted"})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) respondError(w http.ResponseWriter, statusCode int, message string) {
	h.respondJSON(w, statusCode, errorResponse{Error: message})
}
