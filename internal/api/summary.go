package api

import (
	"log/slog"
	"net/http"
	"time"

	"copyfund/internal/aggregate"
	"copyfund/internal/api/middleware"
	"copyfund/internal/models"
	"copyfund/internal/projector"
)

// HandleGetSummary отдаёт сводку по счёту. Сессия агрегации открывается
// лениво при первом обращении, дальше сводка читается из последнего
// известного состояния без похода в сервис данных.
func (h *Handler) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.sessions.EnsureOpen(r.Context(), userID); err != nil {
		h.logger.Error("failed to open aggregation session",
			slog.Int64("user_id", userID), slog.Any("error", err))
		h.respondError(w, http.StatusServiceUnavailable, "aggregation unavailable")
		return
	}

	view, ok := h.sessions.Snapshot(userID)
	if !ok {
		h.respondError(w, http.StatusServiceUnavailable, "no session")
		return
	}

	h.respondJSON(w, http.StatusOK, projector.Project(view, h.loc))
}

// HandleGetOrders отдаёт карточки ордеров пользователя.
// ?window=today ограничивает выборку текущим днём опорной таймзоны.
func (h *Handler) HandleGetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var win models.Window
	if r.URL.Query().Get("window") == "today" {
		win = aggregate.DayWindow(time.Now().UTC(), h.loc)
	}

	orders, err := h.storage.ListOrders(r.Context(), userID, win)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to fetch orders")
		return
	}

	cards := make([]projector.OrderCard, 0, len(orders))
	for _, o := range orders {
		cards = append(cards, projector.Card(o, h.loc))
	}

	h.respondSuccess(w, "", cards)
}

// HandleGetMentors отдаёт список менторов
func (h *Handler) HandleGetMentors(w http.ResponseWriter, r *http.Request) {
	mentors, err := h.storage.ListMentors(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to fetch mentors")
		return
	}

	h.respondSuccess(w, "", mentors)
}

// HandleCloseSession завершает сессию агрегации пользователя (logout)
func (h *Handler) HandleCloseSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	h.sessions.Close(userID)
	h.respondSuccess(w, "session closed", nil)
}
