package api

import (
	"net/http"

	"copyfund/internal/api/middleware"

	"github.com/gorilla/mux"
)

// SetupRouter настраивает роутинг для API
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.CORS)

	// Публичные маршруты (не требуют аутентификации)
	r.HandleFunc("/api/auth/login", h.HandleLogin).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/auth/register", h.HandleRegister).Methods("POST", "OPTIONS")
	r.HandleFunc("/health", h.HandleHealth).Methods("GET")

	// Защищенные маршруты (требуют аутентификации)
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Auth(h.authService))

	// Сводка по счёту и живые обновления
	api.HandleFunc("/summary", h.HandleGetSummary).Methods("GET")
	api.HandleFunc("/ws", h.HandleWS).Methods("GET")

	// Ордера и менторы
	api.HandleFunc("/orders", h.HandleGetOrders).Methods("GET")
	api.HandleFunc("/mentors", h.HandleGetMentors).Methods("GET")

	// Управление сессией агрегации
	api.HandleFunc("/session/close", h.HandleCloseSession).Methods("POST")

	return r
}

// HandleHealth возвращает статус здоровья сервиса
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.respondSuccess(w, "OK", map[string]string{
		"status": "healthy",
	})
}
