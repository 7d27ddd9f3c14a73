package api

import (
	"log/slog"
	"net/http"
	"time"

	"copyfund/internal/api/middleware"
	"copyfund/internal/projector"
	"copyfund/internal/session"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS решается на уровне деплоя
	},
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// HandleWS отдаёт живые обновления сводки: после каждого удачного
// пересчёта в сокет уходит свежая проекция. Клиент ничего не шлёт,
// его сообщения читаются только ради детекции разрыва.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.sessions.EnsureOpen(r.Context(), userID); err != nil {
		h.respondError(w, http.StatusServiceUnavailable, "aggregation unavailable")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	// Буфер на одно состояние: промежуточные снапшоты вытесняются
	// последним, клиенту нужен только актуальный
	updates := make(chan session.View, 1)

	unsubscribe, ok := h.sessions.OnChange(userID, func(v session.View) {
		for {
			select {
			case updates <- v:
				return
			default:
				select {
				case <-updates:
				default:
				}
			}
		}
	})
	if !ok {
		return
	}
	defer unsubscribe()

	// Первая сводка сразу после подключения
	if view, ok := h.sessions.Snapshot(userID); ok {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(projector.Project(view, h.loc)); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	h.logger.Debug("websocket client connected", slog.Int64("user_id", userID))

	for {
		select {
		case <-done:
			return

		case v := <-updates:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(projector.Project(v, h.loc)); err != nil {
				return
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
