package backend

import (
	"log/slog"
	"sync"

	"copyfund/internal/models"
)

// NoticeKind - тип уведомления фида изменений
type NoticeKind string

const (
	NoticeOrderInsert NoticeKind = "ORDER_INSERT"
	NoticeOrderUpdate NoticeKind = "ORDER_UPDATE"
	NoticeOrderDelete NoticeKind = "ORDER_DELETE"
	NoticeBalance     NoticeKind = "BALANCE"
)

// Notice - одно уведомление об изменении записи.
// Доставка at-least-once: дубликаты допустимы, получатель в любом случае
// делает полную перезагрузку вместо инкрементального применения.
type Notice struct {
	Kind    NoticeKind
	UserID  int64
	OrderID string
	Settled bool // переход ордера в SETTLED
	Balance *models.AccountBalance
}

type table string

const (
	tableOrders   table = "orders"
	tableBalances table = "balances"
)

type topic struct {
	userID int64
	table  table
}

// Subscription - подписка на фид изменений одной таблицы одного пользователя
type Subscription struct {
	ch    chan Notice
	hub   *Hub
	topic topic
	once  sync.Once
}

// C возвращает канал уведомлений. Канал закрывается при Close
// и при вытеснении подписки новой подпиской на ту же пару.
func (s *Subscription) C() <-chan Notice {
	return s.ch
}

// Close освобождает канал подписки. Повторные вызовы безопасны.
// Снятие с учёта и закрытие канала происходят под блокировкой фида:
// publish шлёт в канал под той же блокировкой и потому никогда не
// попадает в уже закрытый канал.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()

		if s.hub.subs[s.topic] == s {
			delete(s.hub.subs, s.topic)
		}
		close(s.ch)
	})
}

// Hub - внутрипроцессный фид изменений. На пару (пользователь, таблица)
// допускается один активный подписчик: повторная подписка закрывает
// предыдущую, чтобы не плодить дублирующие пересчёты.
type Hub struct {
	mu     sync.Mutex
	subs   map[topic]*Subscription
	logger *slog.Logger
}

// NewHub создает новый фид изменений
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[topic]*Subscription),
		logger: logger,
	}
}

const subscriptionBuffer = 16

// SubscribeOrders подписывает на изменения ордеров пользователя
func (h *Hub) SubscribeOrders(userID int64) *Subscription {
	return h.subscribe(userID, tableOrders)
}

// SubscribeBalances подписывает на push-и баланса пользователя
func (h *Hub) SubscribeBalances(userID int64) *Subscription {
	return h.subscribe(userID, tableBalances)
}

func (h *Hub) subscribe(userID int64, tbl table) *Subscription {
	h.mu.Lock()
	prev := h.subs[topic{userID, tbl}]
	sub := &Subscription{
		ch:    make(chan Notice, subscriptionBuffer),
		hub:   h,
		topic: topic{userID, tbl},
	}
	h.subs[sub.topic] = sub
	h.mu.Unlock()

	// Вытесненную подписку закрываем вне блокировки: её Close берёт ту же
	if prev != nil {
		prev.Close()
		h.logger.Debug("subscription replaced",
			slog.Int64("user_id", userID),
			slog.String("table", string(tbl)))
	}

	return sub
}

func (h *Hub) publish(userID int64, tbl table, n Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := h.subs[topic{userID, tbl}]
	if sub == nil {
		return
	}

	// Отправка неблокирующая, поэтому держать блокировку безопасно.
	// При переполненном буфере уведомление можно отбросить - в очереди
	// уже лежит сигнал, а получатель перечитывает весь набор записей,
	// а не конкретное изменение.
	select {
	case sub.ch <- n:
	default:
		h.logger.Warn("change feed buffer full, notice dropped",
			slog.Int64("user_id", userID),
			slog.String("table", string(tbl)))
	}
}

// OrderChanged публикует уведомление об изменении ордера (storage.Notifier)
func (h *Hub) OrderChanged(userID int64, orderID string, kind string, settled bool) {
	var nk NoticeKind
	switch kind {
	case "insert":
		nk = NoticeOrderInsert
	case "delete":
		nk = NoticeOrderDelete
	default:
		nk = NoticeOrderUpdate
	}

	h.publish(userID, tableOrders, Notice{
		Kind:    nk,
		UserID:  userID,
		OrderID: orderID,
		Settled: settled,
	})
}

// BalanceChanged публикует push-уведомление о новом балансе (storage.Notifier)
func (h *Hub) BalanceChanged(bal models.AccountBalance) {
	b := bal
	h.publish(bal.UserID, tableBalances, Notice{
		Kind:    NoticeBalance,
		UserID:  bal.UserID,
		Balance: &b,
	})
}

// CloseAll закрывает все активные подписки (shutdown)
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}
