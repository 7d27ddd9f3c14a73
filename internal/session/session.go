// Package session управляет живыми сессиями агрегации: по одной на
// пользователя. Сессия загружает базовый снапшот, подписывается на фид
// изменений и пересчитывает агрегаты при каждом событии, сохраняя
// последний удачный результат при сбоях транспорта.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"copyfund/internal/aggregate"
	"copyfund/internal/backend"
	"copyfund/internal/models"
)

// Backend - контракт сервиса данных, потребляемый сессией
type Backend interface {
	FetchOrders(ctx context.Context, userID int64, win models.Window) ([]models.Order, error)
	FetchBalance(ctx context.Context, userID int64) (models.AccountBalance, error)
	SubscribeOrderChanges(userID int64) *backend.Subscription
	SubscribeBalanceChanges(userID int64) *backend.Subscription
}

// View - последнее известное состояние сессии: агрегаты движка плюс
// авторитетный баланс. При транспортном сбое цифры не обнуляются,
// выставляется только флаг Stale.
type View struct {
	Aggregate aggregate.Snapshot
	Balance   models.AccountBalance
	Stale     bool
}

const (
	fetchTimeout = 10 * time.Second
	backoffBase  = time.Second
	backoffMax   = 30 * time.Second
)

type session struct {
	userID  int64
	backend Backend
	loc     *time.Location
	logger  *slog.Logger

	// Буфер размера 1: дубликаты сигнала схлопываются, пересчёт
	// никогда не накладывается сам на себя
	recompute chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Поля подписок пишет цикл run при переподписке, а читает close
	// из чужой горутины - доступ только под mu
	mu         sync.RWMutex
	orderSub   *backend.Subscription
	balanceSub *backend.Subscription
	view       View
	failures   int
	callbacks  map[int64]func(View)
	nextCB     int64
}

func newSession(userID int64, b Backend, loc *time.Location, logger *slog.Logger) *session {
	ctx, cancel := context.WithCancel(context.Background())

	return &session{
		userID:    userID,
		backend:   b,
		loc:       loc,
		logger:    logger.With(slog.Int64("user_id", userID)),
		recompute: make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		callbacks: make(map[int64]func(View)),
	}
}

// open выполняет первичную загрузку и подписывается на фиды.
// Порядок важен: сначала подписка, потом загрузка - событие, пришедшее
// во время загрузки, просто вызовет лишний пересчёт вместо пробела.
func (s *session) open() error {
	s.mu.Lock()
	s.orderSub = s.backend.SubscribeOrderChanges(s.userID)
	s.balanceSub = s.backend.SubscribeBalanceChanges(s.userID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, fetchTimeout)
	defer cancel()

	bal, err := s.backend.FetchBalance(ctx, s.userID)
	if err != nil {
		s.closeSubs()
		return err
	}

	s.mu.Lock()
	s.view.Balance = bal
	s.mu.Unlock()

	if err := s.loadSnapshot(); err != nil {
		s.closeSubs()
		return err
	}

	go s.run()

	return nil
}

func (s *session) run() {
	defer close(s.done)

	for {
		s.mu.RLock()
		orderCh, balanceCh := s.orderSub.C(), s.balanceSub.C()
		s.mu.RUnlock()

		select {
		case <-s.ctx.Done():
			return

		case <-s.recompute:
			s.recomputeNow()

		case n, ok := <-orderCh:
			if !ok {
				// Фид закрылся неожиданно: переподписка плюс полная
				// перезагрузка, чтобы закрыть возможный пробел
				if !s.resubscribeOrders() {
					return
				}
				s.requestRecompute()
				continue
			}
			if n.Settled {
				s.logger.Info("settlement observed", slog.String("order_id", n.OrderID))
			}
			s.requestRecompute()

		case n, ok := <-balanceCh:
			if !ok {
				if !s.resubscribeBalances() {
					return
				}
				s.refreshBalance()
				continue
			}
			// Выгребаем всё накопившееся: применяется только последний push
			n = s.drainBalance(balanceCh, n)
			if n.Balance != nil {
				s.applyBalance(*n.Balance)
			}
		}
	}
}

// resubscribeOrders заново подписывается на фид ордеров.
// Возвращает false, если сессия уже завершается: свежая подписка в этом
// случае закрывается здесь же, иначе она пережила бы closeSubs.
func (s *session) resubscribeOrders() bool {
	if s.ctx.Err() != nil {
		return false
	}

	s.logger.Warn("order feed closed unexpectedly, resubscribing")

	sub := s.backend.SubscribeOrderChanges(s.userID)
	s.mu.Lock()
	s.orderSub = sub
	s.mu.Unlock()

	if s.ctx.Err() != nil {
		sub.Close()
		return false
	}

	return true
}

func (s *session) resubscribeBalances() bool {
	if s.ctx.Err() != nil {
		return false
	}

	s.logger.Warn("balance feed closed unexpectedly, resubscribing")

	sub := s.backend.SubscribeBalanceChanges(s.userID)
	s.mu.Lock()
	s.balanceSub = sub
	s.mu.Unlock()

	if s.ctx.Err() != nil {
		sub.Close()
		return false
	}

	return true
}

// requestRecompute ставит в очередь сигнал пересчёта. Если пересчёт уже
// запрошен, сигнал схлопывается - "пересчитать ещё раз после текущего".
func (s *session) requestRecompute() {
	if s.ctx.Err() != nil {
		return
	}

	select {
	case s.recompute <- struct{}{}:
	default:
	}
}

// recomputeNow перечитывает набор ордеров и строит новый снапшот.
// Любое событие фида приводит сюда: полная перезагрузка вместо
// инкрементального патча - осознанный размен сложности на корректность.
func (s *session) recomputeNow() {
	if err := s.loadSnapshot(); err != nil {
		s.markStale(err)
	}
}

func (s *session) loadSnapshot() error {
	now := time.Now().UTC()

	ctx, cancel := context.WithTimeout(s.ctx, fetchTimeout)
	defer cancel()

	orders, err := s.backend.FetchOrders(ctx, s.userID, models.Window{})
	if err != nil {
		return err
	}

	// Дневная прибыль считается по отдельной оконной выборке
	dayOrders, err := s.backend.FetchOrders(ctx, s.userID, aggregate.DayWindow(now, s.loc))
	if err != nil {
		return err
	}

	// Сессия могла завершиться, пока шли выборки - поздний результат
	// отбрасываем, не трогая состояние
	if s.ctx.Err() != nil {
		return nil
	}

	snap := aggregate.Compute(orders, dayOrders, now, s.loc)

	s.mu.Lock()
	s.view.Aggregate = snap
	s.view.Stale = false
	s.failures = 0
	view := s.view
	s.mu.Unlock()

	s.fire(view)

	return nil
}

// markStale помечает снапшот устаревшим, сохраняя прежние цифры,
// и планирует повтор с экспоненциальной выдержкой
func (s *session) markStale(err error) {
	s.mu.Lock()
	s.view.Stale = true
	s.failures++
	delay := backoffBase << (s.failures - 1)
	if delay > backoffMax || delay <= 0 {
		delay = backoffMax
	}
	s.mu.Unlock()

	// Транспортный сбой - ожидаемый режим, его чинит повтор;
	// всё остальное заслуживает Error
	logFn := s.logger.Error
	if backend.IsTransport(err) {
		logFn = s.logger.Warn
	}
	logFn("recompute failed, keeping last known snapshot",
		slog.Any("error", err),
		slog.Duration("retry_in", delay))

	time.AfterFunc(delay, s.requestRecompute)
}

// applyBalance атомарно заменяет баланс пришедшими значениями.
// Последняя запись побеждает, частичные поля не сливаются.
func (s *session) applyBalance(bal models.AccountBalance) {
	if s.ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	s.view.Balance = bal
	view := s.view
	s.mu.Unlock()

	s.fire(view)
}

func (s *session) refreshBalance() {
	ctx, cancel := context.WithTimeout(s.ctx, fetchTimeout)
	defer cancel()

	bal, err := s.backend.FetchBalance(ctx, s.userID)
	if err != nil {
		s.logger.Error("balance refresh failed", slog.Any("error", err))
		return
	}

	s.applyBalance(bal)
}

func (s *session) drainBalance(ch <-chan backend.Notice, last backend.Notice) backend.Notice {
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				return last
			}
			if n.Balance != nil {
				last = n
			}
		default:
			return last
		}
	}
}

func (s *session) snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.view
}

func (s *session) onChange(fn func(View)) func() {
	s.mu.Lock()
	id := s.nextCB
	s.nextCB++
	s.callbacks[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.callbacks, id)
		s.mu.Unlock()
	}
}

func (s *session) fire(view View) {
	s.mu.RLock()
	cbs := make([]func(View), 0, len(s.callbacks))
	for _, cb := range s.callbacks {
		cbs = append(cbs, cb)
	}
	s.mu.RUnlock()

	for _, cb := range cbs {
		cb(view)
	}
}

func (s *session) closeSubs() {
	s.mu.RLock()
	orderSub, balanceSub := s.orderSub, s.balanceSub
	s.mu.RUnlock()

	if orderSub != nil {
		orderSub.Close()
	}
	if balanceSub != nil {
		balanceSub.Close()
	}
}

// close завершает сессию: отменяет незавершённые выборки, освобождает
// подписки и дожидается остановки цикла. Повторные вызовы безопасны.
func (s *session) close() {
	s.cancel()
	s.closeSubs()
	<-s.done

	s.mu.Lock()
	s.callbacks = make(map[int64]func(View))
	s.mu.Unlock()
}
