package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Manager держит по одной активной сессии агрегации на пользователя.
// Повторное открытие для того же пользователя закрывает предыдущую
// сессию - дублирующие штормы пересчётов исключены.
type Manager struct {
	backend Backend
	loc     *time.Location
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[int64]*session
}

// NewManager создает менеджер сессий с опорной таймзоной для дневных окон
func NewManager(b Backend, loc *time.Location, logger *slog.Logger) *Manager {
	return &Manager{
		backend:  b,
		loc:      loc,
		logger:   logger,
		sessions: make(map[int64]*session),
	}
}

// Open открывает сессию пользователя: первичная загрузка снапшота,
// подписки на фиды, запуск цикла пересчёта. Существующая сессия того же
// пользователя закрывается до открытия новой. Вызов без пользователя
// (userID == 0) - no-op, не ошибка.
func (m *Manager) Open(ctx context.Context, userID int64) error {
	if userID == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Старую сессию гасим полностью до подписки новой, иначе её
	// переподписка по закрытому фиду вытеснит свежую подписку
	if prev, ok := m.sessions[userID]; ok {
		prev.close()
		delete(m.sessions, userID)
	}

	s := newSession(userID, m.backend, m.loc, m.logger)
	if err := s.open(); err != nil {
		return err
	}

	m.sessions[userID] = s
	m.logger.Info("aggregation session opened", slog.Int64("user_id", userID))

	return nil
}

// EnsureOpen открывает сессию, если её ещё нет
func (m *Manager) EnsureOpen(ctx context.Context, userID int64) error {
	if userID == 0 {
		return nil
	}

	m.mu.Lock()
	_, ok := m.sessions[userID]
	m.mu.Unlock()

	if ok {
		return nil
	}

	return m.Open(ctx, userID)
}

// Snapshot возвращает последнее известное состояние сессии пользователя.
// Синхронное чтение, без обращений к сервису данных.
func (m *Manager) Snapshot(userID int64) (View, bool) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	m.mu.Unlock()

	if !ok {
		return View{}, false
	}

	return s.snapshot(), true
}

// OnChange регистрирует callback, вызываемый после каждого удачного
// пересчёта. Возвращает функцию отписки.
func (m *Manager) OnChange(userID int64, fn func(View)) (func(), bool) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	m.mu.Unlock()

	if !ok {
		return nil, false
	}

	return s.onChange(fn), true
}

// Close завершает сессию пользователя. Отсутствие сессии - no-op.
func (m *Manager) Close(userID int64) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
	}
	m.mu.Unlock()

	if ok {
		s.close()
		m.logger.Info("aggregation session closed", slog.Int64("user_id", userID))
	}
}

// Shutdown закрывает все сессии параллельно (graceful shutdown)
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[int64]*session)
	m.mu.Unlock()

	var g errgroup.Group
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			s.close()
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Info("all aggregation sessions stopped")
}
