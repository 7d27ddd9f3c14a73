// Package backend - адаптер сервиса данных. Для ядра агрегации это
// непрозрачный коллаборатор: выборки ордеров и баланса плюс подписки
// на фид изменений. Здесь он реализован поверх локального storage и
// внутрипроцессного фида.
package backend

import (
	"context"
	"errors"
	"log/slog"

	"copyfund/internal/models"
	"copyfund/internal/storage"
)

// Service реализует контракт сервиса данных
type Service struct {
	storage *storage.Storage
	hub     *Hub
	logger  *slog.Logger
}

// New создает адаптер и подключает фид изменений к storage
func New(st *storage.Storage, logger *slog.Logger) *Service {
	hub := NewHub(logger)
	st.SetNotifier(hub)

	return &Service{
		storage: st,
		hub:     hub,
		logger:  logger,
	}
}

// FetchOrders выбирает ордера пользователя внутри окна вместе с данными
// менторов. Пустая выборка - успех; сбой транспорта заворачивается в
// TransportError, чтобы вызывающий сохранил последний удачный снапшот.
func (s *Service) FetchOrders(ctx context.Context, userID int64, win models.Window) ([]models.Order, error) {
	orders, err := s.storage.ListOrders(ctx, userID, win)
	if err != nil {
		return nil, &TransportError{Op: "fetch orders", Err: err}
	}

	return orders, nil
}

// FetchBalance выбирает баланс счёта пользователя.
// Отсутствие записи отдаётся как нулевой баланс, а не как ошибка.
func (s *Service) FetchBalance(ctx context.Context, userID int64) (models.AccountBalance, error) {
	bal, err := s.storage.GetBalance(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.AccountBalance{UserID: userID}, nil
	}
	if err != nil {
		return models.AccountBalance{}, &TransportError{Op: "fetch balance", Err: err}
	}

	return bal, nil
}

// SubscribeOrderChanges подписывает на изменения ордеров пользователя
func (s *Service) SubscribeOrderChanges(userID int64) *Subscription {
	return s.hub.SubscribeOrders(userID)
}

// SubscribeBalanceChanges подписывает на push-и баланса пользователя
func (s *Service) SubscribeBalanceChanges(userID int64) *Subscription {
	return s.hub.SubscribeBalances(userID)
}

// Hub отдаёт фид изменений (для тестов и shutdown)
func (s *Service) Hub() *Hub {
	return s.hub
}

// Close закрывает все подписки фида
func (s *Service) Close() {
	s.hub.CloseAll()
}
