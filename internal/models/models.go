// Package models содержит доменные сущности сервиса копи-трейдинга.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettleStatus - статус расчёта по ордеру
type SettleStatus string

const (
	SettleUnsettled SettleStatus = "UNSETTLED" // ордер в работе, прибыль неизвестна
	SettleSettled   SettleStatus = "SETTLED"   // расчёт завершён, прибыль зафиксирована
)

// ReviewStatus - статус модерации ордера (вторая, независимая ось статусов)
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "PENDING"
	ReviewApproved ReviewStatus = "APPROVED"
	ReviewRejected ReviewStatus = "REJECTED"
	ReviewSettled  ReviewStatus = "SETTLED"
)

// Order представляет ордер копи-трейдинга
type Order struct {
	ID             string           `json:"id"`
	UserID         int64            `json:"user_id"`
	MentorID       int64            `json:"mentor_id"`
	Amount         decimal.Decimal  `json:"amount"`
	CommissionRate decimal.Decimal  `json:"commission_rate"`
	Profit         *decimal.Decimal `json:"profit,omitempty"` // nil = прибыль неизвестна
	SettleStatus   SettleStatus     `json:"settle_status"`
	ReviewStatus   ReviewStatus     `json:"review_status"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`

	// Joined fields из таблицы менторов
	MentorName   string `json:"mentor_name,omitempty"`
	MentorYears  int    `json:"mentor_years,omitempty"`
	MentorAvatar string `json:"mentor_avatar,omitempty"`
}

// Completed сообщает, попадает ли ордер в корзину завершённых.
// Отклонение модерацией завершает ордер независимо от статуса расчёта.
func (o Order) Completed() bool {
	return o.ReviewStatus == ReviewRejected || o.SettleStatus == SettleSettled
}

// SettledProfit возвращает прибыль ордера, если она авторитетна.
// Прибыли доверяем только после расчёта; у незакрытых и у отклонённых
// без расчёта она считается неизвестной.
func (o Order) SettledProfit() (decimal.Decimal, bool) {
	if o.SettleStatus != SettleSettled || o.Profit == nil {
		return decimal.Decimal{}, false
	}
	return *o.Profit, true
}

// Mentor представляет наставника, чьи сделки копируются
type Mentor struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Years  int    `json:"years"`
	Avatar string `json:"avatar"`
}

// Значения-заглушки для ордеров с отсутствующим ментором
const (
	MentorNamePlaceholder   = "—"
	MentorAvatarPlaceholder = "/static/avatar_default.png"
)

// AccountBalance - баланс счёта пользователя. Мутируется только внешними
// проводками (пополнение, вывод, расчёты), сервис его никогда не вычисляет.
type AccountBalance struct {
	UserID    int64           `json:"user_id"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
}

// User представляет пользователя веб-приложения
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Window - временное окно выборки ордеров по created_at.
// Нулевые границы означают отсутствие ограничения.
type Window struct {
	From time.Time
	To   time.Time
}

// Unbounded сообщает, что окно не ограничено
func (w Window) Unbounded() bool {
	return w.From.IsZero() && w.To.IsZero()
}

// Contains проверяет попадание момента времени в окно (границы включительно)
func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && t.After(w.To) {
		return false
	}
	return true
}
