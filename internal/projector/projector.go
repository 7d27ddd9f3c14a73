// Package projector отображает агрегированное состояние в фиксированную
// схему выдачи для мобильного веба. Никакой бизнес-логики: чистая
// проекция, безопасная для пересчёта на каждый рендер. Округление до
// двух знаков происходит только здесь, никогда раньше.
package projector

import (
	"time"

	"copyfund/internal/models"
	"copyfund/internal/session"

	"github.com/shopspring/decimal"
)

// NoFigure - маркер "нет данных" для отклонённых ордеров без известной
// прибыли. Отличается от "+0.00" у рассчитанных в ноль.
const NoFigure = "--"

// Summary - сводка по счёту для главного экрана
type Summary struct {
	PositionAssets   string `json:"position_assets"`
	FloatingProfit   string `json:"floating_profit"`
	DailyProfit      string `json:"daily_profit"`
	Entrusted        string `json:"entrusted"`
	TotalBalance     string `json:"total_balance"`
	AvailableBalance string `json:"available_balance"`
	Stale            bool   `json:"stale"`

	Pending   []OrderCard `json:"pending"`
	Completed []OrderCard `json:"completed"`
}

// OrderCard - карточка одного ордера в списке
type OrderCard struct {
	ID          string `json:"id"`
	Amount      string `json:"amount"`
	Earnings    string `json:"earnings"`
	Commission  string `json:"commission"`
	Status      string `json:"status"`
	Time        string `json:"time"`
	MentorName  string `json:"mentor_name"`
	MentorYears int    `json:"mentor_years"`
	Avatar      string `json:"avatar"`
}

// Project строит сводку из состояния сессии
func Project(v session.View, loc *time.Location) Summary {
	sum := Summary{
		PositionAssets:   money(v.Aggregate.PositionAssets),
		FloatingProfit:   signed(v.Aggregate.CompletedProfit),
		DailyProfit:      signed(v.Aggregate.DailyProfit),
		Entrusted:        money(v.Aggregate.Entrusted),
		TotalBalance:     money(v.Balance.Total),
		AvailableBalance: money(v.Balance.Available),
		Stale:            v.Stale,
		Pending:          make([]OrderCard, 0, len(v.Aggregate.Pending)),
		Completed:        make([]OrderCard, 0, len(v.Aggregate.Completed)),
	}

	for _, o := range v.Aggregate.Pending {
		sum.Pending = append(sum.Pending, Card(o, loc))
	}
	for _, o := range v.Aggregate.Completed {
		sum.Completed = append(sum.Completed, Card(o, loc))
	}

	return sum
}

// Card строит карточку ордера
func Card(o models.Order, loc *time.Location) OrderCard {
	return OrderCard{
		ID:          o.ID,
		Amount:      money(o.Amount),
		Earnings:    earnings(o),
		Commission:  o.CommissionRate.StringFixed(2) + "%",
		Status:      statusLabel(o),
		Time:        o.CreatedAt.In(loc).Format("01-02 15:04"),
		MentorName:  o.MentorName,
		MentorYears: o.MentorYears,
		Avatar:      o.MentorAvatar,
	}
}

// earnings форматирует прибыль карточки: знак всегда явный, а у ордеров
// без авторитетной прибыли - маркер NoFigure вместо нуля
func earnings(o models.Order) string {
	profit, ok := o.SettledProfit()
	if !ok {
		return NoFigure
	}

	return signed(profit)
}

func statusLabel(o models.Order) string {
	switch {
	case o.ReviewStatus == models.ReviewRejected:
		return "rejected"
	case o.SettleStatus == models.SettleSettled:
		return "settled"
	case o.ReviewStatus == models.ReviewPending:
		return "pending"
	default:
		return "in progress"
	}
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func signed(d decimal.Decimal) string {
	if d.Sign() < 0 {
		return d.StringFixed(2)
	}

	return "+" + d.StringFixed(2)
}
