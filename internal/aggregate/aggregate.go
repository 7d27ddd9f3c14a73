// Package aggregate реализует движок агрегации позиций и расчётов.
//
// Движок - чистая функция от набора ордеров к агрегированному снапшоту:
// входные данные не мутируются, повторный расчёт по неизменному набору
// даёт идентичный результат. Никакого инкрементального патчинга - при
// любом изменении набора снапшот пересчитывается с нуля.
package aggregate

import (
	"slices"
	"strings"
	"time"

	"copyfund/internal/models"

	"github.com/shopspring/decimal"
)

// Snapshot - агрегированное состояние позиций пользователя.
// Производные данные, владеет ими только движок агрегации.
type Snapshot struct {
	PositionAssets  decimal.Decimal // сумма amount по незакрытым ордерам
	CompletedProfit decimal.Decimal // сумма прибыли по рассчитанным ордерам
	Entrusted       decimal.Decimal // сумма amount по всем ордерам окна
	DailyProfit     decimal.Decimal // прибыль по расчётам за текущий день

	Pending   []models.Order // ордера в работе
	Completed []models.Order // рассчитанные и отклонённые

	ComputedAt time.Time
}

// DayWindow возвращает окно текущего календарного дня опорной таймзоны,
// сконвертированное в UTC. Конверсия до фильтрации исключает сдвиг дня
// на границах суток.
func DayWindow(now time.Time, loc *time.Location) models.Window {
	local := now.In(loc)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	to := from.Add(24*time.Hour - time.Nanosecond)

	return models.Window{
		From: from.UTC(),
		To:   to.UTC(),
	}
}

// Compute строит снапшот по полному набору ордеров окна запроса и по
// отдельной выборке ордеров дневного окна (см. DayWindow). Каждый ордер
// попадает ровно в одну корзину: отклонённые и рассчитанные - в
// завершённые, остальные - в ожидающие.
func Compute(orders, dayOrders []models.Order, now time.Time, loc *time.Location) Snapshot {
	snap := Snapshot{
		PositionAssets:  decimal.Zero,
		CompletedProfit: decimal.Zero,
		Entrusted:       decimal.Zero,
		DailyProfit:     DailyProfit(dayOrders, DayWindow(now, loc)),
		ComputedAt:      now,
	}

	sorted := make([]models.Order, len(orders))
	copy(sorted, orders)
	sortOrders(sorted)

	for _, o := range sorted {
		snap.Entrusted = snap.Entrusted.Add(o.Amount)

		if !o.Completed() {
			snap.PositionAssets = snap.PositionAssets.Add(o.Amount)
			snap.Pending = append(snap.Pending, o)
			continue
		}

		// Отклонённый без расчёта даёт 0 в сумму, но Profit остаётся nil:
		// "нет данных" и "нулевая прибыль" - разные состояния.
		if profit, ok := o.SettledProfit(); ok {
			snap.CompletedProfit = snap.CompletedProfit.Add(profit)
		}

		snap.Completed = append(snap.Completed, o)
	}

	return snap
}

// DailyProfit суммирует прибыль рассчитанных ордеров, созданных внутри окна.
// Окно применяется повторно поверх выборки: защита от расхождения границ
// запроса и границ календарного дня.
func DailyProfit(orders []models.Order, win models.Window) decimal.Decimal {
	total := decimal.Zero

	for _, o := range orders {
		if !win.Contains(o.CreatedAt) {
			continue
		}
		if profit, ok := o.SettledProfit(); ok {
			total = total.Add(profit)
		}
	}

	return total
}

// sortOrders сортирует ордера в обратном хронологическом порядке по времени
// последнего изменения; равные метки упорядочиваются по id для детерминизма.
func sortOrders(orders []models.Order) {
	slices.SortFunc(orders, func(a, b models.Order) int {
		at, bt := effectiveTime(a), effectiveTime(b)
		if !at.Equal(bt) {
			if at.After(bt) {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func effectiveTime(o models.Order) time.Time {
	if !o.UpdatedAt.IsZero() {
		return o.UpdatedAt
	}
	return o.CreatedAt
}
