// Утилита наполнения БД демо-данными: пользователь, менторы и ордера
// во всех состояниях жизненного цикла. Удобно для ручной проверки
// сводки и живых обновлений.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"copyfund/internal/config"
	"copyfund/internal/models"
	"copyfund/internal/storage"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	logger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.Kitchen,
	}))

	cfg := config.Load(logger)

	st, err := storage.New(cfg.DBPath, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()

	hash, _ := bcrypt.GenerateFromPassword([]byte("demo123"), bcrypt.DefaultCost)

	user, err := st.CreateUser(ctx, "demo", string(hash))
	if err != nil {
		logger.Error("Failed to create demo user (already seeded?)", slog.Any("error", err))
		os.Exit(1)
	}

	// Стартовый депозит
	if err := st.ApplyPosting(ctx, user.ID, dec("1000"), dec("1000")); err != nil {
		logger.Error("Failed to post deposit", slog.Any("error", err))
		os.Exit(1)
	}

	mentorID, err := st.CreateMentor(ctx, models.Mentor{
		Name:   "Ли Мин",
		Years:  8,
		Avatar: "/static/mentors/li_min.png",
	})
	if err != nil {
		logger.Error("Failed to create mentor", slog.Any("error", err))
		os.Exit(1)
	}

	_, _ = st.CreateMentor(ctx, models.Mentor{Name: "Анна К.", Years: 5})

	// Ордер в работе
	pending := order(user.ID, mentorID, "100")
	must(logger, st.CreateOrder(ctx, pending))

	// Рассчитанный ордер с прибылью
	settled := order(user.ID, mentorID, "200")
	must(logger, st.CreateOrder(ctx, settled))
	must(logger, st.SettleOrder(ctx, settled.ID, dec("15.5")))

	// Отклонённый ордер: прибыль остаётся неизвестной
	rejected := order(user.ID, 0, "50")
	must(logger, st.CreateOrder(ctx, rejected))
	must(logger, st.RejectOrder(ctx, rejected.ID))

	logger.Info("✅ Demo data seeded",
		slog.Int64("user_id", user.ID),
		slog.String("username", "demo"))
}

func order(userID, mentorID int64, amount string) models.Order {
	return models.Order{
		ID:             uuid.NewString(),
		UserID:         userID,
		MentorID:       mentorID,
		Amount:         dec(amount),
		CommissionRate: dec("10"),
		CreatedAt:      time.Now().UTC(),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func must(logger *slog.Logger, err error) {
	if err != nil {
		logger.Error("Seed step failed", slog.Any("error", err))
		os.Exit(1)
	}
}
