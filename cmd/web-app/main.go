package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"copyfund/internal/api"
	"copyfund/internal/api/admin"
	"copyfund/internal/api/auth"
	"copyfund/internal/backend"
	"copyfund/internal/config"
	"copyfund/internal/session"
	"copyfund/internal/storage"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Конфигурация slog для вывода в файл и stdout
	prettyHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.Kitchen, // "3:04PM"
		AddSource:  false,
		NoColor:    false,
	})

	bootLogger := slog.New(prettyHandler)
	cfg := config.Load(bootLogger)

	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		log.Fatal("Failed to open log file:", err)
	}
	defer logFile.Close()

	fileHandler := slog.NewTextHandler(logFile, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	// Мультиплексируем логи в оба handler'а
	logger := slog.New(&multiHandler{
		handlers: []slog.Handler{prettyHandler, fileHandler},
	})

	logger.Info("=== CopyFund Web App ===")

	loc := cfg.Location(logger)

	// Инициализация БД
	st, err := storage.New(cfg.DBPath, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	// Сервис данных с фидом изменений поверх storage
	backendSvc := backend.New(st, logger)

	// Менеджер сессий агрегации: по одной живой сессии на пользователя
	sessions := session.NewManager(backendSvc, loc, logger)

	// Auth сервис: токен действителен 24 часа
	authService := auth.NewService(cfg.JWTSecret, 24*time.Hour)

	// Пользовательский API и API бэк-офиса на разных адресах
	apiHandler := api.New(st, authService, sessions, loc, logger)
	adminHandler := admin.New(st, cfg.AdminToken, logger)

	userSrv := &http.Server{
		Addr:         cfg.Address,
		Handler:      apiHandler.SetupRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	adminSrv := &http.Server{
		Addr:         cfg.AdminAddress,
		Handler:      adminHandler.SetupRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		logger.Info("🚀 User API starting...", slog.String("address", cfg.Address))

		if err := userSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("🛠  Admin API starting...", slog.String("address", cfg.AdminAddress))

		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case <-quit:
		case <-ctx.Done():
			return ctx.Err()
		}

		logger.Info("🛑 Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := errors.Join(userSrv.Shutdown(shutdownCtx), adminSrv.Shutdown(shutdownCtx))

		// Сначала гасим HTTP, потом сессии агрегации и фид
		sessions.Shutdown()
		backendSvc.Close()

		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("✅ Server stopped")
}

// multiHandler отправляет логи в несколько handlers одновременно
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}

	return false
}

func (m *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range m.handlers {
		if err := h.Handle(ctx, record); err != nil {
			return err
		}
	}

	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}

	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}

	return &multiHandler{handlers: handlers}
}
