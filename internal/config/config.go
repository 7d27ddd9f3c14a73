// Package config загружает конфигурацию приложения
package config

import (
	"log/slog"
	"os"
	"time"
)

// Config содержит конфигурацию приложения
type Config struct {
	Address      string // Address пользовательского API (e.g. 0.0.0.0:8080)
	AdminAddress string // Address API бэк-офиса (e.g. 0.0.0.0:8081)
	DBPath       string
	JWTSecret    string
	AdminToken   string // Статический токен бэк-офиса
	ReferenceTZ  string // Опорная таймзона дневных окон агрегации
	LogFile      string
}

// Load загружает конфигурацию из переменных окружения
func Load(logger *slog.Logger) *Config {
	address := os.Getenv("ADDRESS")
	if address == "" {
		address = "0.0.0.0:8080"
	}

	adminAddress := os.Getenv("ADMIN_ADDRESS")
	if adminAddress == "" {
		adminAddress = "0.0.0.0:8081"
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./copyfund.db"
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "default-secret-change-me-in-production"

		logger.Warn("⚠️  JWT_SECRET not set, using default (insecure!)")
	}

	adminToken := os.Getenv("ADMIN_TOKEN")
	if adminToken == "" {
		adminToken = "admin-token-change-me"

		logger.Warn("⚠️  ADMIN_TOKEN not set, using default (insecure!)")
	}

	tz := os.Getenv("REFERENCE_TZ")
	if tz == "" {
		tz = "Asia/Shanghai"
	}

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "./copyfund.log"
	}

	logger.Info("📅 Reference timezone", slog.String("tz", tz))

	return &Config{
		Address:      address,
		AdminAddress: adminAddress,
		DBPath:       dbPath,
		JWTSecret:    jwtSecret,
		AdminToken:   adminToken,
		ReferenceTZ:  tz,
		LogFile:      logFile,
	}
}

// Location возвращает опорную таймзону. При недоступной базе таймзон
// деградирует до фиксированного смещения UTC+8, а не падает.
func (c *Config) Location(logger *slog.Logger) *time.Location {
	loc, err := time.LoadLocation(c.ReferenceTZ)
	if err != nil {
		logger.Warn("⚠️  Failed to load reference timezone, falling back to UTC+8",
			slog.String("tz", c.ReferenceTZ),
			slog.Any("error", err))
		return time.FixedZone("UTC+8", 8*60*60)
	}

	return loc
}
