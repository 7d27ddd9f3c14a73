package config

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ADDRESS", "")
	t.Setenv("ADMIN_ADDRESS", "")
	t.Setenv("REFERENCE_TZ", "")

	cfg := Load(testLogger())

	assert.Equal(t, "0.0.0.0:8080", cfg.Address)
	assert.Equal(t, "0.0.0.0:8081", cfg.AdminAddress)
	assert.Equal(t, "Asia/Shanghai", cfg.ReferenceTZ)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ADDRESS", "127.0.0.1:9090")
	t.Setenv("REFERENCE_TZ", "Europe/Kyiv")

	cfg := Load(testLogger())

	assert.Equal(t, "127.0.0.1:9090", cfg.Address)
	assert.Equal(t, "Europe/Kyiv", cfg.ReferenceTZ)
}

func TestLocationFallback(t *testing.T) {
	cfg := &Config{ReferenceTZ: "Not/AZone"}

	loc := cfg.Location(testLogger())

	// Фиксированное смещение вместо падения
	_, offset := time.Now().In(loc).Zone()
	assert.Equal(t, 8*60*60, offset)
}
