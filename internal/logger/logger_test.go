package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-cx-pricefeed/internal/config"
)

func jsonConfig() config.LoggingConfig {
	cfg := config.DefaultConfig().Logging
	cfg.Format = "json"
	cfg.ContextFields = map[string]string{"service": "cx-pricefeed"}
	return cfg
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLoggerManager_JSONFormatting(t *testing.T) {
	var buf bytes.Buffer
	lm := NewLoggerManagerWithWriter(jsonConfig(), &buf)

	lm.GetComponentLogger("refresh").Info("run started", "records", 3)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "run started", lines[0]["msg"])
	assert.Equal(t, "refresh", lines[0]["component"])
	assert.Equal(t, "cx-pricefeed", lines[0]["service"])
	assert.Equal(t, float64(3), lines[0]["records"])
	assert.NotEmpty(t, lines[0]["time"])
}

func TestLoggerManager_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	cfg := jsonConfig()
	cfg.Level = "warn"
	lm := NewLoggerManagerWithWriter(cfg, &buf)

	log := lm.GetLogger()
	log.Info("hidden")
	log.Warn("shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "WARN", lines[0]["level"])
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("nonsense"))
}

func TestComponentLoggerCache(t *testing.T) {
	lm := NewLoggerManagerWithWriter(jsonConfig(), &bytes.Buffer{})
	a := lm.GetComponentLogger("exchange")
	b := lm.GetComponentLogger("exchange")
	assert.Same(t, a, b)
	assert.NotSame(t, a, lm.GetComponentLogger("storage"))
}

func TestContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	lm := NewLoggerManagerWithWriter(jsonConfig(), &buf)

	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithTicker(ctx, "RAT.AI1")

	assert.Equal(t, "run-1", GetRunID(ctx))
	assert.Equal(t, "RAT.AI1", GetTicker(ctx))
	assert.Empty(t, GetRunID(context.Background()))
	assert.Empty(t, ContextAttrs(context.Background()))

	lm.GetComponentLogger("refresh").With(ContextAttrs(ctx)...).Info("fetched")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "run-1", lines[0]["run_id"])
	assert.Equal(t, "RAT.AI1", lines[0]["ticker"])
	assert.Equal(t, "refresh", lines[0]["component"])
}

func TestNewRunID(t *testing.T) {
	first := NewRunID()
	_, err := uuid.Parse(first)
	require.NoError(t, err)
	assert.NotEqual(t, first, NewRunID())
}

func TestLogDuration(t *testing.T) {
	var buf bytes.Buffer
	lm := NewLoggerManagerWithWriter(jsonConfig(), &buf)
	log := lm.GetComponentLogger("refresh")

	LogDuration(context.Background(), log, slog.LevelInfo, "fetch_history", 1500*time.Millisecond, "refreshed record", "candles", 4)
	LogDuration(context.Background(), log, slog.LevelDebug, "fetch_history", time.Second, "hidden")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "refreshed record", lines[0]["msg"])
	assert.Equal(t, "fetch_history", lines[0]["operation"])
	assert.Equal(t, float64(1500*time.Millisecond), lines[0]["duration"])
	assert.Equal(t, float64(4), lines[0]["candles"])
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	lm := NewLoggerManagerWithWriter(jsonConfig(), &buf)

	LogError(lm.GetLogger(), fmt.Errorf("disk full"), "save failed", "path", "all.json")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "ERROR", lines[0]["level"])
	assert.Equal(t, "disk full", lines[0]["error"])
	assert.Equal(t, "all.json", lines[0]["path"])
}

func TestCreateWriter(t *testing.T) {
	t.Run("file output uses rotating writer", func(t *testing.T) {
		cfg := jsonConfig()
		cfg.Output = "file"
		cfg.FilePath = filepath.Join(t.TempDir(), "logs", "pricefeed.log")

		lm, err := NewLoggerManager(cfg)
		require.NoError(t, err)
		lm.GetLogger().Info("to file")
		require.NoError(t, lm.Close())
		assert.FileExists(t, cfg.FilePath)
	})

	t.Run("file output without path fails", func(t *testing.T) {
		cfg := jsonConfig()
		cfg.Output = "file"
		_, err := NewLoggerManager(cfg)
		assert.Error(t, err)
	})

	t.Run("unknown output fails", func(t *testing.T) {
		cfg := jsonConfig()
		cfg.Output = "syslog"
		_, err := NewLoggerManager(cfg)
		assert.Error(t, err)
	})
}
