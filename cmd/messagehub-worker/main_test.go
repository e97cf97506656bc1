package main

import (
	"bytes"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"github.com/coregx/messagehub/adapters/memory"
	"github.com/coregx/messagehub/cmd/messagehub-worker/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_WiresServices(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	cfg := &config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite3", Prefix: "messagehub_"},
		Hub: config.HubConfig{
			ReplyTimeout:      time.Second,
			MaxBundleWeight:   25,
			MaxItemsPerDrawer: 100,
			CleanupRetention:  time.Hour,
			CleanupBatchSize:  10,
		},
	}

	h, err := build(cfg, db, memory.NewBus(), newLogger("error"))
	require.NoError(t, err)
	assert.NotNil(t, h.operator)
	assert.NotNil(t, h.consumer)
	assert.NotNil(t, h.cleanup)
}

func TestSlogLogger_FormatsAndFiltersLevels(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := &slogLogger{logger: slog.New(handler)}

	logger.Debugf("hidden %d", 1)
	logger.Infof("bundle %s ready", "b-1")
	logger.Errorf("failed: %v", "boom")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"bundle b-1 ready"`)
	assert.Contains(t, out, `"level":"ERROR"`)
}

func TestNewLogger_FallsBackToInfo(t *testing.T) {
	logger := newLogger("loud")
	assert.True(t, logger.logger.Enabled(t.Context(), slog.LevelInfo))
	assert.False(t, logger.logger.Enabled(t.Context(), slog.LevelDebug))
}
