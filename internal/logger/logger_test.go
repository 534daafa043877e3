package logger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sciffer/beermqtt/internal/logger"
)

func TestNew(t *testing.T) {
	t.Run("known level", func(t *testing.T) {
		log, err := logger.New("debug")
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		log, err := logger.New("chatty")
		require.NoError(t, err)
		assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
		assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	})
}

func TestContextHelpers(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := &logger.Logger{Logger: zap.New(core)}

	log.WithComponent("broker").WithHive("hive-abc123").WithOperation("ingest").Info("dropped")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "broker", entry.LoggerName)
	fields := entry.ContextMap()
	assert.Equal(t, "hive-abc123", fields["hive"])
	assert.Equal(t, "ingest", fields["operation"])
}
