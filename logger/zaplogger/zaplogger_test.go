package zaplogger_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/get-eventually/eventledger/logger"
	"github.com/get-eventually/eventledger/logger/zaplogger"
)

func TestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := zaplogger.Wrap(zap.New(core))

	l.Debug("debug", logger.With("cursor", 10))
	l.Warn("warn")
	l.Error("failed", logger.Err(errors.New("boom")))

	entries := logs.All()
	require.Len(t, entries, 3)

	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, int64(10), entries[0].ContextMap()["cursor"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[2].ContextMap()["error"])
}
