package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	logger, err := New("debug", "json")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = New("warn", "console")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestNew_InvalidInputs(t *testing.T) {
	_, err := New("loud", "json")
	require.Error(t, err)

	_, err = New("info", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format")
}

func TestTestLogger(t *testing.T) {
	tl := NewTestLogger()
	tl.Info("delegation started")
	tl.AssertLogged(t, zapcore.InfoLevel, "delegation started")
	assert.Len(t, tl.All(), 1)
}
