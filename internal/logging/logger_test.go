package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		development bool
		level       string
		enabled     zapcore.Level
		disabled    zapcore.Level
	}{
		{name: "development default", development: true, enabled: zapcore.DebugLevel, disabled: zapcore.DebugLevel - 1},
		{name: "production default", enabled: zapcore.InfoLevel, disabled: zapcore.DebugLevel},
		{name: "quiet download", level: "warn", enabled: zapcore.WarnLevel, disabled: zapcore.InfoLevel},
		{name: "verbose production", level: "debug", enabled: zapcore.DebugLevel, disabled: zapcore.DebugLevel - 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			logger, err := New(tc.development, tc.level)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tc.enabled))
			assert.False(t, logger.Core().Enabled(tc.disabled))
		})
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	_, err := New(false, "loud")
	assert.ErrorContains(t, err, "parse log level")
}
