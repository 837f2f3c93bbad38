package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for raw, want := range cases {
		got, err := ParseLevel(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewWithWriter_RenamesErrorKey(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Warn("connect failed", "error", errors.New("boom"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "err=boom")
}
