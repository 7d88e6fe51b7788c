package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbot/internal/config"
)

func TestJSONHandlerWritesComponent(t *testing.T) {
	t.Setenv("ORBOT_LOG_FORMAT", "")
	t.Setenv("ORBOT_LOG_LEVEL", "")

	var buf bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "debug"}, &buf)
	require.NoError(t, err)

	log.With("component", "stream").Info("connected", "rules", 2, "error", errors.New("boom"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got))
	assert.Equal(t, "info", got["level"])
	assert.Equal(t, "stream", got["component"])
	assert.Equal(t, "connected", got["msg"])

	fields := got["fields"].(map[string]any)
	assert.EqualValues(t, 2, fields["rules"])
	assert.Equal(t, "boom", fields["error"])
}

func TestLevelFiltering(t *testing.T) {
	t.Setenv("ORBOT_LOG_FORMAT", "")
	t.Setenv("ORBOT_LOG_LEVEL", "warn")

	var buf bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "debug"}, &buf)
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestTextFormat(t *testing.T) {
	t.Setenv("ORBOT_LOG_FORMAT", "")
	t.Setenv("ORBOT_LOG_LEVEL", "")

	var buf bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{}, &buf)
	require.NoError(t, err)

	log.Info("hello", "who", "world")
	assert.True(t, strings.Contains(buf.String(), "hello"))
}

func TestRejectsUnknownSettings(t *testing.T) {
	t.Setenv("ORBOT_LOG_FORMAT", "")
	t.Setenv("ORBOT_LOG_LEVEL", "")

	_, err := newWithWriter(config.LoggingConfig{Format: "xml"}, &bytes.Buffer{})
	require.Error(t, err)

	_, err = newWithWriter(config.LoggingConfig{Level: "loud"}, &bytes.Buffer{})
	require.Error(t, err)
}
