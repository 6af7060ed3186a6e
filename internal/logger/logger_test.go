package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentField(t *testing.T) {
	t.Setenv("APP_ENV", "")
	var buf bytes.Buffer
	l := Component(NewWithWriter(Config{Level: "debug", Format: "json"}, &buf), "planner")
	l.Info().Str("appliance", "AC_Power").Msg("planned")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "planner", entry["component"])
	assert.Equal(t, "AC_Power", entry["appliance"])
	assert.Equal(t, "info", entry["level"])
}

func TestLevelFiltering(t *testing.T) {
	t.Setenv("APP_ENV", "")
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "warn", Format: "json"}, &buf)
	l.Info().Msg("hidden")
	assert.Zero(t, buf.Len())
	l.Warn().Msg("shown")
	assert.NotZero(t, buf.Len())
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	t.Setenv("APP_ENV", "")
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "loud"}, &buf)
	l.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())
	l.Info().Msg("shown")
	assert.NotZero(t, buf.Len())
}

func TestDevConsole(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	var buf bytes.Buffer
	l := NewWithWriter(Config{Format: "json"}, &buf)
	l.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}
