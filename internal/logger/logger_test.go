package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestNew_WritesServiceFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Service: "storefront-api", Env: "test", Level: "info", Output: &buf})

	log.Debug("hidden")
	log.Info("checkout committed", "order_id", "o-1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "checkout committed", entry["msg"])
	assert.Equal(t, "storefront-api", entry["service"])
	assert.Equal(t, "test", entry["env"])
	assert.Equal(t, "o-1", entry["order_id"])
}
