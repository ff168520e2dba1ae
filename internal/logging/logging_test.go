package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/fundbot/config"
)

func TestBuild_JSONToStdoutAndFile(t *testing.T) {
	var out bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "fundbot.log")

	l, err := build(config.Log{Level: "info", File: file}, &out)
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("offer created", zap.Int64("offer_id", 42))
	require.NoError(t, l.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &entry))
	assert.Equal(t, "offer created", entry["msg"])
	assert.Equal(t, float64(42), entry["offer_id"])
	assert.Contains(t, entry, "time")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"offer_id":42`)
	assert.NotContains(t, string(data), "hidden")
}

func TestBuild_BadLevel(t *testing.T) {
	_, err := build(config.Log{Level: "loud"}, &bytes.Buffer{})
	require.Error(t, err)
}
