package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSONWithServiceFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Environment: "production", ServiceName: "workflow-engine", Version: "1.2.3", Output: &buf})

	log.Component("approvals").Info().Str("request_id", "EXP-1").Msg("Approval request submitted")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "workflow-engine", entry["service"])
	assert.Equal(t, "1.2.3", entry["version"])
	assert.Equal(t, "approvals", entry["component"])
	assert.Equal(t, "EXP-1", entry["request_id"])
	assert.Equal(t, "info", entry["level"])
}

func TestNewDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "chatty", Environment: "production", Output: &buf})

	log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Info().Msg("shown")
	assert.NotZero(t, buf.Len())
}
