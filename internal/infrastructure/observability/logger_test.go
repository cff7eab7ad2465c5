package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLogLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel("nonsense"))
}

func TestInitLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(InitLogger("info", "json", &buf), "webhook")

	logger.Debug().Msg("hidden")
	logger.Info().Int64("tenant", 12).Msg("event applied")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "event applied", line["message"])
	assert.Equal(t, "webhook", line["component"])
	assert.EqualValues(t, 12, line["tenant"])
	assert.NotContains(t, buf.String(), "hidden")
}
