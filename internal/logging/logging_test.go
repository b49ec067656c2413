package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/omochice/chatstream/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.InitWriter(&buf, "chatstream", "debug", "json")
	require.NoError(t, err)

	logger.Debug().Str("session_id", "abc").Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "chatstream", line["app"])
	assert.Equal(t, "abc", line["session_id"])
	assert.Equal(t, "debug", line["level"])
}

func TestInitWriter_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.InitWriter(&buf, "chatstream", "warn", "json")
	require.NoError(t, err)

	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())
}

func TestInitWriter_Invalid(t *testing.T) {
	_, err := logging.InitWriter(&bytes.Buffer{}, "x", "loud", "json")
	assert.Error(t, err)

	_, err = logging.InitWriter(&bytes.Buffer{}, "x", "info", "xml")
	assert.Error(t, err)
}
