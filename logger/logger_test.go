package logger

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithOutputProd(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	var buf bytes.Buffer
	InitWithOutput("warn", "prod", &buf)

	log.Info().Msg("dropped")
	log.Warn().Str("conn_id", "c1").Msg("kept")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "c1", entry["conn_id"])
	assert.Equal(t, "skillsync", entry["service"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("nonsense"))
}
