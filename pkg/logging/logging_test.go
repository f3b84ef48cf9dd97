package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func TestInit_JSONWhenNotATerminal(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })
	var buf bytes.Buffer
	require.NoError(t, Init("warn", FormatAuto, &buf))

	log.Info().Msg("dropped")
	log.Warn().Str("component", "relay").Msg("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "kept", line["message"])
	require.Equal(t, "relay", line["component"])
}

func TestInit_ConsoleFormat(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })
	var buf bytes.Buffer
	require.NoError(t, Init("info", FormatConsole, &buf))
	log.Info().Msg("hello console")
	require.Contains(t, buf.String(), "hello console")
	require.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestInit_RejectsBadValues(t *testing.T) {
	require.Error(t, Init("loud", FormatJSON, &bytes.Buffer{}))
	require.Error(t, Init("info", "xml", &bytes.Buffer{}))
}
