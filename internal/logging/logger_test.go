package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/scenekit/internal/config"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "scenekit.log")
	logger, err := New(config.LogConfig{Level: "info", Format: "json", Output: "file", FilePath: path})
	require.NoError(t, err)

	Component(logger.Logger, "dispatch").Info().Int64("user_id", 7).Msg("hello")
	logger.Debug().Msg("filtered")
	require.NoError(t, logger.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(raw), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	require.Equal(t, "dispatch", entry["component"])
	require.Equal(t, "hello", entry["message"])
	require.EqualValues(t, 7, entry["user_id"])
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud", Output: "stderr"})
	require.Error(t, err)
}

func TestNewWriterConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, "console", zerolog.WarnLevel).Warn().Msg("careful")
	require.Contains(t, buf.String(), "careful")
	require.NotContains(t, buf.String(), "{")
}
