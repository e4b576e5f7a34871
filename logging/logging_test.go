package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "json")

	logger.Info().Str("supplier_id", "s-1").Msg("supplier created")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "supplier created", line["message"])
	assert.Equal(t, "s-1", line["supplier_id"])
	assert.Equal(t, "info", line["level"])
}

func TestNew_ConsoleByDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "pretty")
	logger.Info().Msg("hello")

	assert.Contains(t, buf.String(), "hello")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestSetup(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	path := filepath.Join(t.TempDir(), "ledgerd.log")
	_, closer, err := Setup(Config{Level: "warn", Format: "json", Output: path})
	require.NoError(t, err)

	logger := WithComponent("reconciler")
	logger.Info().Msg("dropped")
	logger.Warn().Msg("kept")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), `"component":"reconciler"`)
	assert.Contains(t, string(data), "kept")
}

func TestSetup_BadLevel(t *testing.T) {
	_, _, err := Setup(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestSetup_StdoutCloserKeepsStream(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	_, closer, err := Setup(Config{Level: "info", Output: "stdout"})
	require.NoError(t, err)
	require.NoError(t, closer.Close())

	_, err = os.Stdout.Write(nil)
	assert.NoError(t, err, "closing the logger must not close stdout")
}

func TestSetup_FileCloserReleasesHandle(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	path := filepath.Join(t.TempDir(), "ledgerd.log")
	_, closer, err := Setup(Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	f, ok := closer.(*os.File)
	require.True(t, ok, "file output must be closable")
	require.NoError(t, closer.Close())
	assert.ErrorIs(t, f.Close(), os.ErrClosed)
}
