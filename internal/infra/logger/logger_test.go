package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, zerolog.InfoLevel, false)

	log.Debug().Msg("hidden")
	log.Info().Str("session_id", "S1").Msg("enqueued")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "S1", entry["session_id"])
	assert.Equal(t, "enqueued", entry["message"])
	assert.NotContains(t, entry, "caller")
}

func TestNew_DebugAddsCaller(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, zerolog.DebugLevel, false)
	log.Debug().Msg("trace")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Contains(t, entry, "caller")
}

func TestInit_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")

	closer, err := Init(Config{Output: path, Level: "info"})
	require.NoError(t, err)
	require.NotNil(t, closer)
	require.NoError(t, closer.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestInit_Stdout(t *testing.T) {
	closer, err := Init(Config{Output: "stdout"})
	require.NoError(t, err)
	assert.Nil(t, closer)
}
