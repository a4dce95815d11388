package logger

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twigo/pkg/config"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &entry))
		out = append(out, entry)
	}
	return out
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{"info level", &config.LoggingConfig{Level: "info"}, false},
		{"pretty console", &config.LoggingConfig{Level: "debug", Pretty: true}, false},
		{"invalid level", &config.LoggingConfig{Level: "invalid"}, true},
		{"file output", &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "twigo.log")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"DEBUG", zerolog.DebugLevel, false},
		{"info", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"loud", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.WarnLevel)

	l.Debug("hidden")
	l.Info("hidden too")
	l.Warn("shown")
	l.Error("shown too")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "shown", lines[0]["message"])
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "twigo", lines[0]["app"])
}

func TestFieldsAndChaining(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.DebugLevel)

	l.WithField("component", "stream").
		WithFields(map[string]interface{}{"state": "reconnection", "attempt": 3}).
		WithError(errors.New("connection reset")).
		InfoWithFields("reconnecting", map[string]interface{}{"delay": 5 * time.Second})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	entry := lines[0]
	assert.Equal(t, "reconnecting", entry["message"])
	assert.Equal(t, "stream", entry["component"])
	assert.Equal(t, "reconnection", entry["state"])
	assert.Equal(t, float64(3), entry["attempt"])
	assert.Equal(t, "connection reset", entry["error"])
	assert.Equal(t, float64(5000), entry["delay"])
}

func TestWithErrorNil(t *testing.T) {
	l := NewWithWriter(&bytes.Buffer{}, zerolog.InfoLevel)
	assert.Same(t, l, l.WithError(nil))
}

func TestDerivedLoggersAreIndependent(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(&buf, zerolog.InfoLevel)
	a := base.WithField("who", "a")
	base.WithField("who", "b")

	a.Info("from a")
	base.Info("from base")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "a", lines[0]["who"])
	assert.NotContains(t, lines[1], "who")
}

func TestGlobalLogger(t *testing.T) {
	require.NoError(t, Initialize(&config.LoggingConfig{Level: "debug"}))
	assert.NotNil(t, GetLogger())

	custom := NewTestLogger()
	SetLogger(custom)
	GetLogger().Info("through global")
	assert.True(t, custom.HasMessage("through global"))
	SetLogger(nil)
	assert.NotNil(t, GetLogger())
}

func TestLogRequest(t *testing.T) {
	l := NewTestLogger()
	LogRequest(l, "GET", "https://api.twitter.com/1.1/statuses/show.json", 200, 20*time.Millisecond)
	LogRequest(l, "GET", "https://api.twitter.com/1.1/statuses/show.json", 404, 20*time.Millisecond)
	LogRequest(l, "POST", "https://api.twitter.com/1.1/statuses/update.json", 503, 20*time.Millisecond)

	assert.Len(t, l.GetMessagesByLevel("DEBUG"), 1)
	assert.Len(t, l.GetMessagesByLevel("WARN"), 2)
	assert.True(t, l.HasMessage("HTTP request server error"))
}

func TestTestLoggerCapturesDerivedFields(t *testing.T) {
	l := NewTestLogger()
	l.WithField("component", "upload").WithError(errors.New("boom")).ErrorWithFields("append failed", map[string]interface{}{"segment": 2})

	msgs := l.GetMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "ERROR", msgs[0].Level)
	assert.Equal(t, "upload", msgs[0].Fields["component"])
	assert.Equal(t, 2, msgs[0].Fields["segment"])
	assert.EqualError(t, msgs[0].Error, "boom")
	assert.True(t, l.HasMessageContaining("append"))

	l.Clear()
	assert.Empty(t, l.GetMessages())
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.WithField("a", 1).WithError(errors.New("x")).Error("nothing")
	assert.NotNil(t, l.GetZerolog())
}
