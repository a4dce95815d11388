package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Auth.ConsumerKey = "ck"
	cfg.Auth.ConsumerSecret = "cs"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "1.1", cfg.API.Version)
	assert.Equal(t, ".json", cfg.API.Suffix)
	assert.Equal(t, AuthOAuth1, cfg.Auth.Mode)

	assert.Equal(t, 10*time.Second, cfg.Stream.ConnectTimeout)
	assert.Equal(t, 90*time.Second, cfg.Stream.ReadTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Stream.DisconnectionStep)
	assert.Equal(t, 16*time.Second, cfg.Stream.DisconnectionMax)
	assert.Equal(t, 5*time.Second, cfg.Stream.ReconnectionBase)
	assert.Equal(t, 320*time.Second, cfg.Stream.ReconnectionMax)
	assert.Equal(t, 60*time.Second, cfg.Stream.CalmBase)

	assert.True(t, cfg.Retry.Enabled)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.ResetPadding)

	assert.Equal(t, 1<<20, cfg.Upload.ChunkSize)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TWIGO_CONSUMER_KEY", "env_key")
	t.Setenv("TWIGO_CONSUMER_SECRET", "env_secret")
	t.Setenv("TWIGO_ACCESS_TOKEN", "env_token")
	t.Setenv("TWIGO_ACCESS_TOKEN_SECRET", "env_token_secret")
	t.Setenv("TWIGO_READ_TIMEOUT", "2m")
	t.Setenv("TWIGO_CHUNK_SIZE", "524288")
	t.Setenv("TWIGO_RETRY_ENABLED", "false")
	t.Setenv("TWIGO_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "env_key", cfg.Auth.ConsumerKey)
	assert.Equal(t, "env_secret", cfg.Auth.ConsumerSecret)
	assert.Equal(t, "env_token", cfg.Auth.AccessToken)
	assert.Equal(t, "env_token_secret", cfg.Auth.AccessTokenSecret)
	assert.Equal(t, 2*time.Minute, cfg.Stream.ReadTimeout)
	assert.Equal(t, 524288, cfg.Upload.ChunkSize)
	assert.False(t, cfg.Retry.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvInvalidValues(t *testing.T) {
	t.Setenv("TWIGO_CHUNK_SIZE", "big")
	t.Setenv("TWIGO_CONNECT_TIMEOUT", "soon")

	cfg := DefaultConfig()
	err := cfg.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TWIGO_CHUNK_SIZE")
	assert.Contains(t, err.Error(), "TWIGO_CONNECT_TIMEOUT")
	assert.Equal(t, 1<<20, cfg.Upload.ChunkSize)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
api:
  version: "2"
auth:
  mode: bearer
  bearer_token: file_token
stream:
  read_timeout: 30s
upload:
  chunk_size: 2048
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, "2", cfg.API.Version)
	assert.Equal(t, AuthBearer, cfg.Auth.Mode)
	assert.Equal(t, "file_token", cfg.Auth.BearerToken)
	assert.Equal(t, 30*time.Second, cfg.Stream.ReadTimeout)
	assert.Equal(t, 2048, cfg.Upload.ChunkSize)
	// untouched values keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Stream.ConnectTimeout)

	assert.Error(t, cfg.LoadFromFile(filepath.Join(dir, "missing.yaml")))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing oauth1 keys", func(c *Config) { c.Auth.ConsumerKey = "" }, "consumer key"},
		{"stored account is enough", func(c *Config) {
			c.Auth.ConsumerKey, c.Auth.ConsumerSecret, c.Auth.Account = "", "", "main"
		}, ""},
		{"bearer without token", func(c *Config) { c.Auth.Mode = AuthBearer }, "bearer token"},
		{"oauth2 with keys", func(c *Config) { c.Auth.Mode = AuthOAuth2 }, ""},
		{"unknown mode", func(c *Config) { c.Auth.Mode = "basic" }, "unknown auth mode"},
		{"bad template", func(c *Config) { c.API.BaseTemplate = "https://example.com" }, "{api}"},
		{"zero read timeout", func(c *Config) { c.Stream.ReadTimeout = 0 }, "read timeout"},
		{"zero chunk", func(c *Config) { c.Upload.ChunkSize = 0 }, "chunk size"},
		{"bad jitter", func(c *Config) { c.Retry.JitterFactor = 2 }, "jitter"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := validConfig()
	cfg.Stream.CalmBase = 2 * time.Minute

	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &raw))
	assert.Contains(t, raw, "stream")

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, cfg, loaded)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
auth:
  consumer_key: file_key
  consumer_secret: file_secret
logging:
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	t.Setenv("HOME", dir)
	t.Setenv("TWIGO_CONSUMER_KEY", "env_key")

	cfg, err := Load(path, map[string]interface{}{"log-level": "error", "chunk-size": 4096})
	require.NoError(t, err)

	assert.Equal(t, "env_key", cfg.Auth.ConsumerKey)
	assert.Equal(t, "file_secret", cfg.Auth.ConsumerSecret)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, 4096, cfg.Upload.ChunkSize)
}

func TestReadSkipsValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0600))
	t.Setenv("HOME", dir)
	t.Setenv("TWIGO_CONSUMER_KEY", "")
	t.Setenv("TWIGO_CONSUMER_SECRET", "")

	cfg, err := Read(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Error(t, cfg.Validate(), "keys are missing")

	_, err = Load(path, nil)
	assert.Error(t, err)

	cfg, err = Read(path, map[string]interface{}{"account": "work"})
	require.NoError(t, err)
	assert.Equal(t, "work", cfg.Auth.Account)
	assert.NoError(t, cfg.Validate(), "a named account is resolved later")
}
