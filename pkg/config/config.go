package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "TWIGO_"

// Auth modes
const (
	AuthOAuth1 = "oauth1"
	AuthOAuth2 = "oauth2"
	AuthBearer = "bearer"
)

// Config holds all configuration options for the client
type Config struct {
	API       APIConfig       `yaml:"api" json:"api"`
	Auth      AuthConfig      `yaml:"auth" json:"auth"`
	Stream    StreamConfig    `yaml:"stream" json:"stream"`
	Retry     RetryConfig     `yaml:"retry" json:"retry"`
	Upload    UploadConfig    `yaml:"upload" json:"upload"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	HTTP      HTTPConfig      `yaml:"http" json:"http"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// APIConfig controls how endpoint URLs are built
type APIConfig struct {
	// BaseTemplate contains {api} and {version} placeholders
	BaseTemplate string `yaml:"base_template" json:"base_template"`
	Version      string `yaml:"version" json:"version"`
	Suffix       string `yaml:"suffix" json:"suffix"`
}

// AuthConfig holds application and user credentials
type AuthConfig struct {
	Mode              string `yaml:"mode" json:"mode"`
	ConsumerKey       string `yaml:"consumer_key" json:"consumer_key"`
	ConsumerSecret    string `yaml:"consumer_secret" json:"consumer_secret"`
	AccessToken       string `yaml:"access_token" json:"access_token"`
	AccessTokenSecret string `yaml:"access_token_secret" json:"access_token_secret"`
	BearerToken       string `yaml:"bearer_token" json:"bearer_token"`
	TokenURL          string `yaml:"token_url" json:"token_url"`
	// Account names stored credentials to use instead of the fields above
	Account string `yaml:"account" json:"account"`
}

// StreamConfig holds the timeouts and backoff of streaming connections
type StreamConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout"`

	DisconnectionStep time.Duration `yaml:"disconnection_step" json:"disconnection_step"`
	DisconnectionMax  time.Duration `yaml:"disconnection_max" json:"disconnection_max"`
	ReconnectionBase  time.Duration `yaml:"reconnection_base" json:"reconnection_base"`
	ReconnectionMax   time.Duration `yaml:"reconnection_max" json:"reconnection_max"`
	CalmBase          time.Duration `yaml:"calm_base" json:"calm_base"`
}

// RetryConfig holds the parameters of the default retry policies
type RetryConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay    time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
	JitterFactor float64       `yaml:"jitter_factor" json:"jitter_factor"`
	ResetPadding time.Duration `yaml:"reset_padding" json:"reset_padding"`
}

// UploadConfig holds media upload settings
type UploadConfig struct {
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// SizeLimit is the largest media sent in a single request
	SizeLimit    int64 `yaml:"size_limit" json:"size_limit"`
	ForceChunked bool  `yaml:"force_chunked" json:"force_chunked"`
}

// RateLimitConfig paces outgoing requests
type RateLimitConfig struct {
	// Strategy is "token_bucket" or "sliding_window"
	Strategy          string `yaml:"strategy" json:"strategy"`
	RequestsPerMinute int    `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int    `yaml:"burst_size" json:"burst_size"`
}

// HTTPConfig holds transport settings
type HTTPConfig struct {
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
	// Pretty selects the colored console writer
	Pretty bool `yaml:"pretty" json:"pretty"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseTemplate: "https://{api}.twitter.com/{version}",
			Version:      "1.1",
			Suffix:       ".json",
		},
		Auth: AuthConfig{
			Mode:     AuthOAuth1,
			TokenURL: "https://api.twitter.com/oauth2/token",
		},
		Stream: StreamConfig{
			ConnectTimeout:    10 * time.Second,
			ReadTimeout:       90 * time.Second,
			DisconnectionStep: 250 * time.Millisecond,
			DisconnectionMax:  16 * time.Second,
			ReconnectionBase:  5 * time.Second,
			ReconnectionMax:   320 * time.Second,
			CalmBase:          60 * time.Second,
		},
		Retry: RetryConfig{
			Enabled:      true,
			MaxAttempts:  3,
			BaseDelay:    1 * time.Second,
			MaxDelay:     60 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
			ResetPadding: 1 * time.Second,
		},
		Upload: UploadConfig{
			ChunkSize:    1 << 20,
			SizeLimit:    3 << 20,
			ForceChunked: false,
		},
		RateLimit: RateLimitConfig{
			Strategy:          "token_bucket",
			RequestsPerMinute: 0, // 0 disables pacing
			BurstSize:         10,
		},
		HTTP: HTTPConfig{
			Timeout:   30 * time.Second,
			UserAgent: "twigo/1.0",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

func env(name string) string {
	return os.Getenv(EnvPrefix + name)
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	setString := func(name string, dst *string) {
		if v := env(name); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v := env(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if v := env(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	// Credentials
	setString("AUTH_MODE", &c.Auth.Mode)
	setString("CONSUMER_KEY", &c.Auth.ConsumerKey)
	setString("CONSUMER_SECRET", &c.Auth.ConsumerSecret)
	setString("ACCESS_TOKEN", &c.Auth.AccessToken)
	setString("ACCESS_TOKEN_SECRET", &c.Auth.AccessTokenSecret)
	setString("BEARER_TOKEN", &c.Auth.BearerToken)
	setString("ACCOUNT", &c.Auth.Account)

	setString("API_VERSION", &c.API.Version)
	setString("API_BASE_TEMPLATE", &c.API.BaseTemplate)

	setDuration("CONNECT_TIMEOUT", &c.Stream.ConnectTimeout)
	setDuration("READ_TIMEOUT", &c.Stream.ReadTimeout)
	setInt("MAX_RETRIES", &c.Retry.MaxAttempts)
	setInt("CHUNK_SIZE", &c.Upload.ChunkSize)
	setInt("REQUESTS_PER_MINUTE", &c.RateLimit.RequestsPerMinute)
	setString("RATE_LIMIT_STRATEGY", &c.RateLimit.Strategy)
	setDuration("HTTP_TIMEOUT", &c.HTTP.Timeout)
	setString("USER_AGENT", &c.HTTP.UserAgent)

	if v := env("RETRY_ENABLED"); v != "" {
		c.Retry.Enabled = strings.ToLower(v) == "true"
	}

	setString("LOG_LEVEL", &c.Logging.Level)
	setString("LOG_FILE", &c.Logging.File)

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".twigo.yaml",
		".twigo.yml",
		filepath.Join(home, ".config", "twigo", "config.yaml"),
		filepath.Join(home, ".config", "twigo", "config.yml"),
		filepath.Join(home, ".twigo.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if !strings.Contains(c.API.BaseTemplate, "{api}") {
		errs = append(errs, errors.New("api base template must contain {api}"))
	}

	switch c.Auth.Mode {
	case AuthOAuth1:
		if c.Auth.Account == "" && (c.Auth.ConsumerKey == "" || c.Auth.ConsumerSecret == "") {
			errs = append(errs, errors.New("oauth1 requires a consumer key and secret"))
		}
	case AuthOAuth2:
		if c.Auth.Account == "" && c.Auth.BearerToken == "" && (c.Auth.ConsumerKey == "" || c.Auth.ConsumerSecret == "") {
			errs = append(errs, errors.New("oauth2 requires a bearer token or a consumer key and secret"))
		}
	case AuthBearer:
		if c.Auth.Account == "" && c.Auth.BearerToken == "" {
			errs = append(errs, errors.New("bearer mode requires a bearer token"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auth mode %q", c.Auth.Mode))
	}

	if c.Stream.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("stream connect timeout must be positive"))
	}
	if c.Stream.ReadTimeout <= 0 {
		errs = append(errs, errors.New("stream read timeout must be positive"))
	}
	if c.Stream.DisconnectionStep <= 0 || c.Stream.ReconnectionBase <= 0 || c.Stream.CalmBase <= 0 {
		errs = append(errs, errors.New("stream backoff delays must be positive"))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry max attempts must be at least 1"))
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		errs = append(errs, errors.New("retry jitter factor must be between 0 and 1"))
	}

	if c.Upload.ChunkSize <= 0 {
		errs = append(errs, errors.New("upload chunk size must be positive"))
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests per minute cannot be negative"))
	}
	if s := c.RateLimit.Strategy; s != "" && s != "token_bucket" && s != "sliding_window" {
		errs = append(errs, fmt.Errorf("unknown rate limit strategy %q", s))
	}
	if c.RateLimit.RequestsPerMinute > 0 && c.RateLimit.BurstSize <= 0 {
		errs = append(errs, errors.New("burst size must be positive"))
	}
	if c.HTTP.Timeout < 0 {
		errs = append(errs, errors.New("http timeout cannot be negative"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if mode, ok := flags["auth-mode"].(string); ok && mode != "" {
		c.Auth.Mode = mode
	}
	if account, ok := flags["account"].(string); ok && account != "" {
		c.Auth.Account = account
	}
	if version, ok := flags["api-version"].(string); ok && version != "" {
		c.API.Version = version
	}
	if chunk, ok := flags["chunk-size"].(int); ok && chunk > 0 {
		c.Upload.ChunkSize = chunk
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence and
// validates it.
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	config, err := Read(configPath, flags)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Read is Load without validation, for callers that complete the
// configuration first, such as with stored credentials
func Read(configPath string, flags map[string]interface{}) (*Config, error) {
	// .env files are optional
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".twigo.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	return config, nil
}
