package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"twigo/pkg/auth"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage twigo configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (TWIGO_*)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file will be created in the current directory as '.twigo.yaml'
unless a different path is specified with the --config flag.`,
	RunE: runConfigInit,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show the current configuration including values from all sources.

Sensitive values like credentials are masked.`,
	RunE: runConfigShow,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

const exampleConfig = `# twigo configuration file
#
# Every option can also be set with an environment variable prefixed with
# TWIGO_, for example TWIGO_CONSUMER_KEY or TWIGO_LOG_LEVEL.

api:
  # {api} is replaced by the API name (api, upload, stream) and {version}
  # by the version below
  base_template: "https://{api}.twitter.com/{version}"
  version: "1.1"
  suffix: ".json"

auth:
  # oauth1, oauth2 or bearer
  mode: "oauth1"

  # Name of an account stored with 'twigo auth login'. When set, the keys
  # below are ignored.
  account: ""

  consumer_key: ""
  consumer_secret: ""
  access_token: ""
  access_token_secret: ""
  bearer_token: ""

  # Token endpoint for oauth2 mode
  token_url: "https://api.twitter.com/oauth2/token"

stream:
  connect_timeout: 10s
  # Keep-alives arrive every 30 seconds; a silent connection is dropped
  # after this long
  read_timeout: 90s

  # Backoff after network errors: grows linearly up to the maximum
  disconnection_step: 250ms
  disconnection_max: 16s

  # Backoff after server errors: doubles up to the maximum
  reconnection_base: 5s
  reconnection_max: 320s

  # Backoff after being rate limited: doubles without limit
  calm_base: 60s

retry:
  enabled: true
  # Attempts for service unavailable errors
  max_attempts: 3
  base_delay: 1s
  max_delay: 60s
  multiplier: 2.0
  jitter_factor: 0.1
  # Added to the rate limit reset time before retrying
  reset_padding: 1s

upload:
  # Bytes per APPEND request
  chunk_size: 1048576
  # Larger media is uploaded in chunks
  size_limit: 3145728
  force_chunked: false

rate_limit:
  # token_bucket or sliding_window
  strategy: "token_bucket"
  # 0 disables pacing
  requests_per_minute: 0
  burst_size: 10

http:
  timeout: 30s
  user_agent: "twigo/1.0"

logging:
  # debug, info, warn, error or disabled
  level: "info"
  # Log file path; logs go to stderr when empty
  file: ""
  pretty: true
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = ".twigo.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists: %s", configPath)
	}

	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	printSuccess("Configuration file created: " + configPath)
	fmt.Fprintln(stdout(), "\nNext steps:")
	fmt.Fprintln(stdout(), "1. Store your keys with 'twigo auth login' or add them to the file")
	fmt.Fprintln(stdout(), "2. Run 'twigo config validate' to check the configuration")
	fmt.Fprintln(stdout(), "3. Try 'twigo auth verify'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	display := *cfg
	masked := auth.SanitizeAccount(&auth.Account{
		ConsumerKey:       cfg.Auth.ConsumerKey,
		ConsumerSecret:    cfg.Auth.ConsumerSecret,
		AccessToken:       cfg.Auth.AccessToken,
		AccessTokenSecret: cfg.Auth.AccessTokenSecret,
		BearerToken:       cfg.Auth.BearerToken,
	})
	masked.Apply(&display.Auth)

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	printHighlight("Current Configuration")
	fmt.Fprint(stdout(), string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := resolveCredentials(cfg); err != nil {
		printWarning("Credentials", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration has errors:\n%w", err)
	}

	printSuccess("Configuration is valid")
	fmt.Fprintln(stdout(), "\nConfiguration summary:")
	fmt.Fprintf(stdout(), "  API base: %s (version %s)\n", cfg.API.BaseTemplate, cfg.API.Version)
	fmt.Fprintf(stdout(), "  Auth mode: %s\n", cfg.Auth.Mode)
	fmt.Fprintf(stdout(), "  Max retries: %d\n", cfg.Retry.MaxAttempts)
	fmt.Fprintf(stdout(), "  Rate limit: %d requests/minute\n", cfg.RateLimit.RequestsPerMinute)
	fmt.Fprintf(stdout(), "  Upload chunk size: %d bytes\n", cfg.Upload.ChunkSize)
	fmt.Fprintf(stdout(), "  Log level: %s\n", cfg.Logging.Level)
	return nil
}
