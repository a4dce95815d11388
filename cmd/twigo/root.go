package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"twigo/pkg/auth"
	"twigo/pkg/client"
	"twigo/pkg/config"
	"twigo/pkg/logger"
)

var (
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile  string
	logLevel    string
	accountName string
	authMode    string
	noColor     bool
	quiet       bool
)

var rootCmd = &cobra.Command{
	Use:   "twigo",
	Short: "Command-line client for the REST, streaming and upload APIs",
	Long: `twigo talks to the REST, streaming and upload APIs.

Features:
  - OAuth1, OAuth2 application-only and bearer token authentication
  - Credentials stored in the system keychain or an encrypted file
  - Long-lived streams that reconnect on their own
  - Chunked media uploads with processing status polling
  - Automatic retry on rate limits and server errors`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError("Error", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is .twigo.yaml or ~/.config/twigo/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&accountName, "account", "a", "", "use a stored account")
	rootCmd.PersistentFlags().StringVar(&authMode, "auth-mode", "", "authentication mode (oauth1, oauth2, bearer)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors and data")

	rootCmd.SetVersionTemplate(`twigo {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig reads the configuration with the global flags applied and
// initializes the global logger. Credentials are not validated yet.
func loadConfig() (*config.Config, error) {
	flags := map[string]interface{}{
		"log-level": logLevel,
		"account":   accountName,
		"auth-mode": authMode,
	}
	cfg, err := config.Read(configFile, flags)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// resolveCredentials fills cfg.Auth from the credential stores unless the
// configuration already carries keys
func resolveCredentials(cfg *config.Config) error {
	if cfg.Auth.Account == "" && (cfg.Auth.ConsumerKey != "" || cfg.Auth.BearerToken != "") {
		logger.GetLogger().Debug("using credentials from configuration")
		return nil
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	var account *auth.Account
	if cfg.Auth.Account != "" {
		account, err = manager.Retrieve(cfg.Auth.Account)
	} else {
		account, err = manager.RetrieveDefault()
	}
	if errors.Is(err, auth.ErrCredentialsNotFound) {
		return fmt.Errorf("no credentials found; run 'twigo auth login' or set TWIGO_CONSUMER_KEY and TWIGO_CONSUMER_SECRET: %w", err)
	}
	if err != nil {
		return err
	}

	account.Apply(&cfg.Auth)
	if account.ConsumerKey == "" && account.BearerToken != "" {
		cfg.Auth.Mode = config.AuthBearer
	}
	logger.GetLogger().WithField("account", account.Name).Info("using stored credentials")
	return nil
}

// newClient builds a client from the configuration and stored credentials
func newClient() (*client.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := resolveCredentials(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return client.New(cfg)
}
