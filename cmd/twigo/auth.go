package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"twigo/pkg/api"
	"twigo/pkg/auth"
	"twigo/pkg/config"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage API credentials",
	Long: `Manage stored API credentials securely.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (read only)

Never share your credentials or config files!`,
}

var loginCmd = &cobra.Command{
	Use:   "login [name]",
	Short: "Store API keys securely",
	Long: `Store API keys under a name in the system keychain or an encrypted file.

You will be prompted for:
  - Account name (if not provided)
  - API key and API key secret
  - Access token and secret (optional, press Enter to skip)
  - Bearer token (optional, press Enter to skip)`,
	Example: `  # Interactive login
  twigo auth login

  # Login under a name
  twigo auth login work`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout <name>",
	Short: "Remove stored credentials",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogout,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored accounts",
	Long:  `List all stored accounts with masked credential values.`,
	RunE:  runList,
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Show how to obtain API keys",
	Run: func(cmd *cobra.Command, args []string) {
		auth.ShowSetupGuide(stdout())
	},
}

var pinCmd = &cobra.Command{
	Use:   "pin [name]",
	Short: "Authorize a user with a PIN and store the access token",
	Long: `Run the PIN based authorization for the stored API keys of an account.

A request token is obtained, you open the printed URL and approve the
application, then enter the PIN shown. The resulting access token and
secret are stored with the account.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPin,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the credentials against the API",
	RunE:  runVerify,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)
	authCmd.AddCommand(setupCmd)
	authCmd.AddCommand(pinCmd)
	authCmd.AddCommand(verifyCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	var name string
	if len(args) > 0 {
		name = args[0]
	}

	reader := bufio.NewReader(os.Stdin)

	if name == "" {
		fmt.Print("Account name: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read account name: %w", err)
		}
		name = strings.TrimSpace(input)
	}
	if name == "" {
		return fmt.Errorf("account name is required")
	}

	if existing, _ := manager.Retrieve(name); existing != nil {
		fmt.Printf("Account '%s' already exists. Update credentials? (y/N): ", name)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Println("\nEnter your keys (they will be hidden as you type):")
	account := &auth.Account{Name: name, LastModified: time.Now()}
	prompts := []struct {
		label string
		dst   *string
	}{
		{"API key", &account.ConsumerKey},
		{"API key secret", &account.ConsumerSecret},
		{"Access token (optional)", &account.AccessToken},
		{"Access token secret (optional)", &account.AccessTokenSecret},
		{"Bearer token (optional)", &account.BearerToken},
	}
	for _, p := range prompts {
		fmt.Printf("%s: ", p.label)
		value, err := readPassword(reader)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", strings.ToLower(p.label), err)
		}
		*p.dst = value
	}

	if err := account.Validate(); err != nil {
		return err
	}

	if err := manager.Store(account); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	printSuccess("Account saved: " + name)
	if account.AccessToken == "" && account.ConsumerKey != "" {
		fmt.Println("\nNo access token was given. To act as a user, run:")
		fmt.Printf("  twigo auth pin %s\n", name)
	}
	fmt.Println("\nUse this account with:")
	fmt.Printf("  twigo --account %s timeline\n", name)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	if err := manager.Delete(args[0]); err != nil {
		return fmt.Errorf("failed to remove account: %w", err)
	}
	printSuccess("Account removed: " + args[0])
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	accounts, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(accounts) == 0 {
		printInfo("No stored accounts", "Use 'twigo auth login' to add an account")
		return nil
	}

	printHighlight("Stored Accounts")
	for i, account := range accounts {
		sanitized := auth.SanitizeAccount(account)
		fmt.Fprintf(stdout(), "%d. %s\n", i+1, sanitized.Name)
		fmt.Fprintf(stdout(), "   API key: %s\n", sanitized.ConsumerKey)
		if sanitized.AccessToken != "" {
			fmt.Fprintf(stdout(), "   Access token: %s\n", sanitized.AccessToken)
		}
		if sanitized.BearerToken != "" {
			fmt.Fprintf(stdout(), "   Bearer token: %s\n", sanitized.BearerToken)
		}
		fmt.Fprintf(stdout(), "   Last modified: %s\n", sanitized.LastModified.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// oauthEndpoint returns the URL of an OAuth1 endpoint of the REST API host
func oauthEndpoint(cfg *config.Config, name string) string {
	base := api.BaseURL(cfg.API.BaseTemplate, "api", cfg.API.Version)
	base = strings.TrimSuffix(strings.TrimRight(base, "/"), "/"+cfg.API.Version)
	return base + "/oauth/" + name
}

func runPin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) > 0 {
		cfg.Auth.Account = args[0]
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
	if err != nil {
		return err
	}
	if account.ConsumerKey == "" || account.ConsumerSecret == "" {
		return fmt.Errorf("account %s has no API key and secret", account.Name)
	}

	ctx := cmd.Context()
	request, err := auth.RequestToken(ctx, nil, oauthEndpoint(cfg, "request_token"), account.ConsumerKey, account.ConsumerSecret, "oob")
	if err != nil {
		return fmt.Errorf("failed to obtain a request token: %w", err)
	}

	fmt.Println("Open this URL, approve the application and copy the PIN:")
	fmt.Printf("\n  %s\n\n", auth.AuthorizeURL(oauthEndpoint(cfg, "authorize"), request))
	fmt.Print("PIN: ")
	pin, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read PIN: %w", err)
	}

	access, err := auth.AccessToken(ctx, nil, oauthEndpoint(cfg, "access_token"), account.ConsumerKey, account.ConsumerSecret, request, strings.TrimSpace(pin))
	if err != nil {
		return fmt.Errorf("failed to obtain an access token: %w", err)
	}

	account.AccessToken = access.Token
	account.AccessTokenSecret = access.Secret
	account.LastModified = time.Now()
	if err := manager.Store(account); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	user := access.Extra.Get("screen_name")
	if user == "" {
		user = account.Name
	}
	printSuccess("Authorized as " + user)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if c.Config().Auth.Mode != config.AuthOAuth1 {
		printWarning("Application-only credentials cannot be verified against a user")
		return nil
	}

	resp, err := c.Get(cmd.Context(), c.API("api").Join("account", "verify_credentials"), api.Args{"skip_status": true})
	if err != nil {
		return err
	}
	name, _ := api.String(resp.Object()["screen_name"])
	printSuccess("Credentials are valid for @" + name)
	return nil
}

// readPassword reads a secret from stdin without echoing
func readPassword(reader *bufio.Reader) (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(password)), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
