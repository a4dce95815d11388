package auth

import (
	"os"
	"time"

	"twigo/pkg/config"
)

// EnvironmentStore reads credentials from TWIGO_* environment variables.
// It is read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func getenv(name string) string {
	return os.Getenv(config.EnvPrefix + name)
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve builds an account from the environment. The account is named
// "env" unless a name is given.
func (e *EnvironmentStore) Retrieve(name string) (*Account, error) {
	account := &Account{
		Name:              name,
		ConsumerKey:       getenv("CONSUMER_KEY"),
		ConsumerSecret:    getenv("CONSUMER_SECRET"),
		AccessToken:       getenv("ACCESS_TOKEN"),
		AccessTokenSecret: getenv("ACCESS_TOKEN_SECRET"),
		BearerToken:       getenv("BEARER_TOKEN"),
		LastModified:      time.Now(),
	}
	if account.Name == "" {
		account.Name = "env"
	}

	if account.Validate() != nil {
		return nil, ErrCredentialsNotFound
	}
	return account, nil
}

// List returns a single account if the environment holds credentials
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(name string) bool {
	_, err := e.Retrieve(name)
	return err == nil
}
