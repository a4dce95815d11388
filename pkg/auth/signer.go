package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"twigo/pkg/config"
)

// Signer authorizes an outgoing request. form holds the form-encoded body
// parameters, which some schemes include in the signature; it is nil for
// other bodies.
type Signer interface {
	Sign(ctx context.Context, req *http.Request, form url.Values) error
}

// Invalidator is implemented by signers holding a cached token that the
// server may reject. After Invalidate the next Sign fetches a new token.
type Invalidator interface {
	Invalidate()
}

// BearerSigner sets a fixed bearer token
type BearerSigner struct {
	Token string
}

// Sign sets the Authorization header
func (b *BearerSigner) Sign(_ context.Context, req *http.Request, _ url.Values) error {
	if b.Token == "" {
		return errors.New("bearer token is empty")
	}
	req.Header.Set("Authorization", "Bearer "+b.Token)
	return nil
}

// FromConfig builds the signer selected by cfg.Mode. httpClient is used to
// fetch OAuth2 tokens and may be nil.
func FromConfig(cfg *config.AuthConfig, httpClient *http.Client) (Signer, error) {
	switch cfg.Mode {
	case config.AuthOAuth1, "":
		if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" {
			return nil, fmt.Errorf("%w: oauth1 requires a consumer key and secret", ErrInvalidCredentials)
		}
		return NewOAuth1Signer(cfg.ConsumerKey, cfg.ConsumerSecret, cfg.AccessToken, cfg.AccessTokenSecret), nil
	case config.AuthOAuth2:
		if cfg.BearerToken != "" && cfg.ConsumerKey == "" {
			return &BearerSigner{Token: cfg.BearerToken}, nil
		}
		if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" {
			return nil, fmt.Errorf("%w: oauth2 requires a consumer key and secret", ErrInvalidCredentials)
		}
		return NewOAuth2Signer(cfg.ConsumerKey, cfg.ConsumerSecret, cfg.TokenURL, httpClient), nil
	case config.AuthBearer:
		if cfg.BearerToken == "" {
			return nil, fmt.Errorf("%w: missing bearer token", ErrInvalidCredentials)
		}
		return &BearerSigner{Token: cfg.BearerToken}, nil
	}
	return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
}
