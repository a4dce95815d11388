package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// OAuth2Signer authorizes requests with an application-only bearer token
// obtained through the client credentials grant. The token is cached until
// it expires or is invalidated.
type OAuth2Signer struct {
	config *clientcredentials.Config
	client *http.Client

	mu     sync.Mutex
	source oauth2.TokenSource
}

// NewOAuth2Signer creates a signer fetching tokens from tokenURL
func NewOAuth2Signer(consumerKey, consumerSecret, tokenURL string, client *http.Client) *OAuth2Signer {
	return &OAuth2Signer{
		config: &clientcredentials.Config{
			ClientID:     consumerKey,
			ClientSecret: consumerSecret,
			TokenURL:     tokenURL,
		},
		client: client,
	}
}

func (s *OAuth2Signer) tokenSource() oauth2.TokenSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		ctx := context.Background()
		if s.client != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
		}
		s.source = oauth2.ReuseTokenSource(nil, s.config.TokenSource(ctx))
	}
	return s.source
}

// Sign sets the bearer Authorization header, fetching a token if needed
func (s *OAuth2Signer) Sign(_ context.Context, req *http.Request, _ url.Values) error {
	tok, err := s.tokenSource().Token()
	if err != nil {
		return fmt.Errorf("failed to obtain bearer token: %w", err)
	}
	tok.SetAuthHeader(req)
	return nil
}

// Invalidate drops the cached token
func (s *OAuth2Signer) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = nil
}
