package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	errs "twigo/pkg/errors"
)

const signatureMethod = "HMAC-SHA1"

// OAuth1Signer signs requests with OAuth 1.0a HMAC-SHA1. The signature
// covers the query string, form bodies and the oauth_* parameters; JSON and
// multipart bodies are not signed.
type OAuth1Signer struct {
	ConsumerKey    string
	ConsumerSecret string
	Token          string
	TokenSecret    string
	// Callback and Verifier are only set during the token exchange
	Callback string
	Verifier string

	now   func() time.Time
	nonce func() string
}

// NewOAuth1Signer creates a signer for an application and, optionally, a
// user token
func NewOAuth1Signer(consumerKey, consumerSecret, token, tokenSecret string) *OAuth1Signer {
	return &OAuth1Signer{
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		Token:          token,
		TokenSecret:    tokenSecret,
	}
}

func (s *OAuth1Signer) timestamp() string {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	return strconv.FormatInt(now().Unix(), 10)
}

func (s *OAuth1Signer) newNonce() string {
	if s.nonce != nil {
		return s.nonce()
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Sign sets the OAuth Authorization header
func (s *OAuth1Signer) Sign(_ context.Context, req *http.Request, form url.Values) error {
	oauth := map[string]string{
		"oauth_consumer_key":     s.ConsumerKey,
		"oauth_nonce":            s.newNonce(),
		"oauth_signature_method": signatureMethod,
		"oauth_timestamp":        s.timestamp(),
		"oauth_version":          "1.0",
	}
	if s.Token != "" {
		oauth["oauth_token"] = s.Token
	}
	if s.Callback != "" {
		oauth["oauth_callback"] = s.Callback
	}
	if s.Verifier != "" {
		oauth["oauth_verifier"] = s.Verifier
	}

	params := make(url.Values)
	for k, v := range req.URL.Query() {
		params[k] = append(params[k], v...)
	}
	for k, v := range form {
		params[k] = append(params[k], v...)
	}
	for k, v := range oauth {
		params.Set(k, v)
	}

	base := signatureBase(req.Method, req.URL, params)
	oauth["oauth_signature"] = s.signature(base)

	req.Header.Set("Authorization", authorizationHeader(oauth))
	return nil
}

func (s *OAuth1Signer) signature(base string) string {
	key := percentEncode(s.ConsumerSecret) + "&" + percentEncode(s.TokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// signatureBase builds METHOD&url&params with every part percent-encoded
func signatureBase(method string, u *url.URL, params url.Values) string {
	type pair struct{ k, v string }
	pairs := make([]pair, 0, len(params))
	for k, vs := range params {
		for _, v := range vs {
			pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	encoded := make([]string, len(pairs))
	for i, p := range pairs {
		encoded[i] = p.k + "=" + p.v
	}

	return strings.ToUpper(method) + "&" +
		percentEncode(baseStringURI(u)) + "&" +
		percentEncode(strings.Join(encoded, "&"))
}

// baseStringURI is the URL without query or fragment, with a lowercase
// scheme and host and no default port
func baseStringURI(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		host += ":" + port
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

func authorizationHeader(oauth map[string]string) string {
	keys := make([]string, 0, len(oauth))
	for k := range oauth {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf(`%s="%s"`, percentEncode(k), percentEncode(oauth[k]))
	}
	return "OAuth " + strings.Join(parts, ", ")
}

// percentEncode encodes s per RFC 3986, leaving only unreserved characters
func percentEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// TokenCredentials is a token pair returned by the token exchange
type TokenCredentials struct {
	Token  string
	Secret string
	// Extra holds the other response fields, such as user_id and
	// screen_name
	Extra url.Values
}

// RequestToken obtains a temporary token for the authorization step.
// callback may be "oob" for PIN based authorization.
func RequestToken(ctx context.Context, client *http.Client, endpoint, consumerKey, consumerSecret, callback string) (*TokenCredentials, error) {
	s := NewOAuth1Signer(consumerKey, consumerSecret, "", "")
	s.Callback = callback
	return exchangeToken(ctx, client, endpoint, s)
}

// AccessToken exchanges an authorized request token and its verifier for a
// user access token
func AccessToken(ctx context.Context, client *http.Client, endpoint, consumerKey, consumerSecret string, request *TokenCredentials, verifier string) (*TokenCredentials, error) {
	s := NewOAuth1Signer(consumerKey, consumerSecret, request.Token, request.Secret)
	s.Verifier = verifier
	return exchangeToken(ctx, client, endpoint, s)
}

// AuthorizeURL is the page where a user approves a request token
func AuthorizeURL(endpoint string, request *TokenCredentials) string {
	return endpoint + "?oauth_token=" + url.QueryEscape(request.Token)
}

func exchangeToken(ctx context.Context, client *http.Client, endpoint string, s *OAuth1Signer) (*TokenCredentials, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	if err := s.Sign(ctx, req, nil); err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errs.FromError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.FromResponse(resp)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, errs.FromError(err)
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, errs.NewDecodeError(body, err)
	}

	creds := &TokenCredentials{
		Token:  values.Get("oauth_token"),
		Secret: values.Get("oauth_token_secret"),
	}
	if creds.Token == "" || creds.Secret == "" {
		return nil, errs.NewDecodeError(body, fmt.Errorf("token response is missing oauth_token"))
	}
	values.Del("oauth_token")
	values.Del("oauth_token_secret")
	creds.Extra = values
	return creds, nil
}
