// Package gotoauth talks to the GoTo (LogMeIn) identity endpoints:
// authorize URL construction, code and refresh-token grants, and revocation.
package gotoauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/callbridge/internal/core/domain"
	"github.com/custodia-labs/callbridge/internal/core/ports/driven"
)

// Ensure Client implements the interfaces.
var (
	_ driven.TokenExchanger = (*Client)(nil)
	_ driven.TokenRevoker   = (*Client)(nil)
)

// DefaultTimeout bounds every call to the identity endpoints.
const DefaultTimeout = 15 * time.Second

// maxErrorBody caps how much of a failed response is kept for diagnostics.
const maxErrorBody = 64 << 10

// Config holds the OAuth application registration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	RevokeURL    string
	Scopes       []string
	Timeout      time.Duration
}

// Client implements TokenExchanger and TokenRevoker for GoTo.
type Client struct {
	oauth      oauth2.Config
	revokeURL  string
	httpClient *http.Client
}

// NewClient creates a GoTo identity client. Empty URLs and scopes fall back to the GoTo defaults.
func NewClient(cfg Config) *Client {
	if cfg.AuthURL == "" {
		cfg.AuthURL = domain.GoToAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = domain.GoToTokenURL
	}
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = domain.GoToRevokeURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = domain.GoToScopes()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	transport := &basicAuthTransport{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		base:         http.DefaultTransport,
	}

	return &Client{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		revokeURL:  cfg.RevokeURL,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}
}

// basicAuthTransport rewrites the Authorization header of token endpoint
// requests to base64(clientID:clientSecret). x/oauth2 URL-escapes both values
// before encoding, which changes any secret containing reserved characters.
type basicAuthTransport struct {
	tokenURL     string
	clientID     string
	clientSecret string
	base         http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.String() != t.tokenURL {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.SetBasicAuth(t.clientID, t.clientSecret)
	return t.base.RoundTrip(r)
}

// AuthCodeURL builds the authorize URL with response_type=code, client_id,
// redirect_uri, the space-joined scopes and state.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode performs the authorization_code grant.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*domain.ProviderTokenResponse, error) {
	cfg := c.oauth
	if redirectURI != "" {
		cfg.RedirectURL = redirectURI
	}

	tok, err := cfg.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, mapGrantError(err)
	}
	return toResponse(tok), nil
}

// Refresh performs the refresh_token grant.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*domain.ProviderTokenResponse, error) {
	src := c.oauth.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, mapGrantError(err)
	}
	return toResponse(tok), nil
}

// Revoke posts the token with the client credentials to the revoke endpoint.
func (c *Client) Revoke(ctx context.Context, token string) error {
	form := url.Values{
		"token":         {token},
		"client_id":     {c.oauth.ClientID},
		"client_secret": {c.oauth.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: revoke: %w", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.TokenExchangeError{Status: resp.StatusCode, Body: string(body)}
	}
	return nil
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// mapGrantError turns x/oauth2 failures into the domain error contract.
func mapGrantError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		body := string(re.Body)
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return &domain.TokenExchangeError{Status: status, Body: body}
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
	}

	// A 2xx response the library could not use, e.g. one without access_token.
	return &domain.TokenExchangeError{Status: http.StatusOK, Body: err.Error()}
}

// toResponse normalizes a token. Absence of refresh_token is taken from the
// raw response, because the refreshing TokenSource copies the old one forward.
func toResponse(tok *oauth2.Token) *domain.ProviderTokenResponse {
	resp := &domain.ProviderTokenResponse{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		ExpiresIn:   extraInt(tok, "expires_in"),
		Scope:       extraString(tok, "scope"),
		Principal:   extraString(tok, "principal"),
		LOA:         extraString(tok, "loa"),
	}
	if resp.ExpiresIn == 0 && tok.ExpiresIn > 0 {
		resp.ExpiresIn = tok.ExpiresIn
	}
	if rt := extraString(tok, "refresh_token"); rt != "" {
		resp.RefreshToken = &rt
	}
	return resp
}

func extraString(tok *oauth2.Token, key string) string {
	switch v := tok.Extra(key).(type) {
	case string:
		return v
	case nil:
	default:
		return fmt.Sprint(v)
	}
	return ""
}

func extraInt(tok *oauth2.Token, key string) int64 {
	switch v := tok.Extra(key).(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	if s := extraString(tok, key); s != "" {
		n, _ := strconv.ParseInt(s, 10, 64)
		return n
	}
	return 0
}
